package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Notifier delivers the one-shot, user-visible warning emitted when a
// factor crosses into the locked state.
type Notifier interface {
	NotifyLockout(ctx context.Context, userID, factorType string, threshold int) error
}

// AddressResolver maps an opaque user ID to a deliverable address.
// Identity resolution lives outside this core.
type AddressResolver func(ctx context.Context, userID string) (string, error)

// SESNotifier sends lockout warnings using AWS SES
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	resolve     AddressResolver
	logger      *slog.Logger
}

// NewSESNotifier creates a new AWS SES lockout notifier
func NewSESNotifier(region, fromAddress string, resolve AddressResolver, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		resolve:     resolve,
		logger:      logger,
	}, nil
}

// NotifyLockout sends the lockout warning email
func (n *SESNotifier) NotifyLockout(ctx context.Context, userID, factorType string, threshold int) error {
	address, err := n.resolve(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification address: %w", err)
	}

	subject := "Sign-in verification temporarily disabled"
	textBody := fmt.Sprintf(
		"Your %s verification method was disabled after %d failed attempts. "+
			"If this was not you, review your account security settings.",
		factorType, threshold,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{address},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send lockout notification: %w", err)
	}

	n.logger.Info("lockout notification sent",
		slog.String("user_id", userID),
		slog.String("factor_type", factorType),
	)

	return nil
}

// LogNotifier writes lockout warnings to the log only. Used in development
// and wherever no delivery channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyLockout(ctx context.Context, userID, factorType string, threshold int) error {
	n.logger.WarnContext(ctx, "factor locked out",
		slog.String("user_id", userID),
		slog.String("factor_type", factorType),
		slog.Int("threshold", threshold),
	)
	return nil
}
