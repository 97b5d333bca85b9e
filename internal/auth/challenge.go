package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/treyhollis/factorgate/internal/models"
)

// ChallengeClaims bind a verification flow to one user and one session.
type ChallengeClaims struct {
	Type      string `json:"typ"`
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// ChallengeManager issues the short-lived token the transport layer carries
// between verification calls, so a verify request cannot be replayed against
// another user or session.
type ChallengeManager struct {
	secret []byte
	expiry time.Duration
}

// NewChallengeManager creates a new ChallengeManager
func NewChallengeManager(secret string, expiry time.Duration) *ChallengeManager {
	return &ChallengeManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Issue creates a challenge token for (userID, sessionID)
func (cm *ChallengeManager) Issue(userID, sessionID string) (string, error) {
	now := time.Now()
	claims := &ChallengeClaims{
		Type:      "factor_challenge",
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signed, nil
}

// Verify validates a challenge token and returns the bound user and session.
func (cm *ChallengeManager) Verify(tokenString string) (string, string, error) {
	claims := &ChallengeClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cm.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", models.ErrChallengeExpired
		}
		return "", "", models.ErrUnauthorized
	}

	if !token.Valid || claims.Type != "factor_challenge" {
		return "", "", models.ErrUnauthorized
	}

	return claims.UserID, claims.SessionID, nil
}
