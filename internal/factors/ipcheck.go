package factors

import (
	"context"
	"log/slog"
	"net"

	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
)

const TypeIPCheck = "ipcheck"

// IPCheckFactor passes when the request originates from an allowed network.
// It is purely contextual: no user input, no lockout, and its real-world
// state can change between requests as the user moves networks.
type IPCheckFactor struct {
	services.BaseFactor
	allowed []*net.IPNet
	logger  *slog.Logger
}

func NewIPCheckFactor(settings config.FactorSettings, logger *slog.Logger) *IPCheckFactor {
	f := &IPCheckFactor{
		BaseFactor: services.NewBaseFactor(TypeIPCheck, settings),
		logger:     logger,
	}

	for _, cidr := range settings.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("skipping invalid CIDR in ipcheck allowlist", slog.String("cidr", cidr))
			continue
		}
		f.allowed = append(f.allowed, network)
	}

	return f
}

func (f *IPCheckFactor) HasInput() bool { return false }
func (f *IPCheckFactor) Lockable() bool { return false }

// PossibleStates is broader than the current state: the outcome varies with
// the network the next request arrives from.
func (f *IPCheckFactor) PossibleStates(ctx context.Context, userID string, bag session.Bag) []models.FactorState {
	return []models.FactorState{models.StatePass, models.StateNeutral}
}

// Evaluate writes PASS for an allowed address and NEUTRAL otherwise.
func (f *IPCheckFactor) Evaluate(ctx context.Context, userID, remoteAddr string, bag session.Bag) models.FactorState {
	state := models.StateNeutral
	if ip := net.ParseIP(remoteAddr); ip != nil {
		for _, network := range f.allowed {
			if network.Contains(ip) {
				state = models.StatePass
				break
			}
		}
	}

	session.WriteState(bag, f.Type(), state)
	return session.ReadState(bag, f.Type())
}
