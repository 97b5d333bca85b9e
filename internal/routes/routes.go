package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/handlers"
	"github.com/treyhollis/factorgate/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	factorHandler *handlers.FactorHandler,
	challenges *auth.ChallengeManager,
) {
	verifyLimit := middleware.DefaultVerifyRateLimit()
	challengeLimit := middleware.DefaultChallengeRateLimit()

	// Challenge issuance is the entry point for the upstream auth service
	router.With(middleware.RateLimitByIP(challengeLimit)).Post("/challenge", factorHandler.IssueChallenge)

	// Combination checks are pure configuration queries
	router.Post("/factors/combination/check", factorHandler.CheckCombination)

	// Everything else requires a live challenge token
	router.Group(func(r chi.Router) {
		r.Use(auth.ChallengeMiddleware(challenges))

		r.Get("/factors/status", factorHandler.Status)
		r.Get("/audit", factorHandler.AuditTrail)

		r.Post("/factors/totp/enroll", factorHandler.EnrollTOTP)
		r.With(middleware.RateLimitByIP(verifyLimit)).Post("/factors/totp/verify", factorHandler.VerifyTOTP)

		r.Post("/factors/recovery/codes", factorHandler.GenerateRecoveryCodes)
		r.With(middleware.RateLimitByIP(verifyLimit)).Post("/factors/recovery/verify", factorHandler.VerifyRecovery)

		r.Post("/factors/device/trust", factorHandler.TrustDevice)
		r.Post("/factors/device/evaluate", factorHandler.EvaluateDevice)
		r.Post("/factors/ipcheck/evaluate", factorHandler.EvaluateIPCheck)

		r.Post("/factors/{factorType}/cancel", factorHandler.Cancel)
		r.Post("/factors/{factorType}/revoke", factorHandler.Revoke)
		r.Delete("/factors/{factorType}", factorHandler.DeleteFactor)

		r.Post("/session/end", factorHandler.EndSession)
	})
}
