package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/factors"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
	pkghttp "github.com/treyhollis/factorgate/pkg/http"
)

// FactorHandler handles factor lifecycle and verification HTTP requests
type FactorHandler struct {
	registry   *factors.Registry
	svc        *services.FactorService
	audit      *services.AuditService
	challenges *auth.ChallengeManager
	sessions   *session.Store
	expiry     time.Duration
	ipConfig   *pkghttp.IPConfig
	logger     *slog.Logger
}

// NewFactorHandler creates a new factor handler
func NewFactorHandler(
	registry *factors.Registry,
	svc *services.FactorService,
	audit *services.AuditService,
	challenges *auth.ChallengeManager,
	sessions *session.Store,
	expiry time.Duration,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *FactorHandler {
	return &FactorHandler{
		registry:   registry,
		svc:        svc,
		audit:      audit,
		challenges: challenges,
		sessions:   sessions,
		expiry:     expiry,
		ipConfig:   ipConfig,
		logger:     logger,
	}
}

// IssueChallenge handles POST /challenge. The upstream authentication
// service calls this after its first stage succeeds; the returned token
// scopes every factor operation to one user and session.
func (h *FactorHandler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req IssueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token, err := h.challenges.Issue(req.UserID, req.SessionID)
	if err != nil {
		h.logger.Error("failed to issue challenge", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Challenge issuance failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, IssueChallengeResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.expiry),
	})
}

// EnrollTOTP handles POST /factors/totp/enroll
func (h *FactorHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EnrollTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	totpFactor, ok := h.verifier(factors.TypeTOTP)
	if !ok || !totpFactor.Enabled() {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}
	tf, ok := totpFactor.(*factors.TOTPFactor)
	if !ok {
		pkghttp.WriteInternalError(w, "Enrollment failed")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	recordID, qr, err := tf.BeginEnrollment(r.Context(), cc.UserID, req.Label, req.AccountName, clientIP, bag)
	if err != nil {
		h.logger.Error("failed to begin enrollment",
			slog.String("user_id", cc.UserID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Enrollment failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EnrollTOTPResponse{RecordID: recordID, QRCode: qr})
}

// VerifyTOTP handles POST /factors/totp/verify
func (h *FactorHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	h.verifyCode(w, r, factors.TypeTOTP)
}

// VerifyRecovery handles POST /factors/recovery/verify
func (h *FactorHandler) VerifyRecovery(w http.ResponseWriter, r *http.Request) {
	h.verifyCode(w, r, factors.TypeRecovery)
}

// verifyCode runs one verification attempt for an input factor. Post-attempt
// processing always runs: a PASS persists last-verified and resets the
// counter, and temporary secrets are cleared either way.
func (h *FactorHandler) verifyCode(w http.ResponseWriter, r *http.Request, factorType string) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	f, ok := h.verifier(factorType)
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}
	if !f.Enabled() {
		pkghttp.WriteForbidden(w, "Factor type is disabled")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)
	verified, err := f.Verify(r.Context(), cc.UserID, req.Code, bag)
	h.svc.PostPassState(r.Context(), f, cc.UserID, bag)

	if err != nil {
		if errors.Is(err, models.ErrFactorLocked) {
			pkghttp.WriteLocked(w, "Factor is locked")
			return
		}
		h.logger.Error("verification attempt failed",
			slog.String("factor_type", factorType),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Verification failed")
		return
	}

	resp := VerifyCodeResponse{
		Verified: verified,
		State:    session.ReadState(bag, factorType),
	}
	if !verified && f.Lockable() {
		resp.RemainingAttempts = h.svc.RemainingAttempts(r.Context(), f, cc.UserID)
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// GenerateRecoveryCodes handles POST /factors/recovery/codes
func (h *FactorHandler) GenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	f, ok := h.registry.Get(factors.TypeRecovery)
	if !ok || !f.Enabled() {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}
	rf, ok := f.(*factors.RecoveryFactor)
	if !ok {
		pkghttp.WriteInternalError(w, "Code generation failed")
		return
	}

	codes, err := rf.GenerateCodes(r.Context(), cc.UserID)
	if err != nil {
		h.logger.Error("failed to generate recovery codes",
			slog.String("user_id", cc.UserID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Code generation failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, GenerateRecoveryCodesResponse{Codes: codes})
}

// TrustDevice handles POST /factors/device/trust
func (h *FactorHandler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req TrustDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	df, ok := h.deviceFactor()
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}

	if err := df.TrustDevice(r.Context(), cc.UserID, req.Fingerprint); err != nil {
		h.logger.Error("failed to trust device",
			slog.String("user_id", cc.UserID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Trust failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EvaluateDevice handles POST /factors/device/evaluate
func (h *FactorHandler) EvaluateDevice(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EvaluateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	df, ok := h.deviceFactor()
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)
	state := df.Evaluate(r.Context(), cc.UserID, req.Fingerprint, bag)
	pkghttp.WriteJSON(w, http.StatusOK, EvaluateResponse{State: state})
}

// EvaluateIPCheck handles POST /factors/ipcheck/evaluate. The judged
// address is the extracted client IP, never a client-supplied value.
func (h *FactorHandler) EvaluateIPCheck(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	f, ok := h.registry.Get(factors.TypeIPCheck)
	if !ok || !f.Enabled() {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}
	ipf, ok := f.(*factors.IPCheckFactor)
	if !ok {
		pkghttp.WriteInternalError(w, "Evaluation failed")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	state := ipf.Evaluate(r.Context(), cc.UserID, clientIP, bag)
	pkghttp.WriteJSON(w, http.StatusOK, EvaluateResponse{State: state})
}

// Status handles GET /factors/status
func (h *FactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)

	statuses := make([]FactorStatus, 0, len(h.registry.Types()))
	for _, factorType := range h.registry.Types() {
		f, _ := h.registry.Get(factorType)

		lock := h.svc.LoadLockedState(r.Context(), f, cc.UserID, bag)
		status := FactorStatus{
			FactorType:     factorType,
			Enabled:        f.Enabled(),
			Weight:         f.Weight(),
			State:          session.ReadState(bag, factorType),
			PossibleStates: f.PossibleStates(r.Context(), cc.UserID, bag),
			Locked:         lock.Locked,
		}
		if f.Enabled() && f.Lockable() {
			remaining := h.svc.RemainingAttempts(r.Context(), f, cc.UserID)
			status.RemainingAttempts = &remaining
		}
		statuses = append(statuses, status)
	}

	pkghttp.WriteJSON(w, http.StatusOK, StatusResponse{Factors: statuses})
}

// Cancel handles POST /factors/{factorType}/cancel
func (h *FactorHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	f, ok := h.registry.Get(chi.URLParam(r, "factorType"))
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}

	bag := h.sessions.Bag(cc.SessionID)
	h.svc.ProcessCancelAction(f, bag)
	pkghttp.WriteJSON(w, http.StatusOK, CancelResponse{State: session.ReadState(bag, f.Type())})
}

// Revoke handles POST /factors/{factorType}/revoke. Without a record_id
// the whole type is revoked for the user.
func (h *FactorHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RevokeFactorRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	f, ok := h.registry.Get(chi.URLParam(r, "factorType"))
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}

	// Self-service surface: the caller is always the target, no elevation.
	revoked, err := h.svc.RevokeUserFactor(r.Context(), f, cc.UserID, cc.UserID, req.RecordID, false)
	if err != nil {
		h.logger.Error("failed to revoke factor",
			slog.String("factor_type", f.Type()),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Revocation failed")
		return
	}
	if !revoked {
		pkghttp.WriteNotFound(w, "Record not found")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokeFactorResponse{Revoked: true})
}

// DeleteFactor handles DELETE /factors/{factorType}
func (h *FactorHandler) DeleteFactor(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	f, ok := h.registry.Get(chi.URLParam(r, "factorType"))
	if !ok {
		pkghttp.WriteNotFound(w, "Factor type not available")
		return
	}

	if err := h.svc.DeleteFactorForUser(r.Context(), f, cc.UserID, cc.UserID); err != nil {
		h.logger.Error("failed to delete factor",
			slog.String("factor_type", f.Type()),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckCombination handles POST /factors/combination/check
func (h *FactorHandler) CheckCombination(w http.ResponseWriter, r *http.Request) {
	var req CheckCombinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CheckCombinationResponse{
		Allowed: h.registry.CheckCombination(req.FactorTypes),
	})
}

// AuditTrail handles GET /audit
func (h *FactorHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.audit.GetUserAuditTrail(r.Context(), cc.UserID, limit, offset)
	if err != nil {
		h.logger.Error("failed to load audit trail", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Audit trail unavailable")
		return
	}

	total, err := h.audit.GetCountForUser(r.Context(), cc.UserID)
	if err != nil {
		h.logger.Error("failed to count audit events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Audit trail unavailable")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AuditTrailResponse{
		Events: events,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// EndSession handles POST /session/end and discards the session's factor
// state and parked secrets.
func (h *FactorHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	cc := auth.GetChallengeFromContext(r)
	if cc == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	h.sessions.End(cc.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *FactorHandler) verifier(factorType string) (factors.Verifier, bool) {
	f, ok := h.registry.Get(factorType)
	if !ok {
		return nil, false
	}
	v, ok := f.(factors.Verifier)
	return v, ok
}

func (h *FactorHandler) deviceFactor() (*factors.DeviceFactor, bool) {
	f, ok := h.registry.Get(factors.TypeDevice)
	if !ok || !f.Enabled() {
		return nil, false
	}
	df, ok := f.(*factors.DeviceFactor)
	return df, ok
}
