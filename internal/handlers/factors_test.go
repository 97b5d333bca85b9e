package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/factors"
	"github.com/treyhollis/factorgate/internal/handlers"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/routes"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
	pkghttp "github.com/treyhollis/factorgate/pkg/http"
)

const (
	testUserID    = "7b885a85-5536-4a2f-9c44-5b9a0f3a2f11"
	testSessionID = "session-abc-123"
)

type handlerFixture struct {
	router     chi.Router
	repo       *services.MockFactorRecordRepository
	auditRepo  *services.MockAuditLogRepository
	sessions   *session.Store
	challenges *auth.ChallengeManager
	token      string
}

func newHandlerFixture(t *testing.T, repo *services.MockFactorRecordRepository) *handlerFixture {
	t.Helper()

	logger := slog.Default()
	auditRepo := &services.MockAuditLogRepository{}
	audit := services.NewAuditService(auditRepo, logger)
	lockout := services.NewLockoutService(repo, &services.MockNotifier{}, logger, 3)

	sm, err := auth.NewSecretManager(bytes.Repeat([]byte("k"), 32), "factorgate-test")
	require.NoError(t, err)

	svc := services.NewFactorService(repo, lockout, sm, audit, logger)

	enabled := config.FactorSettings{Enabled: true, Weight: 1}
	registry := factors.NewRegistry(
		factors.NewTOTPFactor(enabled, sm, repo, svc, logger),
		factors.NewRecoveryFactor(enabled, sm, repo, svc, logger),
		factors.NewDeviceFactor(enabled, repo, svc, logger),
		factors.NewIPCheckFactor(config.FactorSettings{Enabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}}, logger),
	)

	challenges := auth.NewChallengeManager("test-challenge-secret", 5*time.Minute)
	sessions := session.NewStore()

	handler := handlers.NewFactorHandler(registry, svc, audit, challenges, sessions, 5*time.Minute, nil, logger)

	router := chi.NewRouter()
	routes.RegisterRoutes(router, handler, challenges)

	token, err := challenges.Issue(testUserID, testSessionID)
	require.NoError(t, err)

	return &handlerFixture{
		router:     router,
		repo:       repo,
		auditRepo:  auditRepo,
		sessions:   sessions,
		challenges: challenges,
		token:      token,
	}
}

func (f *handlerFixture) do(method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	r := httptest.NewRequest(method, path, reader)
	r.RemoteAddr = "10.1.2.3:40000"
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		r.Header.Set("Authorization", "Bearer "+f.token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func TestIssueChallenge(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/challenge", `{"user_id":"`+testUserID+`","session_id":"`+testSessionID+`"}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.IssueChallengeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	userID, sessionID, err := f.challenges.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, testUserID, userID)
	assert.Equal(t, testSessionID, sessionID)
}

func TestIssueChallenge_RejectsBadUserID(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/challenge", `{"user_id":"not-a-uuid","session_id":"`+testSessionID+`"}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerify_RequiresChallengeToken(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/totp/verify", `{"code":"123456"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestVerifyTOTP_WrongCodeReportsRemainingAttempts(t *testing.T) {
	counter := 0
	repo := &services.MockFactorRecordRepository{
		ListAllFunc: func(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error) {
			return nil, nil
		},
		MaxLockCounterFunc: func(ctx context.Context, userID, factorType string) (int, error) {
			return counter, nil
		},
		SetLockCounterFunc: func(ctx context.Context, userID, factorType string, c int) error {
			counter = c
			return nil
		},
	}
	f := newHandlerFixture(t, repo)

	w := f.do("POST", "/factors/totp/verify", `{"code":"000000"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.VerifyCodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
	assert.Equal(t, models.StateFail, resp.State)
	assert.Equal(t, 2, resp.RemainingAttempts)
}

func TestVerifyTOTP_LockedFactorReturns423(t *testing.T) {
	repo := &services.MockFactorRecordRepository{
		MaxLockCounterFunc: func(ctx context.Context, userID, factorType string) (int, error) {
			return 3, nil
		},
	}
	f := newHandlerFixture(t, repo)

	w := f.do("POST", "/factors/totp/verify", `{"code":"123456"}`, true)
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestStatus_ListsEveryFactorType(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("GET", "/factors/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Factors, 4)

	byType := make(map[string]handlers.FactorStatus, len(resp.Factors))
	for _, fs := range resp.Factors {
		byType[fs.FactorType] = fs
	}

	assert.Equal(t, models.StateUnknown, byType[factors.TypeTOTP].State)
	assert.Equal(t, 1, byType[factors.TypeTOTP].Weight)
	assert.Equal(t, 0, byType[factors.TypeIPCheck].Weight)
	assert.NotNil(t, byType[factors.TypeTOTP].RemainingAttempts)
	assert.Nil(t, byType[factors.TypeDevice].RemainingAttempts)
	assert.ElementsMatch(t,
		[]models.FactorState{models.StatePass, models.StateNeutral},
		byType[factors.TypeIPCheck].PossibleStates)
}

func TestCancel_DoesNotClearFailedState(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	// A failed attempt pins the session state for the factor
	w := f.do("POST", "/factors/totp/verify", `{"code":"000000"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/factors/totp/cancel", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StateFail, resp.State)
}

func TestCancel_ResetsFreshFactor(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/device/cancel", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.CancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StateNeutral, resp.State)
}

func TestRevoke_UnknownFactorType(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/smartcard/revoke", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevoke_WholeTypeEmitsAudit(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/totp/revoke", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.RevokeFactorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Revoked)

	require.Len(t, f.auditRepo.Created, 1)
	assert.Equal(t, models.AuditEventFactorRevoke, f.auditRepo.Created[0].EventType)
}

func TestCheckCombination(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/combination/check", `{"factor_types":["totp","device"]}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.CheckCombinationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)

	w = f.do("POST", "/factors/combination/check", `{"factor_types":["totp","recovery"]}`, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
}

func TestEvaluateIPCheck_UsesClientAddress(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	// Fixture requests come from 10.1.2.3, inside the allowed range
	w := f.do("POST", "/factors/ipcheck/evaluate", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.EvaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatePass, resp.State)
}

func TestEndSession_DiscardsFactorState(t *testing.T) {
	f := newHandlerFixture(t, &services.MockFactorRecordRepository{})

	w := f.do("POST", "/factors/totp/verify", `{"code":"000000"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/session/end", "", true)
	require.Equal(t, http.StatusNoContent, w.Code)

	bag := f.sessions.Bag(testSessionID)
	assert.Equal(t, models.StateUnknown, session.ReadState(bag, factors.TypeTOTP))
}
