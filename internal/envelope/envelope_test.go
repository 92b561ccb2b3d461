package envelope

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/quota"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestFromError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"validation", &ValidationError{Field: "email", Reason: "bad shape"}, CodeValidation, http.StatusBadRequest},
		{"unauthorized", &UnauthorizedError{Reason: "no credential"}, CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", &ForbiddenError{Reason: "wrong tenant"}, CodeForbidden, http.StatusForbidden},
		{"not found", &NotFoundError{Resource: "lead"}, CodeNotFound, http.StatusNotFound},
		{"plan limit", &quota.PlanLimitError{Metric: "ai_conversations", Limit: 50}, CodePlanLimit, http.StatusPaymentRequired},
		{"rate limited", &RateLimitError{Key: "signals:t1:chat"}, CodeRateLimited, http.StatusTooManyRequests},
		{"ai down", &AIUnavailableError{Reason: "timeout"}, CodeAIUnavailable, http.StatusServiceUnavailable},
		{"unknown", eris.New("exploded"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, status := FromError("req-1", tt.err)
			assert.False(t, env.OK)
			assert.Equal(t, tt.wantStatus, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Equal(t, "req-1", env.RequestID)
		})
	}
}

func TestFromError_WrappedErrorsStillMatch(t *testing.T) {
	wrapped := eris.Wrap(&RateLimitError{Key: "k"}, "pipeline: intake")
	env, status := FromError("req-1", wrapped)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, CodeRateLimited, env.Error.Code)
}

func TestFromError_InternalHidesDetail(t *testing.T) {
	env, _ := FromError("req-1", eris.New("pq: password authentication failed"))
	assert.Equal(t, "internal error", env.Error.Message, "internals never leak to callers")
}

func TestFromError_PlanLimitCarriesDetails(t *testing.T) {
	env, _ := FromError("req-1", &quota.PlanLimitError{
		Metric: "email_sends", Limit: 100, CurrentUsage: 100,
		Plan: "free", SuggestedUpgrade: "starter",
	})
	detail, ok := env.Error.Details.(*quota.PlanLimitError)
	require.True(t, ok)
	assert.Equal(t, "starter", detail.SuggestedUpgrade)
}

func TestWriteOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteOK(rec, "req-1", map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.OK)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Nil(t, env.Error)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "req-1", &ValidationError{Field: "message", Reason: "required"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeValidation, env.Error.Code)
	assert.Contains(t, env.Error.Message, "message")
}

func TestNewRequestID_Unique(t *testing.T) {
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}
