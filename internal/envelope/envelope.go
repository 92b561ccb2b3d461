// Package envelope defines the uniform response shape and error taxonomy
// shared by every intake entry point.
package envelope

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/quota"
)

// Error codes carried in the envelope, mapped to HTTP statuses below.
const (
	CodeValidation    = "validation_error"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeNotFound      = "not_found"
	CodePlanLimit     = "plan_limit_exceeded"
	CodeRateLimited   = "rate_limited"
	CodeAIUnavailable = "ai_unavailable"
	CodeInternal      = "internal_error"
)

// Envelope wraps every response, success or failure. RequestID correlates
// responses with log lines.
type Envelope struct {
	OK        bool      `json:"ok"`
	Data      any       `json:"data,omitempty"`
	Error     *ErrorDoc `json:"error,omitempty"`
	RequestID string    `json:"requestId"`
}

// ErrorDoc is the wire form of a pipeline error.
type ErrorDoc struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// UnauthorizedError reports a missing or invalid credential.
type UnauthorizedError struct{ Reason string }

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.Reason }

// ForbiddenError reports a credential that lacks access to the resource.
type ForbiddenError struct{ Reason string }

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

// NotFoundError reports a missing resource.
type NotFoundError struct{ Resource string }

func (e *NotFoundError) Error() string { return "not found: " + e.Resource }

// RateLimitError reports a request denied by the abuse limiter. The caller
// should retry after the window; no state was corrupted.
type RateLimitError struct{ Key string }

func (e *RateLimitError) Error() string { return "rate limited: " + e.Key }

// AIUnavailableError reports that reply generation failed or timed out. The
// pipeline swallows it and substitutes a canned reply; it only surfaces when
// an entry point calls the generator directly.
type AIUnavailableError struct{ Reason string }

func (e *AIUnavailableError) Error() string { return "ai unavailable: " + e.Reason }

// NewRequestID returns a fresh correlation id.
func NewRequestID() string { return uuid.NewString() }

// OK builds a success envelope.
func OK(requestID string, data any) Envelope {
	return Envelope{OK: true, Data: data, RequestID: requestID}
}

// FromError classifies err into an envelope and its HTTP status.
// Unrecognized errors collapse to a generic internal error: the request id
// is the caller's handle into the logs, the message deliberately says no more.
func FromError(requestID string, err error) (Envelope, int) {
	var (
		validation *ValidationError
		unauth     *UnauthorizedError
		forbidden  *ForbiddenError
		notFound   *NotFoundError
		planLimit  *quota.PlanLimitError
		rateLimit  *RateLimitError
		aiDown     *AIUnavailableError
	)

	var doc ErrorDoc
	var status int

	switch {
	case errors.As(err, &validation):
		doc = ErrorDoc{Code: CodeValidation, Message: validation.Error(), Details: validation}
		status = http.StatusBadRequest
	case errors.As(err, &unauth):
		doc = ErrorDoc{Code: CodeUnauthorized, Message: unauth.Error()}
		status = http.StatusUnauthorized
	case errors.As(err, &forbidden):
		doc = ErrorDoc{Code: CodeForbidden, Message: forbidden.Error()}
		status = http.StatusForbidden
	case errors.As(err, &notFound):
		doc = ErrorDoc{Code: CodeNotFound, Message: notFound.Error()}
		status = http.StatusNotFound
	case errors.As(err, &planLimit):
		doc = ErrorDoc{Code: CodePlanLimit, Message: planLimit.Error(), Details: planLimit}
		status = http.StatusPaymentRequired
	case errors.As(err, &rateLimit):
		doc = ErrorDoc{Code: CodeRateLimited, Message: "too many requests, retry later"}
		status = http.StatusTooManyRequests
	case errors.As(err, &aiDown):
		doc = ErrorDoc{Code: CodeAIUnavailable, Message: "assistant temporarily unavailable"}
		status = http.StatusServiceUnavailable
	default:
		zap.L().Error("internal error", zap.String("request_id", requestID), zap.Error(err))
		doc = ErrorDoc{Code: CodeInternal, Message: "internal error"}
		status = http.StatusInternalServerError
	}

	return Envelope{OK: false, Error: &doc, RequestID: requestID}, status
}

// WriteJSON writes the envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		zap.L().Warn("envelope: encode response", zap.Error(err))
	}
}

// WriteOK writes a 200 success envelope.
func WriteOK(w http.ResponseWriter, requestID string, data any) {
	WriteJSON(w, http.StatusOK, OK(requestID, data))
}

// WriteError classifies err and writes the mapped status.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	env, status := FromError(requestID, err)
	WriteJSON(w, status, env)
}
