package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/token-revocation/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the state of each dependency probed by the readiness endpoint.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RevokeRequest revokes a single credential. UserID and ExpiresAt fall back to the JWT claims.
type RevokeRequest struct {
	Token     string     `json:"token" binding:"required"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason"`
}

// RevokeResponse confirms a revocation.
type RevokeResponse struct {
	Revoked   bool      `json:"revoked"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckRequest asks whether a credential is revoked.
type CheckRequest struct {
	Token string `json:"token"`
}

// CheckResponse reports the revocation decision and how it was reached.
type CheckResponse struct {
	Revoked bool                `json:"revoked"`
	Outcome domain.CheckOutcome `json:"outcome"`
}

// RevokeUserRequest optionally labels a user-wide revocation.
type RevokeUserRequest struct {
	Reason string `json:"reason"`
}

// RevokeUserResponse reports how many credentials a user-wide revocation covered.
type RevokeUserResponse struct {
	UserID  string `json:"user_id"`
	Revoked int    `json:"revoked"`
}
