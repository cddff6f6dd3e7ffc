package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/infra/security"
	"github.com/arklim/token-revocation/internal/transport/http/middleware"
)

// RevocationService is the subset of the revocation service the HTTP layer drives.
type RevocationService interface {
	RevokeWithReason(ctx context.Context, token, userID string, expiresAt time.Time, reason domain.RevocationReason) error
	Check(ctx context.Context, token string) domain.CheckOutcome
	RevokeAllForUserWithReason(ctx context.Context, userID string, reason domain.RevocationReason) (int, error)
}

var revokeErrorCases = []ErrorCase{
	{Err: domain.ErrEmptyToken, Status: http.StatusBadRequest, Message: "token is required"},
	{Err: domain.ErrUnknownExpiry, Status: http.StatusBadRequest, Message: "token expiry is unknown"},
}

// RevocationHandler exposes credential revocation endpoints.
type RevocationHandler struct {
	service RevocationService
}

// NewRevocationHandler constructs a revocation handler.
func NewRevocationHandler(service RevocationService) *RevocationHandler {
	return &RevocationHandler{service: service}
}

// RegisterRoutes binds the revocation management routes to the provided router group.
func (h *RevocationHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/revocations", h.Revoke)
	r.POST("/revocations/check", h.Check)
	r.POST("/users/:user_id/revocations", h.RevokeUser)
}

// Logout godoc
// @Summary Log out the current credential
// @Description Revokes the presented bearer token until its own expiry.
// @Tags Revocations
// @Security Bearer
// @Produce json
// @Success 200 {object} RevokeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/logout [post]
func (h *RevocationHandler) Logout(c *gin.Context) {
	token, ok := middleware.GetBearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "missing access token"))
		return
	}

	claims, err := security.ParseCredentialClaims(token)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token expiry is unknown"))
		return
	}

	if err := h.service.RevokeWithReason(c.Request.Context(), token, claims.UserID, claims.ExpiresAt, domain.RevocationReasonLogout); err != nil {
		RespondWithMappedError(c, err, revokeErrorCases, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	c.JSON(http.StatusOK, RevokeResponse{
		Revoked:   true,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt,
	})
}

// Revoke godoc
// @Summary Revoke a credential
// @Description Revokes a credential. Missing user and expiry are read from the token's JWT claims.
// @Tags Revocations
// @Accept json
// @Produce json
// @Param request body RevokeRequest true "Revocation request"
// @Success 200 {object} RevokeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/revocations [post]
func (h *RevocationHandler) Revoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	reason, err := domain.ParseRevocationReason(req.Reason, domain.RevocationReasonManual)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "reason must be one of logout, security_incident, manual"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}

	if userID == "" || expiresAt.IsZero() {
		claims, claimErr := security.ParseCredentialClaims(req.Token)
		switch {
		case claimErr == nil:
			if userID == "" {
				userID = claims.UserID
			}
			if expiresAt.IsZero() {
				expiresAt = claims.ExpiresAt
			}
		case expiresAt.IsZero():
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token expiry is unknown"))
			return
		}
	}

	if err := h.service.RevokeWithReason(c.Request.Context(), req.Token, userID, expiresAt, reason); err != nil {
		RespondWithMappedError(c, err, revokeErrorCases, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	c.JSON(http.StatusOK, RevokeResponse{
		Revoked:   true,
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
}

// Check godoc
// @Summary Check a credential
// @Description Reports whether a credential is revoked. Unverifiable checks are reported as revoked.
// @Tags Revocations
// @Accept json
// @Produce json
// @Param request body CheckRequest true "Check request"
// @Success 200 {object} CheckResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/revocations/check [post]
func (h *RevocationHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	outcome := h.service.Check(c.Request.Context(), req.Token)
	c.Set(middleware.RevocationOutcomeKey, outcome)

	c.JSON(http.StatusOK, CheckResponse{
		Revoked: outcome.Revoked(),
		Outcome: outcome,
	})
}

// RevokeUser godoc
// @Summary Revoke every known credential of a user
// @Description Re-revokes all credentials recorded for the user for the bulk revocation horizon.
// @Tags Revocations
// @Accept json
// @Produce json
// @Param user_id path string true "User identifier"
// @Param request body RevokeUserRequest false "Bulk revocation request"
// @Success 200 {object} RevokeUserResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/users/{user_id}/revocations [post]
func (h *RevocationHandler) RevokeUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req RevokeUserRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
			return
		}
	}

	reason, err := domain.ParseRevocationReason(req.Reason, domain.RevocationReasonSecurityIncident)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "reason must be one of logout, security_incident, manual"))
		return
	}

	count, err := h.service.RevokeAllForUserWithReason(c.Request.Context(), userID, reason)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyUserID) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke user credentials"))
		return
	}

	c.JSON(http.StatusOK, RevokeUserResponse{UserID: userID, Revoked: count})
}
