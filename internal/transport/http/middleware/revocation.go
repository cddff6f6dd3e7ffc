package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/infra/security"
)

// RevocationChecker decides whether a presented credential has been revoked.
type RevocationChecker interface {
	Check(ctx context.Context, token string) domain.CheckOutcome
}

// RequireNotRevoked rejects requests whose bearer token is revoked or cannot be verified as live.
func RequireNotRevoked(checker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c.GetHeader("Authorization"))
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, problem))
			return
		}

		outcome := checker.Check(c.Request.Context(), token)
		c.Set(RevocationOutcomeKey, outcome)
		if outcome.Revoked() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token revoked"))
			return
		}

		c.Set(BearerTokenKey, token)
		if claims, err := security.ParseCredentialClaims(token); err == nil && claims.UserID != "" {
			c.Set(UserIDKey, claims.UserID)
			if reqCtx := GetRequestContext(c); reqCtx != nil {
				reqCtx.UserID = claims.UserID
			}
		}

		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "invalid authorization format: expected 'Bearer <token>'"
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", "invalid authorization format: must start with 'Bearer'"
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "missing access token"
	}
	return token, ""
}

// GetBearerToken retrieves the bearer token accepted by RequireNotRevoked.
func GetBearerToken(c *gin.Context) (string, bool) {
	value, exists := c.Get(BearerTokenKey)
	if !exists {
		return "", false
	}
	token, ok := value.(string)
	return token, ok && token != ""
}

// GetAuthenticatedUserID retrieves the credential owner from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
