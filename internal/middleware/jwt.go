package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
	"github.com/noah-isme/storefront-auth/pkg/response"
)

// ContextClaimKey is the gin context key storing the verified access claim.
const ContextClaimKey = "currentPrincipal"

type accessVerifier interface {
	Authenticate(token string) (*models.AccessClaim, error)
}

// Auth protects routes by requiring a valid access token, read from the
// Authorization header or, failing that, from the access cookie.
func Auth(verifier accessVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := accessToken(c, cookieName)
		if !ok {
			response.Error(c, appErrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		claim, err := verifier.Authenticate(token)
		if err != nil {
			response.Error(c, appErrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		c.Set(ContextClaimKey, claim)
		c.Next()
	}
}

// ClaimFromContext returns the verified claim stored by Auth.
func ClaimFromContext(c *gin.Context) (*models.AccessClaim, bool) {
	value, exists := c.Get(ContextClaimKey)
	if !exists {
		return nil, false
	}
	claim, ok := value.(*models.AccessClaim)
	return claim, ok && claim != nil
}

func accessToken(c *gin.Context, cookieName string) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if cookieName == "" {
		return "", false
	}
	token, err := c.Cookie(cookieName)
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}
