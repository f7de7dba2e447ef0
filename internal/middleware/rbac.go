package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
	"github.com/noah-isme/storefront-auth/pkg/response"
)

// RequirePrincipal only lets through claims of the given principal types.
// It must run after Auth.
func RequirePrincipal(kinds ...models.PrincipalKind) gin.HandlerFunc {
	allowed := make(map[models.PrincipalKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}

	return func(c *gin.Context) {
		claim, ok := ClaimFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		if _, ok := allowed[claim.Type()]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
