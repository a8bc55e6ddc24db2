package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"studyroom/internal/apperr"
)

const (
	claimsKey = "claims"
	orgKey    = "org_id"
)

// TenantAuth enforces bearer JWT tokens signed with HS256 that name an
// organization.
func TenantAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, ErrMissingToken)
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Set(orgKey, claims.OrgID)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.Status(err), apperr.BodyOf(err))
}

// OrgID returns the organization of the authenticated request.
func OrgID(c *gin.Context) string {
	return c.GetString(orgKey)
}

// ClaimsFrom returns the parsed claims, if the request was authenticated.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
