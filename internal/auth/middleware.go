package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/open-same/collab-hub/internal/model"
)

const identityKey = "identity"

// Options controls how RequireIdentity resolves the caller.
type Options struct {
	// AllowAnonymous accepts ?user_id= and ?username= when no token is sent.
	AllowAnonymous bool
}

// RequireIdentity resolves the caller from a bearer token, the token query
// parameter, or (when allowed) plain query parameters, and aborts with 401
// when none yields an identity.
func RequireIdentity(v *Verifier, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolve(c, v, opts)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": err.Error(),
				},
			})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok && identity.Valid()
}

func resolve(c *gin.Context, v *Verifier, opts Options) (model.Identity, error) {
	if tok := bearerToken(c); tok != "" {
		return v.Verify(tok)
	}

	if opts.AllowAnonymous {
		identity := model.Identity{
			UserID:   strings.TrimSpace(c.Query("user_id")),
			Username: strings.TrimSpace(c.Query("username")),
		}
		if identity.Valid() {
			if identity.Username == "" {
				identity.Username = identity.UserID
			}
			return identity, nil
		}
	}

	return model.Identity{}, model.ErrUnauthorized
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}
