package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyActor is the gin context key holding the resolved *Actor.
	ContextKeyActor = "authActor"
)

// Middleware resolves the API key from the request, if present, and stores
// the resulting actor in the gin context. It never rejects; RequireCapability
// does that for protected routes.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("Authorization")
		if rawKey == "" {
			rawKey = c.GetHeader("X-API-Key")
		}

		if rawKey != "" {
			if key, err := m.ValidateKey(c.Request.Context(), rawKey); err == nil {
				c.Set(ContextKeyActor, key.Actor())
			}
		}

		c.Next()
	}
}

// RequireCapability rejects requests whose actor lacks the capability.
// The check happens once here; handlers pass the actor down unchanged.
func RequireCapability(cap Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		if err := actor.Require(cap); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}
}

// RequireAuth rejects unauthenticated requests without demanding a
// specific capability (buyer/seller self-service endpoints).
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the resolved actor from the gin context, or nil.
func ActorFrom(c *gin.Context) *Actor {
	if v, exists := c.Get(ContextKeyActor); exists {
		if actor, ok := v.(*Actor); ok {
			return actor
		}
	}
	return nil
}
