package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sadaqahq/amanah/internal/identity"
)

// ActorContext seeds the caller identity from the auth layer's trusted
// headers. Anonymous requests act as donors.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorType := identity.ActorTypeDonor
		if raw := strings.TrimSpace(c.GetHeader("X-Actor-Type")); raw != "" {
			actorType = identity.ParseActorType(raw)
		}
		actorID := strings.TrimSpace(c.GetHeader("X-Actor-Id"))

		ctx := identity.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAdmin gates operator endpoints. System callers (the scheduler)
// pass as well.
func (s *Server) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := identity.ActorFromContext(c.Request.Context())
		if !actor.IsAdmin() && !actor.IsSystem() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}
