package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/siteloom/growth/internal/observability/obscontext"
)

// HeaderActor carries the authenticated actor string set by the hosting
// layer in front of this service.
const HeaderActor = "X-Growth-Actor"

const actorContextKey = "growth_actor"

// ActorContext reads the actor the hosting layer authenticated and puts it
// on the request context. Authentication itself happens upstream; this
// service only sees the resulting actor string ("system", "service:<name>",
// "admin:<id>", "user:<id>") and enforces authorization against it.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			c.Next()
			return
		}

		c.Set(actorContextKey, actor)

		actorType, actorID := splitActor(actor)
		ctx := obscontext.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireActor gates routes that need an authenticated caller.
func (s *Server) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.actorFromContext(c); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// authorize enforces one object/action pair for the route. Policy decisions
// live in the authorization service; this middleware only feeds it the
// actor.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	actor, ok := s.actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, object, action)
}

func (s *Server) actorFromContext(c *gin.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	actor := strings.TrimSpace(c.GetString(actorContextKey))
	if actor == "" {
		return "", false
	}
	return actor, true
}

func splitActor(actor string) (string, string) {
	if actor == "system" {
		return "system", "system"
	}
	actorType, actorID, found := strings.Cut(actor, ":")
	if !found {
		return actor, actor
	}
	return actorType, actorID
}
