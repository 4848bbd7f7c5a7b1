package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const actorKey = "storefront.actor"

// authenticate проверяет bearer-токен и кладёт domain.Actor в контекст запроса.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if s.svc.Tokens == nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", auth.ErrInvalidToken.Error())
			return
		}
		actor, err := s.svc.Tokens.Parse(raw)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Admin {
			abortWithError(c, http.StatusForbidden, "forbidden", domain.ErrForbidden.Error())
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

// requestContext ограничивает время обработки запроса.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if actor := actorFrom(c); actor.UserID != "" {
			entry = entry.WithField("user_id", actor.UserID)
		}
		if last := c.Errors.Last(); last != nil {
			entry = entry.WithError(last.Err)
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
