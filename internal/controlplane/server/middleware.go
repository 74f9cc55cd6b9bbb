package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	authContextKey  = "auth"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString(requestIDHeader),
		}
		if id := c.Param("botID"); id != "" {
			fields["bot_id"] = id
		}
		entry := s.log.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("request failed")
		default:
			entry.Debug("request")
		}
	}
}

// requireBearer validates "Authorization: Bearer <jwt>".
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled() {
			c.Next()
			return
		}
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			s.abortUnauthorized(c, err)
			return
		}
		s.authenticate(c, token)
	}
}

// requireQueryToken validates ?token= before any byte of a stream is written.
func (s *Server) requireQueryToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled() {
			c.Next()
			return
		}
		s.authenticate(c, c.Query("token"))
	}
}

func (s *Server) authenticate(c *gin.Context, token string) {
	claims, err := s.auth.Validate(token)
	if err != nil {
		s.abortUnauthorized(c, err)
		return
	}
	c.Set(authContextKey, claims)
	c.Next()
}

func (s *Server) abortUnauthorized(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.FullPath()).Debug("rejected token")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: invalid or missing token"})
}
