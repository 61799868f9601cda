package auth

import (
	"net/http"
	"strings"

	"finreport/internal/apperr"
	"finreport/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const subjectContextKey = "auth_subject"

// Middleware validates bearer tokens and stores the authenticated subject in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			logger.FromContext(c.Request.Context()).Warn("bearer token missing", zap.String("path", c.Request.URL.Path))
			abortUnauthorized(c, "authorization required")
			return
		}
		subject, err := s.ValidateToken(authToken)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("bearer token rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": apperr.KindAuth, "message": msg},
	})
}

// SubjectFromContext retrieves the authenticated subject from the gin context.
func SubjectFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(subjectContextKey)
	if !ok {
		return "", false
	}
	subject, ok := val.(string)
	return subject, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
