package api

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/src/config"
)

// corsMiddleware allows any origin, matching the teacher's stance that a
// locally-run server is reachable from an arbitrary front-end origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func processingTimeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		c.Writer.Header().Set("Server-Timing", fmt.Sprintf("total;dur=%.1f", time.Since(start).Seconds()*1000))
	}
}

// authMiddleware enforces HTTP Basic auth when the server was configured
// with a username/password, per spec §6/§7. Bearer tokens are not
// checked here or anywhere else: a request carrying only an
// `Authorization: Bearer` header is rejected like any other request
// without valid Basic credentials.
func authMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnabled() {
			c.Next()
			return
		}

		user, pass, ok := c.Request.BasicAuth()
		validUser := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) == 1
		validPass := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
		if !ok || !validUser || !validPass {
			c.Writer.Header().Set("WWW-Authenticate", `Basic realm="VibeTunnel"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// authenticateWS verifies the same Basic credentials as authMiddleware, for
// /buffers which registers outside the auth-guarded route group so it can
// upgrade the connection itself (spec §6: "authentication is verified in
// the upgrade handler"). Writes a 401 with WWW-Authenticate and returns
// false if credentials are missing or wrong; the caller must not upgrade.
func (s *Server) authenticateWS(c *gin.Context) bool {
	if !s.cfg.AuthEnabled() {
		return true
	}

	user, pass, ok := c.Request.BasicAuth()
	validUser := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	validPass := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	if ok && validUser && validPass {
		return true
	}

	c.Writer.Header().Set("WWW-Authenticate", `Basic realm="VibeTunnel"`)
	c.Writer.WriteHeader(http.StatusUnauthorized)
	return false
}

// sensitiveQueryParams mirrors the teacher's redaction list, extended
// with the bearer-token query fallback this server never uses but a
// proxied remote might echo back in an error body.
var sensitiveQueryParams = []string{
	"token", "access_token", "bearer",
	"password", "passwd",
	"secret", "client_secret",
	"key", "private_key",
	"authorization", "auth",
}

func redactSecrets(pathWithQuery string) string {
	parts := strings.SplitN(pathWithQuery, "?", 2)
	if len(parts) != 2 {
		return pathWithQuery
	}
	basePath, queryString := parts[0], parts[1]

	values, err := url.ParseQuery(queryString)
	if err != nil {
		return redactQueryPatterns(pathWithQuery)
	}

	changed := false
	for key := range values {
		for _, param := range sensitiveQueryParams {
			if strings.EqualFold(key, param) {
				values.Set(key, "[REDACTED]")
				changed = true
			}
		}
	}
	if !changed {
		return pathWithQuery
	}
	return basePath + "?" + values.Encode()
}

func redactQueryPatterns(pathWithQuery string) string {
	result := pathWithQuery
	for _, param := range sensitiveQueryParams {
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(param) + `=)[^&\s]*`)
		result = pattern.ReplaceAllString(result, "${1}[REDACTED]")
	}
	return result
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		sanitizedPath := redactSecrets(path)

		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		status := c.Writer.Status()

		msg := fmt.Sprintf("%s %s %d %dms", c.Request.Method, sanitizedPath, status, latency)
		switch {
		case status >= http.StatusInternalServerError:
			logrus.Error(msg)
		case status >= http.StatusBadRequest:
			logrus.Warn(msg)
		default:
			logrus.Info(msg)
		}
	}
}
