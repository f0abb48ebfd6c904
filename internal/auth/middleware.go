package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer"
	sessionKey          = "authSession"
)

type Middleware struct {
	provider   Provider
	cookieName string
	signInURL  string
	logger     *zap.Logger
}

func NewMiddleware(provider Provider, cookieName, signInURL string, logger *zap.Logger) *Middleware {
	return &Middleware{
		provider:   provider,
		cookieName: cookieName,
		signInURL:  signInURL,
		logger:     logger.Named("auth"),
	}
}

// RequireSession gates the protected routes. Browsers without a session are
// redirected to the sign-in flow; API clients get 401.
func (m *Middleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := m.provider.CurrentSession(c.Request.Context(), m.token(c))
		if err != nil {
			m.logger.Debug("request without valid session",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			if WantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.Redirect(http.StatusFound, m.signInURL)
			c.Abort()
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// ClearCookie removes the access token cookie after sign-out.
func (m *Middleware) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", false, true)
}

func (m *Middleware) token(c *gin.Context) string {
	if fields := strings.Fields(c.GetHeader(authorizationHeader)); len(fields) == 2 && strings.EqualFold(fields[0], bearerPrefix) {
		return fields[1]
	}
	if cookie, err := c.Cookie(m.cookieName); err == nil {
		return cookie
	}
	return ""
}

// SessionFrom returns the session RequireSession stored on the context.
func SessionFrom(c *gin.Context) *Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*Session)
	return session
}

// WantsJSON reports whether the caller is an API client rather than a
// browser navigating pages.
func WantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/ws" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
