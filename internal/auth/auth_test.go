package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/jute-web/internal/config"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "grower@example.org",
		"role":  "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func newProvider(t *testing.T, supabaseURL string) *SupabaseProvider {
	t.Helper()
	return NewSupabaseProvider(config.Auth{
		SupabaseURL: supabaseURL,
		AnonKey:     "anon",
		JWTSecret:   testSecret,
	}, zap.NewNop())
}

func TestCurrentSession(t *testing.T) {
	p := newProvider(t, "http://unused")
	token := signToken(t, testSecret, validClaims())

	var events []Event
	unsubscribe := p.OnChange(func(e Event) { events = append(events, e) })
	defer unsubscribe()

	session, err := p.CurrentSession(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "grower@example.org", session.Email)
	assert.Equal(t, token, session.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	_, err = p.CurrentSession(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []Event{{Type: SignedIn, UserID: "user-1"}}, events, "sign-in is reported once")
}

func TestCurrentSessionRejects(t *testing.T) {
	p := newProvider(t, "http://unused")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noExpiry := validClaims()
	delete(noExpiry, "exp")
	noSubject := validClaims()
	delete(noSubject, "sub")

	cases := map[string]string{
		"expired":      signToken(t, testSecret, expired),
		"wrong secret": signToken(t, "another-secret-another-secret-another", validClaims()),
		"no expiry":    signToken(t, testSecret, noExpiry),
		"no subject":   signToken(t, testSecret, noSubject),
		"garbage":      "not.a.jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.CurrentSession(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := p.CurrentSession(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCurrentSessionRejectsNoneAlgorithm(t *testing.T) {
	p := newProvider(t, "http://unused")
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.CurrentSession(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignOut(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, logoutPath, r.URL.Path)
		got <- r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	token := signToken(t, testSecret, validClaims())
	session, err := p.CurrentSession(context.Background(), token)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []Event
	p.OnChange(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	require.NoError(t, p.SignOut(context.Background(), session))
	header := <-got
	assert.Equal(t, "anon", header.Get("apikey"))
	assert.Equal(t, "Bearer "+token, header.Get("Authorization"))
	assert.Equal(t, []Event{{Type: SignedOut, UserID: "user-1"}}, events)
}

func TestSignOutFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	fired := false
	p.OnChange(func(Event) { fired = true })

	err := p.SignOut(context.Background(), &Session{UserID: "user-1", AccessToken: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.False(t, fired)

	assert.ErrorIs(t, p.SignOut(context.Background(), nil), ErrNoSession)
}

func TestUnsubscribe(t *testing.T) {
	var l listeners
	calls := 0
	unsubscribe := l.add(func(Event) { calls++ })

	l.emit(Event{Type: SignedOut})
	unsubscribe()
	unsubscribe()
	l.emit(Event{Type: SignedOut})

	assert.Equal(t, 1, calls)
}

type stubProvider struct {
	sessions map[string]*Session
}

func (s stubProvider) CurrentSession(_ context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return session, nil
}

func (stubProvider) OnChange(func(Event)) func() { return func() {} }

func (stubProvider) SignOut(context.Context, *Session) error { return errors.New("not implemented") }

func newGatedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	provider := stubProvider{sessions: map[string]*Session{"good": {UserID: "user-1"}}}
	mw := NewMiddleware(provider, "sb-access-token", "/auth", zap.NewNop())

	r := gin.New()
	r.Use(mw.RequireSession())
	handler := func(c *gin.Context) {
		c.String(http.StatusOK, SessionFrom(c).UserID)
	}
	r.GET("/", handler)
	r.GET("/api/state", handler)
	return r
}

func TestRequireSessionRedirectsBrowsers(t *testing.T) {
	r := newGatedRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth", w.Header().Get("Location"))
}

func TestRequireSessionRejectsAPIClients(t *testing.T) {
	r := newGatedRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireSessionAcceptsCookieAndBearer(t *testing.T) {
	r := newGatedRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "good"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
