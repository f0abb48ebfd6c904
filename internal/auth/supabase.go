package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Brownie44l1/jute-web/internal/config"
)

const logoutPath = "/auth/v1/logout"

// SupabaseProvider verifies GoTrue access tokens locally with the project's
// JWT secret and signs users out through the GoTrue REST API.
type SupabaseProvider struct {
	baseURL    string
	anonKey    string
	jwtSecret  []byte
	httpClient *http.Client
	logger     *zap.Logger

	listeners listeners
	mu        sync.Mutex
	seen      map[string]struct{}
}

func NewSupabaseProvider(cfg config.Auth, logger *zap.Logger) *SupabaseProvider {
	return &SupabaseProvider{
		baseURL:    strings.TrimRight(cfg.SupabaseURL, "/"),
		anonKey:    cfg.AnonKey,
		jwtSecret:  []byte(cfg.JWTSecret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("auth"),
		seen:       make(map[string]struct{}),
	}
}

func (p *SupabaseProvider) CurrentSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: malformed token", ErrInvalidToken)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)

	session := &Session{
		UserID:      sub,
		Email:       email,
		AccessToken: token,
		ExpiresAt:   exp.Time,
	}
	if p.markSeen(sub) {
		p.listeners.emit(Event{Type: SignedIn, UserID: sub})
	}
	return session, nil
}

func (p *SupabaseProvider) OnChange(fn func(Event)) func() {
	return p.listeners.add(fn)
}

// SignOut revokes the session at the auth service. Subscribers are told the
// user signed out only when the service accepted the request.
func (p *SupabaseProvider) SignOut(ctx context.Context, session *Session) error {
	if session == nil {
		return ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+logoutPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	// 401: token already revoked.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("logout failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	p.forget(session.UserID)
	p.logger.Info("user signed out", zap.String("user_id", session.UserID))
	p.listeners.emit(Event{Type: SignedOut, UserID: session.UserID})
	return nil
}

func (p *SupabaseProvider) markSeen(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[userID]; ok {
		return false
	}
	p.seen[userID] = struct{}{}
	return true
}

func (p *SupabaseProvider) forget(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, userID)
}
