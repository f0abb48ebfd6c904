package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Session is the identity the external auth service vouches for.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

type EventType string

const (
	SignedIn  EventType = "SIGNED_IN"
	SignedOut EventType = "SIGNED_OUT"
)

type Event struct {
	Type   EventType
	UserID string
}

// Provider is the external identity service as this server consumes it.
type Provider interface {
	// CurrentSession resolves an access token to a session. It returns
	// ErrNoSession for an empty token and ErrInvalidToken for a bad one.
	CurrentSession(ctx context.Context, token string) (*Session, error)
	// OnChange registers fn for session changes and returns a function that
	// removes it.
	OnChange(fn func(Event)) (unsubscribe func())
	SignOut(ctx context.Context, session *Session) error
}

// listeners fans session events out to subscribers.
type listeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Event)
}

func (l *listeners) add(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

func (l *listeners) emit(e Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
