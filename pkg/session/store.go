// Package session issues and validates the session ids carried in request
// headers.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/clamentos/blackhole/internal/protocol"
)

// DefaultTTL is the lifetime of a session when none is configured.
const DefaultTTL = time.Hour

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")

	ErrEmptyUser = errors.New("session user cannot be empty")
)

// Session is a live login.
type Session struct {
	ID        protocol.SessionID
	User      string
	ExpiresAt time.Time
}

// Expired reports whether the session is dead at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store keeps sessions. Implementations are safe for concurrent use.
type Store interface {
	// Create opens a session for user.
	Create(ctx context.Context, user string) (*Session, error)

	// Validate returns the live session with id, or ErrNotFound.
	Validate(ctx context.Context, id protocol.SessionID) (*Session, error)

	// Delete ends the session with id, or returns ErrNotFound.
	Delete(ctx context.Context, id protocol.SessionID) error

	Close() error
}

// NewID draws a random session id.
func NewID() (protocol.SessionID, error) {
	var id protocol.SessionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

// Key is the printable form of id used as a storage key.
func Key(id protocol.SessionID) string {
	return hex.EncodeToString(id[:])
}

func newSession(user string, ttl time.Duration, now time.Time) (*Session, error) {
	if user == "" {
		return nil, ErrEmptyUser
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, User: user, ExpiresAt: now.Add(ttl)}, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
