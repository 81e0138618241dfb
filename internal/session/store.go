// Package session reads the session records shared with the HTTP layer and turns a
// WebSocket handshake's cookie into an Identity.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for missing and expired records alike
	ErrNotFound = errors.New("session: not found")
	// ErrUnauthenticated is returned by Authenticate in strict mode
	ErrUnauthenticated = errors.New("session: unauthenticated")
)

// Record is the subset of a session the hub needs. ExpiresAt is absolute.
type Record struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer valid at now
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is implemented by every session backend. Get must never return a record
// whose ExpiresAt has passed, even if the backend's own TTL has not fired yet.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	// Touch slides the record's expiry forward by the store's TTL.
	Touch(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// NewRecord creates a record for userID with a fresh id, expiring ttl from now
func NewRecord(userID string, ttl time.Duration) (Record, error) {
	id, err := GenerateID()
	if err != nil {
		return Record{}, err
	}
	return Record{
		SessionID: id,
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// GenerateID generates a 256-bit random session id
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validateForCreate(rec Record, now time.Time) error {
	if rec.SessionID == "" || rec.UserID == "" {
		return fmt.Errorf("session: missing session_id or user_id")
	}
	if rec.Expired(now) {
		return fmt.Errorf("session: expires_at must be in the future")
	}
	return nil
}
