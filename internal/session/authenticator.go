package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storehub/internal/config"
)

// Identity is the principal bound to a connection for its whole lifetime.
type Identity struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"-"`
	Anonymous bool   `json:"anonymous"`
}

// Anonymous returns the identity used when no valid session is presented
func Anonymous() Identity {
	return Identity{Anonymous: true}
}

// Name is the sender identity shown to other chat participants
func (i Identity) Name() string {
	if i.Anonymous {
		return "anonymous"
	}
	return i.UserID
}

// Authenticator resolves a handshake request to an Identity. It runs once per
// connection, on the HTTP handler goroutine, before the upgrade.
type Authenticator struct {
	store       Store
	cookieName  string
	secret      string
	requireAuth bool
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAuthenticator creates an Authenticator reading cookies described by cfg
func NewAuthenticator(store Store, cfg config.SessionConfig, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		store:       store,
		cookieName:  cfg.CookieName,
		secret:      cfg.Secret,
		requireAuth: cfg.RequireAuth,
		timeout:     2 * time.Second,
		logger:      logger.With(slog.String("component", "session.authenticator")),
	}
}

// RequireAuth reports whether anonymous handshakes are rejected
func (a *Authenticator) RequireAuth() bool {
	return a.requireAuth
}

// Authenticate never fails in the default mode: every problem with the cookie or the
// store degrades to Anonymous(). In strict mode the same problems return ErrUnauthenticated.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	ctx := r.Context()

	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return a.degrade(ctx, "no session cookie", nil)
	}

	sessionID, err := DecodeCookieValue(cookie.Value, a.secret)
	if err != nil {
		return a.degrade(ctx, "invalid session cookie", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rec, err := a.store.Get(lookupCtx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return a.degrade(ctx, "session not found or expired", nil)
		}
		return a.degrade(ctx, "session store unavailable", err)
	}

	if err := a.store.Touch(lookupCtx, sessionID); err != nil {
		a.logger.WarnContext(ctx, "failed to refresh session",
			slog.String("error", err.Error()))
	}

	return Identity{UserID: rec.UserID, SessionID: rec.SessionID}, nil
}

func (a *Authenticator) degrade(ctx context.Context, reason string, cause error) (Identity, error) {
	attrs := []any{slog.String("reason", reason), slog.Bool("strict", a.requireAuth)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}

	if a.requireAuth {
		a.logger.InfoContext(ctx, "handshake rejected", attrs...)
		return Identity{}, ErrUnauthenticated
	}

	if cause != nil {
		a.logger.WarnContext(ctx, "handshake degraded to anonymous", attrs...)
	} else {
		a.logger.DebugContext(ctx, "handshake degraded to anonymous", attrs...)
	}
	return Anonymous(), nil
}
