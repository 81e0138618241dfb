package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "storehub/internal/errors"
)

// PostgresStore reads the sessions table created by internal/database migrations.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore creates a PostgresStore on an open pool
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	if err := validateForCreate(rec, time.Now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, now())`,
		rec.SessionID, rec.UserID, rec.ExpiresAt,
	)
	if err != nil {
		return apperrors.NewStorageError("session: failed to create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec := &Record{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		sessionID,
	).Scan(&rec.SessionID, &rec.UserID, &rec.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("session: failed to find", err)
	}
	// Clock skew between app and database.
	if rec.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *PostgresStore) Touch(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $2
		 WHERE id = $1 AND expires_at > now()`,
		sessionID, time.Now().Add(s.ttl),
	)
	if err != nil {
		return apperrors.NewStorageError("session: failed to touch", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return apperrors.NewStorageError("session: failed to delete", err)
	}
	return nil
}

// PurgeExpired removes rows past their expiry and returns how many were deleted.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, apperrors.NewStorageError("session: failed to purge", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ Store = (*PostgresStore)(nil)
