package postgres

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"

	"github.com/agrosim/modelstore/pkg/modelstore"
)

// Session is a unit of work over a single database transaction. The first
// Commit or Rollback settles it and releases the transaction; later calls
// are no-ops. Dropping a session without committing leaves the rollback to
// the driver when the transaction is finalized, so nothing partially applies.
type Session struct {
	tx *sql.Tx

	mu      sync.Mutex
	settled bool
}

// Begin opens a new unit of work.
func (s *Store) Begin(ctx context.Context) (modelstore.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &modelstore.StorageError{Op: "beginning transaction", Err: err}
	}
	return &Session{tx: tx}, nil
}

// CreateConfiguration inserts a configuration within the session's
// transaction. A duplicate name aborts the transaction; the caller must
// Rollback.
func (s *Session) CreateConfiguration(ctx context.Context, cfg modelstore.NewConfiguration) (uuid.UUID, error) {
	if cfg.Name == "" {
		return uuid.Nil, modelstore.ErrMissingName
	}
	return insertConfiguration(ctx, s.tx, cfg)
}

// AddIteration stamps and inserts an iteration within the session's
// transaction. The assigned sequence number becomes visible only on Commit.
func (s *Session) AddIteration(ctx context.Context, configurationID uuid.UUID, run modelstore.RunInput) (int, error) {
	return insertIteration(ctx, s.tx, configurationID, run)
}

// Commit durably applies the session's operations.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return nil
	}
	s.settled = true

	if err := s.tx.Commit(); err != nil {
		return &modelstore.StorageError{Op: "committing session", Err: err}
	}
	return nil
}

// Rollback discards the session's operations. It never fails: rolling back
// a settled session, or one whose transaction already aborted, is a no-op.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return nil
	}
	s.settled = true

	_ = s.tx.Rollback()
	return nil
}

// Verify interface compliance.
var _ modelstore.Session = (*Session)(nil)
