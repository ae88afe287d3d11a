package modelstore

import (
	"context"

	"github.com/google/uuid"
)

// Store provides create/query/append access to configurations and their
// iterations. Implementations must enforce name uniqueness, the gap-free
// per-configuration sequence invariant, and full atomicity of every write:
// an operation either lands completely or not at all.
type Store interface {
	// CreateConfiguration inserts a new configuration and returns its
	// store-assigned ID. It returns ErrMissingName for an empty name and
	// *DuplicateNameError when the name is already taken; in the conflict
	// case the store is left unchanged.
	CreateConfiguration(ctx context.Context, cfg NewConfiguration) (uuid.UUID, error)

	// GetConfiguration retrieves a configuration by ID.
	// Returns ErrConfigurationNotFound if it does not exist.
	GetConfiguration(ctx context.Context, id uuid.UUID) (*Configuration, error)

	// GetConfigurationByName retrieves a configuration by its unique name.
	// Returns ErrConfigurationNotFound if it does not exist.
	GetConfigurationByName(ctx context.Context, name string) (*Configuration, error)

	// ListConfigurations returns configurations matching the filter,
	// ordered by creation time.
	ListConfigurations(ctx context.Context, filter ConfigurationFilter) ([]Configuration, error)

	// AddIteration records a new simulation run against the configuration
	// and returns the assigned sequence number. Assignment is serialized
	// per configuration: concurrent calls against the same configuration
	// receive distinct consecutive numbers, while calls against different
	// configurations proceed in parallel. Returns ErrConfigurationNotFound
	// if the configuration does not exist.
	AddIteration(ctx context.Context, configurationID uuid.UUID, run RunInput) (int, error)

	// GetIteration retrieves one iteration by configuration and sequence
	// number. Returns ErrConfigurationNotFound if no such row exists.
	GetIteration(ctx context.Context, configurationID uuid.UUID, sequence int) (*Iteration, error)

	// ListIterations returns all iterations for a configuration in
	// sequence order.
	ListIterations(ctx context.Context, configurationID uuid.UUID) ([]Iteration, error)

	// Begin opens a unit of work spanning one or more write operations.
	Begin(ctx context.Context) (Session, error)
}

// Session is a scoped transactional boundary. Exactly one of Commit or
// Rollback settles the session and releases the underlying transaction;
// both are safe to call again afterwards. Abandoning a session without
// committing is equivalent to Rollback.
type Session interface {
	// CreateConfiguration behaves like Store.CreateConfiguration within
	// the session's transaction. A duplicate-name conflict poisons the
	// transaction; the caller must Rollback.
	CreateConfiguration(ctx context.Context, cfg NewConfiguration) (uuid.UUID, error)

	// AddIteration behaves like Store.AddIteration within the session's
	// transaction. The sequence number is assigned under the same
	// transaction, so it becomes visible only if Commit succeeds.
	AddIteration(ctx context.Context, configurationID uuid.UUID, run RunInput) (int, error)

	// Commit durably applies all operations performed under the session.
	Commit() error

	// Rollback discards all operations performed under the session.
	// It never fails: rolling back an already settled session is a no-op.
	Rollback() error
}
