// Package postgres implements the modelstore contract on PostgreSQL.
//
// Sequence numbers are assigned inside the inserting transaction: the parent
// configuration row is locked with SELECT ... FOR UPDATE, so concurrent
// writers on the same configuration serialize on that row while writers on
// different configurations never contend. A committed transaction therefore
// never exposes a gap or duplicate in the per-configuration sequence.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agrosim/modelstore/pkg/modelstore"
)

// PostgreSQL error codes translated into domain outcomes.
const (
	codeUniqueViolation     = pq.ErrorCode("23505")
	codeForeignKeyViolation = pq.ErrorCode("23503")
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// configColumns lists columns returned by configuration SELECT queries.
var configColumns = []string{
	"id", "name", "soil_water", "drainage", "crop", "weather", "created_at",
}

// iterationColumns lists columns returned by iteration SELECT queries.
var iterationColumns = []string{
	"id", "configuration_id", "sequence_number", "soil_water_delta",
	"drainage_delta", "crop_delta", "weather_delta", "result", "created_at",
}

// Store implements modelstore.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL model store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateConfiguration inserts a configuration in its own transaction.
// A duplicate name rolls back and returns *modelstore.DuplicateNameError
// with the store unchanged.
func (s *Store) CreateConfiguration(ctx context.Context, cfg modelstore.NewConfiguration) (uuid.UUID, error) {
	if cfg.Name == "" {
		return uuid.Nil, modelstore.ErrMissingName
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, &modelstore.StorageError{Op: "beginning transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertConfiguration(ctx, tx, cfg)
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, &modelstore.StorageError{Op: "committing configuration", Err: err}
	}
	return id, nil
}

// AddIteration assigns the next sequence number and inserts the run in a
// single transaction.
func (s *Store) AddIteration(ctx context.Context, configurationID uuid.UUID, run modelstore.RunInput) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &modelstore.StorageError{Op: "beginning transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := insertIteration(ctx, tx, configurationID, run)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, &modelstore.StorageError{Op: "committing iteration", Err: err}
	}
	return seq, nil
}

// GetConfiguration retrieves a configuration by ID.
func (s *Store) GetConfiguration(ctx context.Context, id uuid.UUID) (*modelstore.Configuration, error) {
	query := `
		SELECT id, name, soil_water, drainage, crop, weather, created_at
		FROM configurations
		WHERE id = $1
	`
	return scanConfiguration(s.db.QueryRowContext(ctx, query, id))
}

// GetConfigurationByName retrieves a configuration by its unique name.
func (s *Store) GetConfigurationByName(ctx context.Context, name string) (*modelstore.Configuration, error) {
	query := `
		SELECT id, name, soil_water, drainage, crop, weather, created_at
		FROM configurations
		WHERE name = $1
	`
	return scanConfiguration(s.db.QueryRowContext(ctx, query, name))
}

// ListConfigurations returns configurations matching the filter, oldest first.
func (s *Store) ListConfigurations(ctx context.Context, filter modelstore.ConfigurationFilter) ([]modelstore.Configuration, error) {
	qb := psq.Select(configColumns...).
		From("configurations").
		OrderBy("created_at", "id")
	if filter.NamePrefix != "" {
		qb = qb.Where(sq.Like{"name": filter.NamePrefix + "%"})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building configuration query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &modelstore.StorageError{Op: "listing configurations", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var configs []modelstore.Configuration
	for rows.Next() {
		cfg, err := scanConfigurationRow(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, &modelstore.StorageError{Op: "iterating configuration rows", Err: err}
	}
	return configs, nil
}

// GetIteration retrieves one iteration by configuration and sequence number.
func (s *Store) GetIteration(ctx context.Context, configurationID uuid.UUID, sequence int) (*modelstore.Iteration, error) {
	query := `
		SELECT id, configuration_id, sequence_number, soil_water_delta,
		       drainage_delta, crop_delta, weather_delta, result, created_at
		FROM iterations
		WHERE configuration_id = $1 AND sequence_number = $2
	`
	return scanIteration(s.db.QueryRowContext(ctx, query, configurationID, sequence))
}

// ListIterations returns all iterations for a configuration in sequence order.
func (s *Store) ListIterations(ctx context.Context, configurationID uuid.UUID) ([]modelstore.Iteration, error) {
	qb := psq.Select(iterationColumns...).
		From("iterations").
		Where(sq.Eq{"configuration_id": configurationID}).
		OrderBy("sequence_number")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building iteration query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &modelstore.StorageError{Op: "listing iterations", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var iterations []modelstore.Iteration
	for rows.Next() {
		it, err := scanIterationRow(rows)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, &modelstore.StorageError{Op: "iterating iteration rows", Err: err}
	}
	return iterations, nil
}

// insertConfiguration writes a configuration row inside tx, translating the
// name uniqueness violation into the duplicate-name conflict.
func insertConfiguration(ctx context.Context, tx *sql.Tx, cfg modelstore.NewConfiguration) (uuid.UUID, error) {
	soilWater, drainage, crop, err := marshalDocuments(cfg.SoilWater, cfg.Drainage, cfg.Crop)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO configurations (id, name, soil_water, drainage, crop, weather)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, query, id, cfg.Name, soilWater, drainage, crop, cfg.Weather)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
			return uuid.Nil, &modelstore.DuplicateNameError{Name: cfg.Name}
		}
		return uuid.Nil, &modelstore.StorageError{Op: "inserting configuration", Err: err}
	}
	return id, nil
}

// insertIteration stamps the next sequence number and writes the iteration
// row, all inside tx.
func insertIteration(ctx context.Context, tx *sql.Tx, configurationID uuid.UUID, run modelstore.RunInput) (int, error) {
	seq, err := nextSequence(ctx, tx, configurationID)
	if err != nil {
		return 0, err
	}

	soilWater, drainage, crop, err := marshalDocuments(run.SoilWaterDelta, run.DrainageDelta, run.CropDelta)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO iterations
		(id, configuration_id, sequence_number, soil_water_delta, drainage_delta, crop_delta, weather_delta, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		uuid.New(), configurationID, seq, soilWater, drainage, crop, run.WeatherDelta, run.Result,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation {
			return 0, modelstore.ErrConfigurationNotFound
		}
		return 0, &modelstore.StorageError{Op: "inserting iteration", Err: err}
	}
	return seq, nil
}

// nextSequence computes the sequence number for a new iteration. The parent
// configuration row is locked for the remainder of the transaction, so the
// read-max-then-insert pair cannot interleave with another writer targeting
// the same configuration.
func nextSequence(ctx context.Context, tx *sql.Tx, configurationID uuid.UUID) (int, error) {
	var locked uuid.UUID
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM configurations WHERE id = $1 FOR UPDATE`,
		configurationID,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return 0, modelstore.ErrConfigurationNotFound
	}
	if err != nil {
		return 0, &modelstore.StorageError{Op: "locking configuration", Err: err}
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM iterations WHERE configuration_id = $1`,
		configurationID,
	).Scan(&seq)
	if err != nil {
		return 0, &modelstore.StorageError{Op: "computing next sequence number", Err: err}
	}
	return seq, nil
}

// marshalDocuments serializes up to three parameter documents for jsonb
// columns. A nil document serializes as an empty object.
func marshalDocuments(docs ...modelstore.Document) ([]byte, []byte, []byte, error) {
	out := make([][]byte, len(docs))
	for i, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling parameter document: %w", err)
		}
		out[i] = data
	}
	return out[0], out[1], out[2], nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row *sql.Row) (*modelstore.Configuration, error) {
	cfg, err := scanConfigurationInto(row)
	if err == sql.ErrNoRows {
		return nil, modelstore.ErrConfigurationNotFound
	}
	if err != nil {
		return nil, &modelstore.StorageError{Op: "scanning configuration", Err: err}
	}
	return cfg, nil
}

func scanConfigurationRow(rows *sql.Rows) (*modelstore.Configuration, error) {
	cfg, err := scanConfigurationInto(rows)
	if err != nil {
		return nil, &modelstore.StorageError{Op: "scanning configuration row", Err: err}
	}
	return cfg, nil
}

func scanConfigurationInto(s scanner) (*modelstore.Configuration, error) {
	var cfg modelstore.Configuration
	var soilWater, drainage, crop []byte

	err := s.Scan(&cfg.ID, &cfg.Name, &soilWater, &drainage, &crop, &cfg.Weather, &cfg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalDocuments(
		[][]byte{soilWater, drainage, crop},
		&cfg.SoilWater, &cfg.Drainage, &cfg.Crop,
	); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func scanIteration(row *sql.Row) (*modelstore.Iteration, error) {
	it, err := scanIterationInto(row)
	if err == sql.ErrNoRows {
		return nil, modelstore.ErrIterationNotFound
	}
	if err != nil {
		return nil, &modelstore.StorageError{Op: "scanning iteration", Err: err}
	}
	return it, nil
}

func scanIterationRow(rows *sql.Rows) (*modelstore.Iteration, error) {
	it, err := scanIterationInto(rows)
	if err != nil {
		return nil, &modelstore.StorageError{Op: "scanning iteration row", Err: err}
	}
	return it, nil
}

func scanIterationInto(s scanner) (*modelstore.Iteration, error) {
	var it modelstore.Iteration
	var soilWater, drainage, crop []byte

	err := s.Scan(&it.ID, &it.ConfigurationID, &it.SequenceNumber,
		&soilWater, &drainage, &crop, &it.WeatherDelta, &it.Result, &it.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalDocuments(
		[][]byte{soilWater, drainage, crop},
		&it.SoilWaterDelta, &it.DrainageDelta, &it.CropDelta,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

// unmarshalDocuments decodes jsonb columns into documents. NULL columns
// leave the corresponding document nil.
func unmarshalDocuments(raw [][]byte, dests ...*modelstore.Document) error {
	for i, data := range raw {
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, dests[i]); err != nil {
			return fmt.Errorf("unmarshaling parameter document: %w", err)
		}
	}
	return nil
}

// Verify interface compliance.
var _ modelstore.Store = (*Store)(nil)
