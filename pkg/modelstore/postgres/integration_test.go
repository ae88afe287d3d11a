//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agrosim/modelstore/pkg/database/migrate"
	"github.com/agrosim/modelstore/pkg/modelstore"
)

const concurrentWriters = 50

// setupTestDB starts a PostgreSQL container, applies migrations and returns
// an open pool. The container is terminated when the test finishes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:15",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Enough pool capacity for the concurrency tests.
	db.SetMaxOpenConns(concurrentWriters + 5)

	require.NoError(t, migrate.Run(db))
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestIntegration_DuplicateNameLeavesStoreUnchanged(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfg := testNewConfiguration(t)

	first, err := store.CreateConfiguration(ctx, cfg)
	require.NoError(t, err)

	_, err = store.CreateConfiguration(ctx, cfg)
	require.Error(t, err)
	assert.True(t, modelstore.IsDuplicateName(err))

	var dup *modelstore.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, cfg.Name, dup.Name)

	// Exactly one row named n; the first insert is intact.
	assert.Equal(t, 1, countRows(t, db, "configurations"))
	got, err := store.GetConfigurationByName(ctx, cfg.Name)
	require.NoError(t, err)
	assert.Equal(t, first, got.ID)
}

// TestIntegration_TestModel4Scenario follows the original acceptance flow:
// one configuration with the fibonacci parameter sets and a 16-byte weather
// blob, zero iterations at creation, then three sequential runs numbered
// 1, 2, 3.
func TestIntegration_TestModel4Scenario(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfg := testNewConfiguration(t)
	require.Len(t, cfg.Weather, 16)

	id, err := store.CreateConfiguration(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, db, "configurations"))
	assert.Equal(t, 0, countRows(t, db, "iterations"))

	for want := 1; want <= 3; want++ {
		seq, err := store.AddIteration(ctx, id, modelstore.RunInput{})
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	iterations, err := store.ListIterations(ctx, id)
	require.NoError(t, err)
	require.Len(t, iterations, 3)
	for i, it := range iterations {
		assert.Equal(t, i+1, it.SequenceNumber)
	}
}

func TestIntegration_DocumentRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfg := testNewConfiguration(t)
	id, err := store.CreateConfiguration(ctx, cfg)
	require.NoError(t, err)

	got, err := store.GetConfiguration(ctx, id)
	require.NoError(t, err)

	assert.True(t, cfg.SoilWater.Equal(got.SoilWater), "soil-water document must round-trip")
	assert.True(t, cfg.Drainage.Equal(got.Drainage), "drainage document must round-trip")
	assert.True(t, cfg.Crop.Equal(got.Crop), "crop document must round-trip")
	assert.Equal(t, cfg.Weather, got.Weather)
}

// TestIntegration_ConcurrentIterations races many writers against a single
// fresh configuration and asserts the committed sequence numbers are exactly
// 1..N with no gap and no duplicate.
func TestIntegration_ConcurrentIterations(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	id, err := store.CreateConfiguration(ctx, testNewConfiguration(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, concurrentWriters)
	for i := 0; i < concurrentWriters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.AddIteration(ctx, id, modelstore.RunInput{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d failed", i)
	}

	iterations, err := store.ListIterations(ctx, id)
	require.NoError(t, err)
	require.Len(t, iterations, concurrentWriters)

	seen := make(map[int]bool, concurrentWriters)
	for _, it := range iterations {
		assert.False(t, seen[it.SequenceNumber], "duplicate sequence number %d", it.SequenceNumber)
		seen[it.SequenceNumber] = true
	}
	for want := 1; want <= concurrentWriters; want++ {
		assert.True(t, seen[want], "missing sequence number %d", want)
	}
}

// TestIntegration_IndependentConfigurationsDoNotSerialize verifies that
// writers on unrelated configurations proceed concurrently and each keeps
// its own gap-free sequence.
func TestIntegration_IndependentConfigurationsDoNotSerialize(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	cfgA := testNewConfiguration(t)
	cfgA.Name = "model A"
	cfgB := testNewConfiguration(t)
	cfgB.Name = "model B"

	idA, err := store.CreateConfiguration(ctx, cfgA)
	require.NoError(t, err)
	idB, err := store.CreateConfiguration(ctx, cfgB)
	require.NoError(t, err)

	const runsPerConfig = 10
	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{idA, idB} {
		for i := 0; i < runsPerConfig; i++ {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := store.AddIteration(ctx, id, modelstore.RunInput{})
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []uuid.UUID{idA, idB} {
		iterations, err := store.ListIterations(ctx, id)
		require.NoError(t, err)
		require.Len(t, iterations, runsPerConfig)
		for i, it := range iterations {
			assert.Equal(t, i+1, it.SequenceNumber)
		}
	}
}

func TestIntegration_UnknownConfiguration(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	_, err := store.AddIteration(ctx, uuid.New(), modelstore.RunInput{})
	assert.ErrorIs(t, err, modelstore.ErrConfigurationNotFound)
	assert.Equal(t, 0, countRows(t, db, "iterations"))
}

func TestIntegration_SessionRollbackLeavesNoRows(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = sess.CreateConfiguration(ctx, testNewConfiguration(t))
	require.NoError(t, err)

	require.NoError(t, sess.Rollback())
	require.NoError(t, sess.Rollback())

	assert.Equal(t, 0, countRows(t, db, "configurations"))
}

func TestIntegration_SessionCommitIsAtomic(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = sess.Rollback() }()

	id, err := sess.CreateConfiguration(ctx, testNewConfiguration(t))
	require.NoError(t, err)

	seq, err := sess.AddIteration(ctx, id, modelstore.RunInput{
		Result: []byte("run output"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	// Nothing visible before commit.
	assert.Equal(t, 0, countRows(t, db, "configurations"))
	assert.Equal(t, 0, countRows(t, db, "iterations"))

	require.NoError(t, sess.Commit())

	assert.Equal(t, 1, countRows(t, db, "configurations"))
	assert.Equal(t, 1, countRows(t, db, "iterations"))

	it, err := store.GetIteration(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("run output"), it.Result)
}

func TestIntegration_RunDeltasRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	id, err := store.CreateConfiguration(ctx, testNewConfiguration(t))
	require.NoError(t, err)

	delta, err := modelstore.DocumentFromMap(map[string]any{"rds": 195})
	require.NoError(t, err)

	_, err = store.AddIteration(ctx, id, modelstore.RunInput{
		CropDelta:    delta,
		WeatherDelta: []byte{0xff, 0xee},
	})
	require.NoError(t, err)

	it, err := store.GetIteration(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, delta.Equal(it.CropDelta))
	assert.Nil(t, it.SoilWaterDelta)
	assert.Equal(t, []byte{0xff, 0xee}, it.WeatherDelta)
}
