//go:build integration
// +build integration

// To enable gopls support for this file, add the following to your VSCode settings.json:
// "gopls": {
//   "buildFlags": ["-tags=integration"]
// }

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/platform/migrations"
)

func setupPostgresContainer(t *testing.T) (*gorm.DB, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("annotations_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// Run migrations
	err = migrations.Run(db)
	require.NoError(t, err)

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		pgContainer.Terminate(ctx)
	}

	return db, cleanup
}

func sampleSummary(handle string) *domain.RemarkSummary {
	return &domain.RemarkSummary{
		Handle:     handle,
		WindowDays: 90,
		SampleSize: 42,
		Categories: []domain.CategoryCount{
			{Name: "praise", Count: 30},
			{Name: "question", Count: 11},
			{Name: "complaint", Count: 1, Truncated: true},
		},
	}
}

func TestPostgresCacheStore_PutAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", sampleSummary("alice")))

	got, err := store.Get(ctx, "alice", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleSummary("alice"), got)

	// Category order must survive the round trip.
	assert.Equal(t, "praise", got.Categories[0].Name)
	assert.True(t, got.Categories[2].Truncated)
}

func TestPostgresCacheStore_GetMissesUnknownHandle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)

	got, err := store.Get(context.Background(), "nobody", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresCacheStore_GetTreatsStaleRowAsMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", sampleSummary("alice")))
	time.Sleep(20 * time.Millisecond)

	got, err := store.Get(ctx, "alice", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got, "a row older than the ttl must read as a miss")

	fresh, err := store.Get(ctx, "alice", time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, fresh, "the row itself must still be there for a longer ttl")
}

func TestPostgresCacheStore_PutReplacesExistingRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", sampleSummary("alice")))

	updated := &domain.RemarkSummary{
		Handle:     "alice",
		WindowDays: 30,
		SampleSize: 7,
		Categories: []domain.CategoryCount{{Name: "praise", Count: 7}},
	}
	require.NoError(t, store.Put(ctx, "alice", updated))

	got, err := store.Get(ctx, "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	assert.Len(t, got.Categories, 1)
}

func TestPostgresCacheStore_EmptyCategoriesRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	quiet := &domain.RemarkSummary{Handle: "quiet", WindowDays: 90, SampleSize: 0, Categories: []domain.CategoryCount{}}
	require.NoError(t, store.Put(ctx, "quiet", quiet))

	got, err := store.Get(ctx, "quiet", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.Categories)
	assert.Empty(t, got.Categories)
}

func TestPostgresCacheStore_ClearAll(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "alice", sampleSummary("alice")))
	require.NoError(t, store.Put(ctx, "bob", sampleSummary("bob")))

	require.NoError(t, store.ClearAll(ctx))

	for _, handle := range []string{"alice", "bob"} {
		got, err := store.Get(ctx, handle, time.Hour)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestPostgresCacheStore_PurgeExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", sampleSummary("old")))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Put(ctx, "fresh", sampleSummary("fresh")))

	removed, err := store.PurgeExpired(ctx, 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.Get(ctx, "fresh", time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
