package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(dir, "telemetry.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.BatchSize = 3
	cfg.BatchTimeout = time.Hour
	return cfg
}

func snapshotAt(ts time.Time, mode string) *Snapshot {
	return &Snapshot{
		Timestamp:         ts,
		Temperature:       41.5,
		ThermalState:      "warm",
		Trend:             "rising",
		Mode:              mode,
		PreferredMode:     "maximum",
		InferenceThreads:  4,
		BackgroundThreads: 2,
		CPUPercent:        37.5,
		MemoryPressure:    0.4,
		BoostActive:       true,
	}
}

func TestRepositoryBatchesAndQueries(t *testing.T) {
	cfg := testConfig(t)
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	base := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, repo.Record(snapshotAt(base, "balanced")))
	require.NoError(t, repo.Record(snapshotAt(base.Add(time.Second), "high_performance")))

	got, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high_performance", got[0].Mode)
	assert.Equal(t, base.Add(time.Second), got[0].Timestamp)
	assert.True(t, got[0].BoostActive)
	assert.Equal(t, 4, got[0].InferenceThreads)
	assert.InDelta(t, 41.5, got[1].Temperature, 1e-9)
}

func TestRepositoryDeleteBefore(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(snapshotAt(base.Add(time.Duration(i)*time.Hour), "balanced")))
	}

	n, err := repo.DeleteBefore(context.Background(), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSchemaMismatchIsBackedUp(t *testing.T) {
	cfg := testConfig(t)

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	entries, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "telemetry_v99_")
}

func TestServiceRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	cfg.Retention = 24 * time.Hour

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	svc := c.(*service)
	defer svc.Close()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, snapshotAt(now.Add(-48*time.Hour), "balanced")))
	require.NoError(t, svc.Record(ctx, snapshotAt(now.Add(-time.Hour), "balanced")))

	svc.prune()

	got, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, now.Add(-time.Hour), got[0].Timestamp)
}

func TestServiceDisabled(t *testing.T) {
	c, err := NewService(DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Record(context.Background(), &Snapshot{}))
	_, err = c.Recent(context.Background(), 1)
	assert.True(t, errors.HasCode(err, errors.ErrTelemetryDisabled))
	require.NoError(t, c.Close())
}

func TestRecordRejectsNil(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, errors.HasCode(c.Record(context.Background(), nil), ErrInvalidSnapshot))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	cfg.DBPath = ""
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidDBPath))
}
