package telemetry

import (
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/inferctl/telemetry.db"
	defaultBackupDir = "/var/lib/inferctl/backups"

	defaultBatchSize         = 10
	defaultBatchTimeout      = 30 * time.Second
	defaultRetention         = 7 * 24 * time.Hour
	defaultRetentionSchedule = "@hourly"
)

type Config struct {
	Enabled           bool
	DBPath            string
	BackupDir         string
	BatchSize         int
	BatchTimeout      time.Duration
	Retention         time.Duration
	RetentionSchedule string
}

func DefaultConfig() Config {
	return Config{
		Enabled:           false, // Disabled by default
		DBPath:            defaultDBPath,
		BackupDir:         defaultBackupDir,
		BatchSize:         defaultBatchSize,
		BatchTimeout:      defaultBatchTimeout,
		Retention:         defaultRetention,
		RetentionSchedule: defaultRetentionSchedule,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if telemetry is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if c.Retention < 0 {
		return errFactory.WithData(ErrInvalidConfig, "retention must not be negative")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
