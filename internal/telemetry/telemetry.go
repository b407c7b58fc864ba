package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/robfig/cron/v3"
)

type service struct {
	repo   Repository
	cfg    Config
	logger logger.Logger
	cron   *cron.Cron
	now    func() time.Time
}

type noopCollector struct{}

// NewService returns a SQLite-backed Collector, or a no-op Collector when
// telemetry is disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &service{repo: repo, cfg: cfg, logger: log, now: time.Now}

	if cfg.Retention > 0 && cfg.RetentionSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.RetentionSchedule, s.prune); err != nil {
			repo.Close()
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
		s.cron.Start()
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Dur("retention", cfg.Retention).
		Msg("Telemetry service initialized")

	return s, nil
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(snapshot); err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	return s.repo.Recent(ctx, limit)
}

// prune deletes snapshots older than the configured retention.
func (s *service) prune() {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.repo.DeleteBefore(context.Background(), cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Telemetry retention failed")
		return
	}
	s.logger.Debug().Int64("deleted", n).Time("cutoff", cutoff).Msg("Telemetry retention applied")
}

func (s *service) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return s.repo.Close()
}

func (*noopCollector) Record(context.Context, *Snapshot) error { return nil }

func (*noopCollector) Recent(context.Context, int) ([]Snapshot, error) {
	return nil, errors.New().New(errors.ErrTelemetryDisabled)
}

func (*noopCollector) Close() error { return nil }
