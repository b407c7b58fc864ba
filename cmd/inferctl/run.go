package main

import (
	"context"
	"time"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/pid"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/session"
	"codeberg.org/mutker/inferctl/internal/statusapi"
	"codeberg.org/mutker/inferctl/internal/telemetry"
	"codeberg.org/mutker/inferctl/internal/workerpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	poolDrainTimeout = 10 * time.Second
	eventBufferSize  = 256
)

var pidFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&pidFile, "pid-file", pid.DefaultPath(), "PID file guarding against a second instance")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := pid.Write(pidFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	bus := events.NewBus(eventBufferSize)
	defer bus.Close()
	unsubscribe := bus.Subscribe(logEvent)
	defer unsubscribe()

	st, err := openStack(cfg, bus)
	if err != nil {
		return err
	}
	defer st.close()

	profile := st.source.Profile()
	logger.Info().
		Str("class", profile.Class.String()).
		Int("cores", profile.Cores).
		Int("ram_mb", profile.RAMMB()).
		Str("accelerator", profile.AcceleratorName).
		Msg("Device profile")

	pools, err := workerpool.NewSet(ctx, device.DefaultInferenceThreads(profile), device.DefaultBackgroundThreads(profile))
	if err != nil {
		return err
	}
	defer func() {
		if err := pools.Close(poolDrainTimeout); err != nil {
			logger.Warn().Err(err).Msg("Worker pools did not drain in time")
		}
	}()

	collector, err := telemetry.NewService(cfg.TelemetryConfig(), logger.Component("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close telemetry")
		}
	}()

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	opts := []scheduler.Option{
		scheduler.WithLogger(logger.Component("scheduler")),
		scheduler.WithSink(bus),
		scheduler.WithRecorder(collector),
	}
	if gov := st.powerGovernor(cfg); gov != nil {
		opts = append(opts, scheduler.WithPowerGovernor(gov))
	}
	sched, err := scheduler.New(schedCfg, st.source, st.monitor, pools, opts...)
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, sched, bus, session.WithPools(pools))
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to unload model")
		}
	}()

	if cfg.Models.Default != "" {
		preload(ctx, mgr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.monitor.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.Metrics.Enabled {
		router := statusapi.NewRouter(sched,
			statusapi.WithSessions(mgr),
			statusapi.WithHistory(collector),
			statusapi.WithLogger(logger.Component("http")),
		)
		srv := statusapi.NewServer(cfg.Metrics.Addr, router, logger.Component("http"))
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info().Str("mode", sched.CurrentMode().String()).Msg("Scheduler running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Exiting...")
	return nil
}

// preload loads the configured default model. Failure is logged and the
// daemon keeps running without a model.
func preload(ctx context.Context, mgr *session.Manager) {
	models, err := loadCatalog(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read model catalog")
		return
	}
	desc, err := models.Resolve(cfg.Models.Default)
	if err != nil {
		logger.Error().Err(err).Str("model", cfg.Models.Default).Msg("Default model not found")
		return
	}
	if err := mgr.LoadModel(ctx, desc); err != nil {
		logger.Error().Err(err).Str("model", desc.ID).Msg("Failed to preload model")
	}
}

func logEvent(ev events.Event) {
	e := logger.Info().Str("event", ev.Name)
	for k, v := range ev.Fields {
		e = e.Interface(k, v)
	}
	e.Msg("Event")
}
