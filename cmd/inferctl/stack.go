package main

import (
	"codeberg.org/mutker/inferctl/internal/catalog"
	"codeberg.org/mutker/inferctl/internal/config"
	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/events"
	"codeberg.org/mutker/inferctl/internal/gpu"
	"codeberg.org/mutker/inferctl/internal/logger"
	"codeberg.org/mutker/inferctl/internal/safety"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/session"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

// stack holds the hardware-facing pieces shared by every command.
type stack struct {
	gpu     *gpu.Device
	source  *device.ProcSource
	sensor  thermal.Sensor
	monitor *thermal.Monitor
}

func openStack(cfg *config.Config, sink events.Sink) (*stack, error) {
	st := &stack{}

	if cfg.GPU.Enabled {
		dev, err := gpu.Open(cfg.GPU.Index, logger.Component("gpu"))
		if err != nil {
			logger.Warn().Err(err).Msg("No usable GPU, continuing CPU only")
		} else {
			st.gpu = dev
		}
	}

	source, err := newSource(cfg, st.gpu)
	if err != nil {
		st.close()
		return nil, err
	}
	st.source = source

	sensor, err := newSensor(cfg, st.gpu)
	if err != nil {
		st.close()
		return nil, err
	}
	st.sensor = sensor

	monitor, err := thermal.NewMonitor(cfg.ThermalConfig(), sensor,
		thermal.WithLogger(logger.Component("thermal")),
		thermal.WithSink(sink),
	)
	if err != nil {
		st.close()
		return nil, err
	}
	st.monitor = monitor

	return st, nil
}

func newSource(cfg *config.Config, dev *gpu.Device) (*device.ProcSource, error) {
	opts := []device.Option{device.WithMountPoint(cfg.Device.ProcMount)}
	if dev != nil {
		info := dev.Info()
		opts = append(opts, device.WithCapabilities(info.Capabilities, info.Name))
	}
	if cfg.Device.Class != "" {
		class, _ := device.ParseClass(cfg.Device.Class)
		opts = append(opts, device.WithClass(class))
	}
	return device.NewProcSource(opts...)
}

// newSensor picks the temperature source. auto prefers the platform thermal
// zones and falls back to the GPU sensor.
func newSensor(cfg *config.Config, dev *gpu.Device) (thermal.Sensor, error) {
	errFactory := errors.New()

	switch cfg.Thermal.Source {
	case config.SourceGPU:
		if dev == nil {
			return nil, errFactory.WithData(errors.ErrDependencyMissing, "thermal.source=gpu requires a GPU")
		}
		return dev.TemperatureSensor(), nil
	case config.SourceSysfs:
		sensor, err := thermal.NewSysfsSensor(cfg.Thermal.SysfsMount, cfg.Thermal.Zones...)
		if err != nil {
			return nil, err
		}
		return sensor, nil
	}

	sensor, err := thermal.NewSysfsSensor(cfg.Thermal.SysfsMount, cfg.Thermal.Zones...)
	if err == nil {
		return sensor, nil
	}
	if dev != nil {
		logger.Debug().Err(err).Msg("Thermal zones unavailable, using GPU temperature")
		return dev.TemperatureSensor(), nil
	}
	return nil, err
}

// powerGovernor returns the GPU governor when power control is enabled and
// supported, nil otherwise.
func (st *stack) powerGovernor(cfg *config.Config) scheduler.PowerGovernor {
	if st.gpu == nil || !cfg.GPU.PowerControl {
		return nil
	}
	gov, err := st.gpu.PowerGovernor()
	if err != nil {
		logger.Warn().Err(err).Msg("GPU power control unavailable")
		return nil
	}
	return gov
}

// close restores the default GPU power limit and shuts NVML down.
func (st *stack) close() {
	if st.gpu == nil {
		return
	}
	if err := st.gpu.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down GPU")
	}
}

func newManager(cfg *config.Config, planner session.Planner, sink events.Sink, opts ...session.Option) (*session.Manager, error) {
	checker, err := safety.NewPatternChecker(cfg.SafetyConfig())
	if err != nil {
		return nil, err
	}

	opts = append([]session.Option{
		session.WithLogger(logger.Component("session")),
		session.WithSink(sink),
		session.WithSafety(checker),
	}, opts...)

	return session.New(cfg.SessionConfig(), engine.NewRegistry(logger.Component("engine")), planner, opts...)
}

// loadCatalog merges the catalog file with a scan of the models directory.
// Entries from the file win on id clashes.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	c := &catalog.Catalog{}
	if cfg.Models.Catalog != "" {
		fromFile, err := catalog.Load(cfg.Models.Catalog)
		if err != nil {
			return nil, err
		}
		c.Merge(fromFile)
	}
	if cfg.Models.Dir != "" {
		scanned, err := catalog.Scan(cfg.Models.Dir)
		if err != nil {
			return nil, err
		}
		c.Merge(scanned)
	}
	return c, nil
}
