package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/safety"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/session"
	"codeberg.org/mutker/inferctl/internal/telemetry"
	"codeberg.org/mutker/inferctl/internal/thermal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultEnvPrefix  = "INFERCTL"
	DefaultListenAddr = "127.0.0.1:9464"

	configName = "inferctl"
	configType = "toml"
)

// Thermal sources.
const (
	SourceAuto  = "auto"
	SourceSysfs = "sysfs"
	SourceGPU   = "gpu"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Device    DeviceConfig    `mapstructure:"device"`
	Thermal   ThermalConfig   `mapstructure:"thermal"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Session   SessionConfig   `mapstructure:"session"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	GPU       GPUConfig       `mapstructure:"gpu"`
	Models    ModelsConfig    `mapstructure:"models"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DeviceConfig struct {
	// Class overrides the class derived from cores and RAM.
	Class     string `mapstructure:"class"`
	ProcMount string `mapstructure:"proc_mount"`
}

type ThermalConfig struct {
	Source      string        `mapstructure:"source"`
	SysfsMount  string        `mapstructure:"sysfs_mount"`
	Zones       []string      `mapstructure:"zones"`
	Period      time.Duration `mapstructure:"period"`
	HistorySize int           `mapstructure:"history_size"`
	TrendWindow int           `mapstructure:"trend_window"`
	Warm        float64       `mapstructure:"warm"`
	Hot         float64       `mapstructure:"hot"`
	Critical    float64       `mapstructure:"critical"`
	StableSlope float64       `mapstructure:"stable_slope"`
	FastSlope   float64       `mapstructure:"fast_slope"`
}

type SchedulerConfig struct {
	InitialMode         string        `mapstructure:"initial_mode"`
	BoostDuration       time.Duration `mapstructure:"boost_duration"`
	BoostCooldown       time.Duration `mapstructure:"boost_cooldown"`
	LoadPeriod          time.Duration `mapstructure:"load_period"`
	MemoryPressureRatio float64       `mapstructure:"memory_pressure_ratio"`
}

type SessionConfig struct {
	ContextSize   int     `mapstructure:"context_size"`
	Seed          int     `mapstructure:"seed"`
	WindowCeiling int     `mapstructure:"window_ceiling"`
	WindowTarget  int     `mapstructure:"window_target"`
	CheckEvery    int     `mapstructure:"check_every"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	TopK          int     `mapstructure:"top_k"`
	TopP          float64 `mapstructure:"top_p"`
}

type SafetyConfig struct {
	InputPatterns  []string `mapstructure:"input_patterns"`
	OutputPatterns []string `mapstructure:"output_patterns"`
}

type TelemetryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DBPath    string        `mapstructure:"db_path"`
	BackupDir string        `mapstructure:"backup_dir"`
	Retention time.Duration `mapstructure:"retention"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type GPUConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Index        int  `mapstructure:"index"`
	PowerControl bool `mapstructure:"power_control"`
}

type ModelsConfig struct {
	Catalog string `mapstructure:"catalog"`
	Dir     string `mapstructure:"dir"`
	Default string `mapstructure:"default"`
}

// flagKeys maps flag names registered by RegisterFlags to config keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"device-class":   "device.class",
	"thermal-source": "thermal.source",
	"mode":           "scheduler.initial_mode",
	"telemetry":      "telemetry.enabled",
	"telemetry-db":   "telemetry.db_path",
	"listen":         "metrics.addr",
	"metrics":        "metrics.enabled",
	"gpu":            "gpu.enabled",
	"gpu-index":      "gpu.index",
	"catalog":        "models.catalog",
	"models-dir":     "models.dir",
	"model":          "models.default",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("device-class", "", "Override the device class (budget, midrange, high, flagship)")
	fs.String("thermal-source", SourceAuto, "Thermal sensor (auto, sysfs, gpu)")
	fs.String("mode", scheduler.ModeBalanced.String(), "Initial performance mode")
	fs.Bool("telemetry", false, "Record scheduler snapshots to SQLite")
	fs.String("telemetry-db", telemetry.DefaultConfig().DBPath, "Telemetry database path")
	fs.String("listen", DefaultListenAddr, "Diagnostics server address")
	fs.Bool("metrics", false, "Serve diagnostics and Prometheus metrics")
	fs.Bool("gpu", true, "Use an NVIDIA GPU when present")
	fs.Int("gpu-index", 0, "NVML device index")
	fs.String("catalog", "", "Model catalog file (YAML)")
	fs.String("models-dir", "", "Directory scanned for *.gguf models")
	fs.String("model", "", "Model to load at startup (catalog id or path)")
}

func setDefaults(v *viper.Viper) {
	th := thermal.DefaultConfig()
	sc := scheduler.DefaultConfig()
	ss := session.DefaultConfig()
	tc := telemetry.DefaultConfig()

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("device.class", "")
	v.SetDefault("device.proc_mount", "/proc")
	v.SetDefault("thermal.source", SourceAuto)
	v.SetDefault("thermal.sysfs_mount", "/sys")
	v.SetDefault("thermal.zones", []string{})
	v.SetDefault("thermal.period", th.Period)
	v.SetDefault("thermal.history_size", th.HistorySize)
	v.SetDefault("thermal.trend_window", th.TrendWindow)
	v.SetDefault("thermal.warm", th.Thresholds.Warm)
	v.SetDefault("thermal.hot", th.Thresholds.Hot)
	v.SetDefault("thermal.critical", th.Thresholds.Critical)
	v.SetDefault("thermal.stable_slope", th.StableSlope)
	v.SetDefault("thermal.fast_slope", th.FastSlope)
	v.SetDefault("scheduler.initial_mode", sc.InitialMode.String())
	v.SetDefault("scheduler.boost_duration", sc.BoostDuration)
	v.SetDefault("scheduler.boost_cooldown", sc.BoostCooldown)
	v.SetDefault("scheduler.load_period", sc.LoadPeriod)
	v.SetDefault("scheduler.memory_pressure_ratio", sc.MemoryPressureRatio)
	v.SetDefault("session.context_size", ss.ContextSize)
	v.SetDefault("session.seed", ss.Seed)
	v.SetDefault("session.window_ceiling", ss.WindowCeiling)
	v.SetDefault("session.window_target", ss.WindowTarget)
	v.SetDefault("session.check_every", ss.CheckEvery)
	v.SetDefault("session.max_tokens", ss.Defaults.MaxTokens)
	v.SetDefault("session.temperature", ss.Defaults.Temperature)
	v.SetDefault("session.top_k", ss.Defaults.TopK)
	v.SetDefault("session.top_p", ss.Defaults.TopP)
	v.SetDefault("safety.input_patterns", []string{})
	v.SetDefault("safety.output_patterns", []string{})
	v.SetDefault("telemetry.enabled", tc.Enabled)
	v.SetDefault("telemetry.db_path", tc.DBPath)
	v.SetDefault("telemetry.backup_dir", tc.BackupDir)
	v.SetDefault("telemetry.retention", tc.Retention)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", DefaultListenAddr)
	v.SetDefault("gpu.enabled", true)
	v.SetDefault("gpu.index", 0)
	v.SetDefault("gpu.power_control", true)
	v.SetDefault("models.catalog", "")
	v.SetDefault("models.dir", "")
	v.SetDefault("models.default", "")
}

// Load merges defaults, the TOML config file, INFERCTL_* environment
// variables and explicitly set flags, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		if f := o.flags.Lookup("config"); f != nil && f.Changed {
			o.configPath = f.Value.String()
		}
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfigFile(v *viper.Viper, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath("/etc")
	if home, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(home + "/" + configName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}
	return nil
}

// Validate checks every section and reports all invalid fields at once.
func (c *Config) Validate() error {
	var verrs ValidationErrors
	add := func(field string, value any, reason string) {
		verrs = append(verrs, fieldError{field: field, value: value, reason: reason})
	}

	if !LogLevel(strings.ToLower(c.Log.Level)).IsValid() {
		add("log.level", c.Log.Level, "must be one of debug, info, warning, error")
	}
	if c.Device.Class != "" {
		if _, ok := device.ParseClass(c.Device.Class); !ok {
			add("device.class", c.Device.Class, "unknown device class")
		}
	}

	switch c.Thermal.Source {
	case SourceAuto, SourceSysfs, SourceGPU:
	default:
		add("thermal.source", c.Thermal.Source, "must be one of auto, sysfs, gpu")
	}
	if c.Thermal.Period <= 0 {
		add("thermal.period", c.Thermal.Period, "must be positive")
	}
	if !(c.Thermal.Warm < c.Thermal.Hot && c.Thermal.Hot < c.Thermal.Critical) {
		add("thermal.warm/hot/critical", []float64{c.Thermal.Warm, c.Thermal.Hot, c.Thermal.Critical}, "thresholds must be strictly ascending")
	}
	if c.Thermal.TrendWindow < 2 || c.Thermal.TrendWindow > c.Thermal.HistorySize {
		add("thermal.trend_window", c.Thermal.TrendWindow, "must be in [2, history_size]")
	}

	if _, err := scheduler.ParseMode(c.Scheduler.InitialMode); err != nil {
		add("scheduler.initial_mode", c.Scheduler.InitialMode, "unknown performance mode")
	}
	if c.Scheduler.BoostDuration <= 0 {
		add("scheduler.boost_duration", c.Scheduler.BoostDuration, "must be positive")
	}
	if c.Scheduler.LoadPeriod <= 0 {
		add("scheduler.load_period", c.Scheduler.LoadPeriod, "must be positive")
	}
	if r := c.Scheduler.MemoryPressureRatio; r <= 0 || r > 1 {
		add("scheduler.memory_pressure_ratio", r, "must be in (0, 1]")
	}

	if c.Session.WindowTarget > c.Session.WindowCeiling {
		add("session.window_target", c.Session.WindowTarget, "must not exceed session.window_ceiling")
	}
	if c.Session.CheckEvery < 1 {
		add("session.check_every", c.Session.CheckEvery, "must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.DBPath == "" {
		add("telemetry.db_path", c.Telemetry.DBPath, "required when telemetry is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr", c.Metrics.Addr, "required when metrics are enabled")
	}
	if c.GPU.Index < 0 {
		add("gpu.index", c.GPU.Index, "must not be negative")
	}

	if len(verrs) > 0 {
		return errors.New().Wrap(errors.ErrInvalidConfig, verrs)
	}
	return nil
}

// Status reports whether c is valid.
func (c *Config) Status() Status {
	err := c.Validate()
	if err == nil {
		return Status{Valid: true}
	}
	var verrs ValidationErrors
	errors.As(err, &verrs)
	return Status{ValidationErrors: verrs}
}

func (c *Config) ThermalConfig() thermal.Config {
	return thermal.Config{
		Period:      c.Thermal.Period,
		HistorySize: c.Thermal.HistorySize,
		TrendWindow: c.Thermal.TrendWindow,
		Thresholds: thermal.Thresholds{
			Warm:     c.Thermal.Warm,
			Hot:      c.Thermal.Hot,
			Critical: c.Thermal.Critical,
		},
		StableSlope: c.Thermal.StableSlope,
		FastSlope:   c.Thermal.FastSlope,
	}
}

func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	mode, err := scheduler.ParseMode(c.Scheduler.InitialMode)
	if err != nil {
		return scheduler.Config{}, err
	}
	sc := scheduler.DefaultConfig()
	sc.InitialMode = mode
	sc.BoostDuration = c.Scheduler.BoostDuration
	sc.BoostCooldown = c.Scheduler.BoostCooldown
	sc.LoadPeriod = c.Scheduler.LoadPeriod
	sc.MemoryPressureRatio = c.Scheduler.MemoryPressureRatio
	return sc, sc.Validate()
}

func (c *Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.ContextSize = c.Session.ContextSize
	sc.Seed = c.Session.Seed
	sc.WindowCeiling = c.Session.WindowCeiling
	sc.WindowTarget = c.Session.WindowTarget
	sc.CheckEvery = c.Session.CheckEvery
	sc.Defaults.MaxTokens = c.Session.MaxTokens
	sc.Defaults.Temperature = float32(c.Session.Temperature)
	sc.Defaults.TopK = c.Session.TopK
	sc.Defaults.TopP = float32(c.Session.TopP)
	return sc
}

func (c *Config) SafetyConfig() safety.Config {
	return safety.Config{
		InputPatterns:  c.Safety.InputPatterns,
		OutputPatterns: c.Safety.OutputPatterns,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Telemetry.Enabled
	tc.DBPath = c.Telemetry.DBPath
	tc.BackupDir = c.Telemetry.BackupDir
	tc.Retention = c.Telemetry.Retention
	return tc
}
