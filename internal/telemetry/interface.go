package telemetry

import (
	"context"
	"time"
)

// Collector records scheduler snapshots.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Recent(ctx context.Context, limit int) ([]Snapshot, error)
	Close() error
}

// Repository is the storage behind a Collector.
type Repository interface {
	Record(snapshot *Snapshot) error
	Recent(ctx context.Context, limit int) ([]Snapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Flush() error
	Close() error
}

// Snapshot is one scheduler sample.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Temperature       float64   `json:"temperature"`
	ThermalState      string    `json:"thermal_state"`
	Trend             string    `json:"trend"`
	Mode              string    `json:"mode"`
	PreferredMode     string    `json:"preferred_mode"`
	InferenceThreads  int       `json:"inference_threads"`
	BackgroundThreads int       `json:"background_threads"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPressure    float64   `json:"memory_pressure"`
	BoostActive       bool      `json:"boost_active"`
}
