package device

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
	"github.com/prometheus/procfs"
)

const kib = 1024

// ProcSource reads utilisation from procfs. The profile is computed once in
// NewProcSource; Load reports utilisation since the previous call (since boot
// on the first call).
type ProcSource struct {
	fs      procfs.FS
	profile Profile

	mu        sync.Mutex
	prevTotal procfs.CPUStat
	prevCores map[int64]procfs.CPUStat
}

// Option customises a ProcSource.
type Option func(*procOptions)

type procOptions struct {
	mountPoint   string
	capabilities Capability
	accelerator  string
	class        *Class
	cores        int
}

// WithMountPoint reads procfs from a non-default location.
func WithMountPoint(path string) Option {
	return func(o *procOptions) { o.mountPoint = path }
}

// WithCapabilities adds accelerator capabilities discovered elsewhere.
func WithCapabilities(c Capability, name string) Option {
	return func(o *procOptions) {
		o.capabilities |= c
		o.accelerator = name
	}
}

// WithClass overrides the derived performance class.
func WithClass(c Class) Option {
	return func(o *procOptions) { o.class = &c }
}

// WithCores overrides the detected core count.
func WithCores(n int) Option {
	return func(o *procOptions) { o.cores = n }
}

// NewProcSource builds the device profile from /proc and the given options.
func NewProcSource(opts ...Option) (*ProcSource, error) {
	errFactory := errors.New()
	o := procOptions{mountPoint: procfs.DefaultMountPoint}
	for _, opt := range opts {
		opt(&o)
	}

	fs, err := procfs.NewFS(o.mountPoint)
	if err != nil {
		return nil, errFactory.Wrap(ErrProcfsUnavailable, err)
	}

	mi, err := fs.Meminfo()
	if err != nil {
		return nil, errFactory.Wrap(ErrMeminfoReadFailed, err)
	}

	cores := o.cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	var ram uint64
	if mi.MemTotal != nil {
		ram = *mi.MemTotal * kib
	}

	p := Profile{
		Cores:           cores,
		Capabilities:    o.capabilities,
		RAMBytes:        ram,
		AcceleratorName: o.accelerator,
		Class:           Classify(cores, ram),
	}
	if o.class != nil {
		p.Class = *o.class
	}

	return &ProcSource{fs: fs, profile: p}, nil
}

func (s *ProcSource) Profile() Profile {
	return s.profile
}

func (s *ProcSource) Load(ctx context.Context) (Load, error) {
	errFactory := errors.New()
	if err := ctx.Err(); err != nil {
		return Load{}, errFactory.Wrap(errors.ErrTimeout, err)
	}

	stat, err := s.fs.Stat()
	if err != nil {
		return Load{}, errFactory.Wrap(ErrStatReadFailed, err)
	}
	mi, err := s.fs.Meminfo()
	if err != nil {
		return Load{}, errFactory.Wrap(ErrMeminfoReadFailed, err)
	}

	s.mu.Lock()
	total := utilisation(s.prevTotal, stat.CPUTotal)
	ids := make([]int64, 0, len(stat.CPU))
	for id := range stat.CPU {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	perCore := make([]float64, 0, len(ids))
	for _, id := range ids {
		perCore = append(perCore, utilisation(s.prevCores[id], stat.CPU[id]))
	}
	s.prevTotal = stat.CPUTotal
	s.prevCores = stat.CPU
	s.mu.Unlock()

	l := Load{
		Timestamp:  time.Now(),
		CPUPercent: total,
		PerCore:    perCore,
	}
	if mi.MemTotal != nil && *mi.MemTotal > 0 && mi.MemAvailable != nil {
		avail := *mi.MemAvailable
		l.AvailableBytes = avail * kib
		l.MemoryPressure = 1 - float64(avail)/float64(*mi.MemTotal)
	}

	return l, nil
}

// utilisation returns busy time as a percentage of elapsed time between two
// cumulative CPU stat samples.
func utilisation(prev, cur procfs.CPUStat) float64 {
	prevBusy, prevTotal := cpuTimes(prev)
	curBusy, curTotal := cpuTimes(cur)

	dt := curTotal - prevTotal
	if dt <= 0 {
		return 0
	}
	pct := (curBusy - prevBusy) / dt * 100

	return min(100, max(0, pct))
}

func cpuTimes(s procfs.CPUStat) (busy, total float64) {
	idle := s.Idle + s.Iowait
	busy = s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal
	return busy, busy + idle
}
