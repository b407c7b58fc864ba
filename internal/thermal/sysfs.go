package thermal

import (
	"context"
	"strings"

	"codeberg.org/mutker/inferctl/internal/errors"
	"github.com/prometheus/procfs/sysfs"
)

const milliDegrees = 1000.0

// SysfsSensor reports the hottest Linux thermal zone.
type SysfsSensor struct {
	fs    sysfs.FS
	types map[string]struct{}
}

// NewSysfsSensor opens the sysfs mount (empty for the default). When types is
// non-empty only zones of those types (e.g. "x86_pkg_temp") are considered.
func NewSysfsSensor(mountPoint string, types ...string) (*SysfsSensor, error) {
	errFactory := errors.New()

	if mountPoint == "" {
		mountPoint = sysfs.DefaultMountPoint
	}
	fs, err := sysfs.NewFS(mountPoint)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrDependencyMissing, err)
	}

	s := &SysfsSensor{fs: fs, types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			s.types[t] = struct{}{}
		}
	}

	return s, nil
}

func (s *SysfsSensor) Read(ctx context.Context) (Reading, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	zones, err := s.fs.ClassThermalZoneStats()
	if err != nil {
		return Reading{}, errFactory.Wrap(ErrZoneReadFailed, err)
	}

	found := false
	var hottest int64
	for _, z := range zones {
		if len(s.types) > 0 {
			if _, ok := s.types[z.Type]; !ok {
				continue
			}
		}
		if !found || z.Temp > hottest {
			hottest = z.Temp
			found = true
		}
	}
	if !found {
		return Reading{}, errFactory.New(ErrNoThermalZones)
	}

	return Reading{Value: float64(hottest) / milliDegrees}, nil
}
