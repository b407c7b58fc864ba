// Package catalog resolves model descriptors from a YAML file and a model
// directory.
package catalog

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	ErrReadCatalog  = errors.ErrorCode("catalog_read_failed")
	ErrParseCatalog = errors.ErrorCode("catalog_parse_failed")
	ErrInvalidEntry = errors.ErrorCode("catalog_invalid_entry")
	ErrUnknownModel = errors.ErrorCode("catalog_unknown_model")
	ErrDuplicateID  = errors.ErrorCode("catalog_duplicate_id")
)

const (
	modelFileExt    = ".gguf"
	catalogFileMode = 0o644
)

// Entry is one model as written in a catalog file.
type Entry struct {
	ID          string `yaml:"id"`
	Path        string `yaml:"path"`
	Backend     string `yaml:"backend,omitempty"`
	ContextSize int    `yaml:"context_size,omitempty"`
}

type file struct {
	Models []Entry `yaml:"models"`
}

// Catalog is an ordered set of descriptors keyed by id.
type Catalog struct {
	models []engine.Descriptor
}

// Load reads a YAML catalog. Relative paths resolve against the file's
// directory.
func Load(path string) (*Catalog, error) {
	errFactory := errors.New()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadCatalog, err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errFactory.Wrap(ErrParseCatalog, err)
	}

	c := &Catalog{}
	base := filepath.Dir(path)
	for _, e := range f.Models {
		if e.ID == "" || e.Path == "" {
			return nil, errFactory.WithData(ErrInvalidEntry, e)
		}
		p := expandHome(e.Path)
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		backend := engine.Backend(e.Backend)
		if backend == "" {
			backend = engine.BackendLlama
		}
		if err := c.add(engine.Descriptor{ID: e.ID, Path: p, Backend: backend, ContextSize: e.ContextSize}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Scan lists *.gguf files in dir. The id is the file name without extension.
func Scan(dir string) (*Catalog, error) {
	errFactory := errors.New()

	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return nil, errFactory.Wrap(ErrReadCatalog, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadCatalog, err)
	}

	c := &Catalog{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), modelFileExt) {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if err := c.add(engine.Descriptor{ID: id, Path: filepath.Join(abs, name), Backend: engine.BackendLlama}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(d engine.Descriptor) error {
	if _, ok := c.Get(d.ID); ok {
		return errors.New().WithData(ErrDuplicateID, d.ID)
	}
	c.models = append(c.models, d)
	return nil
}

// Merge adds the models of other that c does not already know.
func (c *Catalog) Merge(other *Catalog) {
	for _, d := range other.models {
		if _, ok := c.Get(d.ID); !ok {
			c.models = append(c.models, d)
		}
	}
}

func (c *Catalog) Get(id string) (engine.Descriptor, bool) {
	i := slices.IndexFunc(c.models, func(d engine.Descriptor) bool { return d.ID == id })
	if i < 0 {
		return engine.Descriptor{}, false
	}
	return c.models[i], true
}

// Resolve returns the descriptor for ref, which is either a catalog id or a
// path to a model file.
func (c *Catalog) Resolve(ref string) (engine.Descriptor, error) {
	if d, ok := c.Get(ref); ok {
		return d, nil
	}
	if strings.EqualFold(filepath.Ext(ref), modelFileExt) {
		if _, err := os.Stat(ref); err == nil {
			id := strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
			return engine.Descriptor{ID: id, Path: ref, Backend: engine.BackendLlama}, nil
		}
	}
	return engine.Descriptor{}, errors.New().WithData(ErrUnknownModel, ref)
}

func (c *Catalog) Models() []engine.Descriptor { return slices.Clone(c.models) }

// Save writes the catalog as YAML.
func (c *Catalog) Save(path string) error {
	f := file{Models: make([]Entry, 0, len(c.models))}
	for _, d := range c.models {
		f.Models = append(f.Models, Entry{ID: d.ID, Path: d.Path, Backend: string(d.Backend), ContextSize: d.ContextSize})
	}
	b, err := yaml.Marshal(f)
	if err != nil {
		return errors.New().Wrap(ErrParseCatalog, err)
	}
	return os.WriteFile(path, b, catalogFileMode)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
}
