// Package registry holds the datasets declared for an integration: their
// names, container files, metadata tables and display colors.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// SpecExt is the extension of declarative registry files.
	SpecExt = ".toml"

	// RawExt is the extension of standardized container files accepted as
	// raw inputs. It matches cnmfresult.FileExt.
	RawExt = ".cnmf.zst"
)

// Dataset is one declared dataset
type Dataset struct {
	Name     string // unique key
	Filename string // standardized container file
	Metadata string // optional sample metadata table
	Color    string // display color, empty until assigned
}

// Registry is an ordered set of datasets. Order is declaration order: the
// table order of a TOML file or the argument order of raw files. Palette
// colors are derived from these positions.
type Registry struct {
	datasets []Dataset
	index    map[string]int
}

// Source selects where Load reads datasets from. Exactly one field must be set.
type Source struct {
	SpecPath string   // declarative TOML file
	Files    []string // raw container files
}

// New creates an empty registry
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load builds a registry from either a declarative spec or raw container files
func Load(src Source) (*Registry, error) {
	switch {
	case src.SpecPath != "" && len(src.Files) > 0:
		return nil, &ConfigConflictError{SpecPath: src.SpecPath, Files: src.Files}
	case src.SpecPath != "":
		return LoadFile(src.SpecPath)
	case len(src.Files) > 0:
		return FromFiles(src.Files)
	default:
		return nil, ErrNoSource
	}
}

// FromFiles registers one dataset per container file, named after the file
func FromFiles(files []string) (*Registry, error) {
	for _, f := range files {
		if !strings.HasSuffix(f, RawExt) {
			return nil, &UnsupportedFormatError{Path: f, Want: RawExt}
		}
	}

	r := New()
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), RawExt)
		if err := r.Add(Dataset{Name: name, Filename: f}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends d after the datasets already declared
func (r *Registry) Add(d Dataset) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDataset)
	}
	if d.Filename == "" {
		return fmt.Errorf("%w: dataset %q has no filename", ErrInvalidDataset, d.Name)
	}

	if _, ok := r.index[d.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDataset, d.Name)
	}
	r.index[d.Name] = len(r.datasets)
	r.datasets = append(r.datasets, d)
	return nil
}

// Len returns the number of datasets
func (r *Registry) Len() int { return len(r.datasets) }

// Datasets returns a copy of the datasets in registry order
func (r *Registry) Datasets() []Dataset {
	out := make([]Dataset, len(r.datasets))
	copy(out, r.datasets)
	return out
}

// Names returns the dataset names in registry order
func (r *Registry) Names() []string {
	out := make([]string, len(r.datasets))
	for i, d := range r.datasets {
		out[i] = d.Name
	}
	return out
}

// Get looks a dataset up by name
func (r *Registry) Get(name string) (Dataset, bool) {
	i := r.Index(name)
	if i < 0 {
		return Dataset{}, false
	}
	return r.datasets[i], true
}

// Index returns the registry position of name, or -1
func (r *Registry) Index(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// Relocate rewrites the file references of dataset name. Colors are untouched.
func (r *Registry) Relocate(name, filename, metadata string) error {
	i := r.Index(name)
	if i < 0 {
		return fmt.Errorf("%w: unknown dataset %q", ErrInvalidDataset, name)
	}
	if filename == "" {
		return fmt.Errorf("%w: dataset %q has no filename", ErrInvalidDataset, name)
	}
	r.datasets[i].Filename = filename
	r.datasets[i].Metadata = metadata
	return nil
}

// AddMissingColors assigns a palette color to every dataset without one.
// The color is picked by registry position. Returns how many were assigned;
// a second call on a fully colored registry returns 0.
func (r *Registry) AddMissingColors() int {
	added := 0
	for i := range r.datasets {
		if r.datasets[i].Color != "" {
			continue
		}
		r.datasets[i].Color = PaletteColor(i)
		added++
	}
	return added
}
