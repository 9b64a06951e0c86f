package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigConflict is matched by ConfigConflictError.
	ErrConfigConflict = errors.New("registry: declarative spec and raw files are mutually exclusive")

	// ErrNoSource means neither a declarative spec nor raw files were given.
	ErrNoSource = errors.New("registry: no declarative spec or raw files given")

	// ErrUnsupportedFormat is matched by UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("registry: unsupported file format")

	// ErrDuplicateDataset means two datasets resolve to the same name.
	ErrDuplicateDataset = errors.New("registry: duplicate dataset name")

	// ErrInvalidDataset means a dataset entry lacks a required field.
	ErrInvalidDataset = errors.New("registry: invalid dataset")
)

// ConfigConflictError reports both sources being supplied to Load.
type ConfigConflictError struct {
	SpecPath string
	Files    []string
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("registry: declarative spec %q given together with %d raw file(s) [%s]; supply one or the other",
		e.SpecPath, len(e.Files), strings.Join(e.Files, ", "))
}

func (e *ConfigConflictError) Is(target error) bool { return target == ErrConfigConflict }

// UnsupportedFormatError reports an input whose extension is not the one expected.
type UnsupportedFormatError struct {
	Path string
	Want string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("registry: %q does not have the expected %q extension", e.Path, e.Want)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }
