package cnmfresult

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrAmbiguousThreshold matches AmbiguousThresholdError.
	ErrAmbiguousThreshold = errors.New("ambiguous local density threshold")

	// ErrMissingFile matches MissingFileError.
	ErrMissingFile = errors.New("missing consensus file")

	// ErrGeneSetMismatch matches GeneSetMismatchError.
	ErrGeneSetMismatch = errors.New("gene set mismatch")

	// ErrNoResults is returned when a directory holds no consensus spectra.
	ErrNoResults = errors.New("no consensus results found")

	// ErrNoReceipt is returned by DeleteSource without a successful export.
	ErrNoReceipt = errors.New("no export receipt")

	// ErrExportNotDurable is returned by DeleteSource when the stored
	// artifact no longer matches its receipt.
	ErrExportNotDurable = errors.New("exported container does not match receipt")
)

// AmbiguousThresholdError reports several thresholds for one rank with none chosen.
type AmbiguousThresholdError struct {
	K          int
	Thresholds []float64
}

func (e *AmbiguousThresholdError) Error() string {
	vals := make([]string, len(e.Thresholds))
	for i, v := range e.Thresholds {
		vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprintf("k=%d has local density thresholds %s; specify one explicitly",
		e.K, strings.Join(vals, ", "))
}

func (e *AmbiguousThresholdError) Is(target error) bool { return target == ErrAmbiguousThreshold }

// MissingFileError reports an expected result file absent for a requested rank.
type MissingFileError struct {
	K         int
	Threshold float64
	Kind      string
	Path      string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("missing %s file for k=%d dt=%g: %s", e.Kind, e.K, e.Threshold, e.Path)
}

func (e *MissingFileError) Is(target error) bool { return target == ErrMissingFile }

// GeneSetMismatchError reports misaligned indices between paired inputs.
type GeneSetMismatchError struct {
	What   string
	Detail string
}

func (e *GeneSetMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: %s", e.What, e.Detail)
}

func (e *GeneSetMismatchError) Is(target error) bool { return target == ErrGeneSetMismatch }

func mismatch(what, format string, args ...any) error {
	return &GeneSetMismatchError{What: what, Detail: fmt.Sprintf(format, args...)}
}
