// Package cnmfresult parses cNMF consensus result directories into a
// standardized multi-rank container and moves that container through
// artifact storage.
package cnmfresult

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"
)

const (
	// FormatVersion is bumped on incompatible container layout changes.
	FormatVersion = 1

	// FileExt is the extension of encoded containers.
	FileExt = ".cnmf.zst"

	// ContentType is stored alongside exported containers.
	ContentType = "application/zstd"
)

// SpectraKind names one of the GEP matrices cNMF writes per rank.
type SpectraKind string

const (
	Consensus        SpectraKind = "consensus"          // density-filtered consensus GEPs
	GeneSpectraScore SpectraKind = "gene_spectra_score" // z-scored GEPs over all genes
	GeneSpectraTPM   SpectraKind = "gene_spectra_tpm"   // TPM-scaled GEPs over all genes
)

// Metadata is a per-sample annotation table. Rows align with Container.Samples.
type Metadata struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Rank holds the factorization at one k.
type Rank struct {
	K         int
	Threshold float64
	Spectra   map[SpectraKind]*mat.Dense // programs x genes; columns follow Container.Genes[kind]
	Usage     *mat.Dense                 // samples x programs; rows follow Container.Samples
}

// Container bundles every parsed rank of one dataset. It is not mutated
// after Load or Decode returns.
type Container struct {
	Name     string
	Source   string // result directory it was parsed from
	Genes    map[SpectraKind][]string
	Samples  []string
	Metadata *Metadata
	Ranks    []Rank // ascending k
}

// Ks returns the ranks held, ascending.
func (c *Container) Ks() []int {
	ks := make([]int, len(c.Ranks))
	for i, r := range c.Ranks {
		ks[i] = r.K
	}
	return ks
}

// Rank looks up the factorization at k.
func (c *Container) Rank(k int) (Rank, bool) {
	i := sort.Search(len(c.Ranks), func(i int) bool { return c.Ranks[i].K >= k })
	if i < len(c.Ranks) && c.Ranks[i].K == k {
		return c.Ranks[i], true
	}
	return Rank{}, false
}

// GEP returns program (1-based) of rank k for kind. The slice is a view
// into the container and must not be modified.
func (c *Container) GEP(kind SpectraKind, k, program int) ([]float64, error) {
	r, ok := c.Rank(k)
	if !ok {
		return nil, fmt.Errorf("%s: no rank k=%d", c.Name, k)
	}
	m, ok := r.Spectra[kind]
	if !ok {
		return nil, fmt.Errorf("%s: no %s spectra at k=%d", c.Name, kind, k)
	}
	if program < 1 || program > k {
		return nil, fmt.Errorf("%s: program %d out of range for k=%d", c.Name, program, k)
	}
	return m.RawRowView(program - 1), nil
}

type wireRank struct {
	K         int                    `json:"k"`
	Threshold float64                `json:"threshold"`
	Spectra   map[SpectraKind][]byte `json:"spectra"`
	Usage     []byte                 `json:"usage"`
}

type wireContainer struct {
	Version  int                      `json:"version"`
	Name     string                   `json:"name"`
	Source   string                   `json:"source,omitempty"`
	Genes    map[SpectraKind][]string `json:"genes"`
	Samples  []string                 `json:"samples"`
	Metadata *Metadata                `json:"metadata,omitempty"`
	Ranks    []wireRank               `json:"ranks"`
}

// Encode writes c as zstd-compressed JSON. Matrices travel in gonum's
// binary form so NaN cells survive.
func Encode(w io.Writer, c *Container) error {
	wc := wireContainer{
		Version:  FormatVersion,
		Name:     c.Name,
		Source:   c.Source,
		Genes:    c.Genes,
		Samples:  c.Samples,
		Metadata: c.Metadata,
		Ranks:    make([]wireRank, len(c.Ranks)),
	}
	for i, r := range c.Ranks {
		wr := wireRank{K: r.K, Threshold: r.Threshold, Spectra: make(map[SpectraKind][]byte, len(r.Spectra))}
		for kind, m := range r.Spectra {
			b, err := m.MarshalBinary()
			if err != nil {
				return fmt.Errorf("encode k=%d %s spectra: %w", r.K, kind, err)
			}
			wr.Spectra[kind] = b
		}
		b, err := r.Usage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode k=%d usage: %w", r.K, err)
		}
		wr.Usage = b
		wc.Ranks[i] = wr
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(wc); err != nil {
		zw.Close()
		return fmt.Errorf("encode container: %w", err)
	}
	return zw.Close()
}

// Decode reads a container written by Encode and checks its shapes.
func Decode(r io.Reader) (*Container, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var wc wireContainer
	if err := json.NewDecoder(zr).Decode(&wc); err != nil {
		return nil, fmt.Errorf("decode container: %w", err)
	}
	if wc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported container version %d (want %d)", wc.Version, FormatVersion)
	}

	c := &Container{
		Name:     wc.Name,
		Source:   wc.Source,
		Genes:    wc.Genes,
		Samples:  wc.Samples,
		Metadata: wc.Metadata,
		Ranks:    make([]Rank, len(wc.Ranks)),
	}
	for i, wr := range wc.Ranks {
		rank := Rank{K: wr.K, Threshold: wr.Threshold, Spectra: make(map[SpectraKind]*mat.Dense, len(wr.Spectra))}
		for kind, b := range wr.Spectra {
			var m mat.Dense
			if err := m.UnmarshalBinary(b); err != nil {
				return nil, fmt.Errorf("decode k=%d %s spectra: %w", wr.K, kind, err)
			}
			rank.Spectra[kind] = &m
		}
		var u mat.Dense
		if err := u.UnmarshalBinary(wr.Usage); err != nil {
			return nil, fmt.Errorf("decode k=%d usage: %w", wr.K, err)
		}
		rank.Usage = &u
		c.Ranks[i] = rank
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadFile decodes the container stored at path.
func ReadFile(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Container) validate() error {
	if c.Name == "" {
		return fmt.Errorf("container has no name")
	}
	for i, r := range c.Ranks {
		if i > 0 && c.Ranks[i-1].K >= r.K {
			return fmt.Errorf("container ranks not strictly ascending at k=%d", r.K)
		}
		if _, ok := r.Spectra[Consensus]; !ok {
			return fmt.Errorf("k=%d has no consensus spectra", r.K)
		}
		for kind, m := range r.Spectra {
			rows, cols := m.Dims()
			if rows != r.K || cols != len(c.Genes[kind]) {
				return mismatch(string(kind)+" spectra", "k=%d is %dx%d, want %dx%d", r.K, rows, cols, r.K, len(c.Genes[kind]))
			}
		}
		rows, cols := r.Usage.Dims()
		if rows != len(c.Samples) || cols != r.K {
			return mismatch("usage", "k=%d is %dx%d, want %dx%d", r.K, rows, cols, len(c.Samples), r.K)
		}
	}
	if c.Metadata != nil && len(c.Metadata.Rows) != len(c.Samples) {
		return mismatch("metadata", "%d rows for %d samples", len(c.Metadata.Rows), len(c.Samples))
	}
	return nil
}
