package cnmfresult

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// thresholdEpsilon is the tolerance for numeric threshold equality.
const thresholdEpsilon = 1e-9

type fileRole string

const (
	roleSpectra fileRole = "spectra"
	roleUsages  fileRole = "usages"
	roleScore   fileRole = "gene_spectra_score"
	roleTPM     fileRole = "gene_spectra_tpm"
)

type resultFile struct {
	role      fileRole
	k         int
	threshold float64
	path      string
}

// Discovery lists the result files found in one cNMF run directory.
type Discovery struct {
	Dir   string
	Name  string
	files []resultFile
}

// Discover scans dir for cNMF result files. The run name is the base name
// of dir; files of other runs sharing the directory are ignored.
func Discover(dir string) (*Discovery, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat result dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("result dir %s is not a directory", dir)
	}

	name := filepath.Base(filepath.Clean(dir))
	quoted := regexp.QuoteMeta(name)
	consensusRe := regexp.MustCompile(`^` + quoted + `\.(spectra|usages)\.k_(\d+)\.dt_([0-9_]+)\.consensus\.txt$`)
	geneSpectraRe := regexp.MustCompile(`^` + quoted + `\.(gene_spectra_score|gene_spectra_tpm)\.k_(\d+)\.dt_([0-9_]+)\.txt$`)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read result dir: %w", err)
	}

	d := &Discovery{Dir: dir, Name: name}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := consensusRe.FindStringSubmatch(entry.Name())
		if m == nil {
			m = geneSpectraRe.FindStringSubmatch(entry.Name())
		}
		if m == nil {
			continue
		}
		k, err := strconv.Atoi(m[2])
		if err != nil || k <= 0 {
			continue
		}
		dt, err := ParseThreshold(m[3])
		if err != nil {
			continue
		}
		d.files = append(d.files, resultFile{
			role:      fileRole(m[1]),
			k:         k,
			threshold: dt,
			path:      filepath.Join(dir, entry.Name()),
		})
	}
	return d, nil
}

// ParseThreshold decodes the dt token of a file name: "0_1" is 0.1.
func ParseThreshold(token string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(token, "_", "."), 64)
}

// FormatThreshold encodes dt the way cNMF names its files: 2 is "2_0".
func FormatThreshold(dt float64) string {
	s := strconv.FormatFloat(dt, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return strings.ReplaceAll(s, ".", "_")
}

// Ranks returns every k with at least one consensus spectra file, ascending.
func (d *Discovery) Ranks() []int {
	seen := make(map[int]bool)
	var ks []int
	for _, f := range d.files {
		if f.role == roleSpectra && !seen[f.k] {
			seen[f.k] = true
			ks = append(ks, f.k)
		}
	}
	sort.Ints(ks)
	return ks
}

// Thresholds returns the distinct thresholds with consensus spectra for k, ascending.
func (d *Discovery) Thresholds(k int) []float64 {
	var out []float64
	for _, f := range d.files {
		if f.role != roleSpectra || f.k != k {
			continue
		}
		dup := false
		for _, v := range out {
			if sameThreshold(v, f.threshold) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f.threshold)
		}
	}
	sort.Float64s(out)
	return out
}

func (d *Discovery) lookup(role fileRole, k int, dt float64) (string, bool) {
	for _, f := range d.files {
		if f.role == role && f.k == k && sameThreshold(f.threshold, dt) {
			return f.path, true
		}
	}
	return "", false
}

// expectedPath is the canonical file name for a missing file.
func (d *Discovery) expectedPath(role fileRole, k int, dt float64) string {
	suffix := ".consensus.txt"
	if role == roleScore || role == roleTPM {
		suffix = ".txt"
	}
	return filepath.Join(d.Dir, fmt.Sprintf("%s.%s.k_%d.dt_%s%s", d.Name, role, k, FormatThreshold(dt), suffix))
}

func sameThreshold(a, b float64) bool {
	return math.Abs(a-b) < thresholdEpsilon
}
