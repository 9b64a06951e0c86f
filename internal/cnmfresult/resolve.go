package cnmfresult

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Selection is one resolved (k, threshold) pair with the files to parse.
type Selection struct {
	K         int
	Threshold float64

	spectra string
	usages  string
	score   string // optional
	tpm     string // optional
}

// Resolve picks the threshold to load for every requested rank. With an
// explicit threshold every rank must have it. Without one, each rank must
// have exactly one threshold available. An empty ks requests all ranks.
func (d *Discovery) Resolve(ks []int, threshold *float64) ([]Selection, error) {
	if len(ks) == 0 {
		ks = d.Ranks()
	} else {
		ks = append([]int(nil), ks...)
		sort.Ints(ks)
	}
	if len(ks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoResults, d.Dir)
	}

	// resolve every threshold before touching files so ambiguity is
	// reported for the lowest offending rank
	dts := make([]float64, len(ks))
	for i, k := range ks {
		if i > 0 && ks[i-1] == k {
			return nil, fmt.Errorf("rank k=%d requested twice", k)
		}
		if threshold != nil {
			dts[i] = *threshold
			continue
		}
		available := d.Thresholds(k)
		switch len(available) {
		case 0:
			pattern := fmt.Sprintf("%s.%s.k_%d.dt_*.consensus.txt", d.Name, roleSpectra, k)
			return nil, &MissingFileError{K: k, Kind: string(roleSpectra), Path: filepath.Join(d.Dir, pattern)}
		case 1:
			dts[i] = available[0]
		default:
			return nil, &AmbiguousThresholdError{K: k, Thresholds: available}
		}
	}

	sels := make([]Selection, 0, len(ks))
	for i, k := range ks {
		dt := dts[i]
		sel := Selection{K: k, Threshold: dt}
		for _, required := range []struct {
			role fileRole
			dst  *string
		}{{roleSpectra, &sel.spectra}, {roleUsages, &sel.usages}} {
			path, ok := d.lookup(required.role, k, dt)
			if !ok {
				return nil, &MissingFileError{K: k, Threshold: dt, Kind: string(required.role), Path: d.expectedPath(required.role, k, dt)}
			}
			*required.dst = path
		}
		sel.score, _ = d.lookup(roleScore, k, dt)
		sel.tpm, _ = d.lookup(roleTPM, k, dt)
		sels = append(sels, sel)
	}
	return sels, nil
}
