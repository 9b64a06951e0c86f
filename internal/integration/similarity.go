package integration

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	cnmflog "github.com/sawpanic/cnmfsns/internal/log"
)

// computeSimilarity fills the upper triangle row block by row block. Each
// task owns the rows of its block, so tasks share no written memory; the
// lower triangle is mirrored once all tasks finish.
func (n *Network) computeSimilarity(ctx context.Context, al *alignment, o options) error {
	p := len(n.geps)
	n.coef = make([]float64, p*p)

	// position of each GEP within its dataset
	local := make([]int, p)
	for i := 1; i < p; i++ {
		if n.gepSet[i] == n.gepSet[i-1] {
			local[i] = local[i-1] + 1
		}
	}

	progress := cnmflog.NewProgressIndicator(o.logger, "pairwise "+n.method.String(), p, cnmflog.ProgressConfig{StepPercent: 5})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for lo := 0; lo < p; lo += o.blockRows {
		lo, hi := lo, min(lo+o.blockRows, p)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := n.computeRow(i, local, al); err != nil {
					return err
				}
				progress.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		progress.Fail(err)
		return err
	}
	progress.Finish()

	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			n.coef[j*p+i] = n.coef[i*p+j]
		}
	}
	return nil
}

func (n *Network) computeRow(i int, local []int, al *alignment) error {
	p := len(n.geps)
	a := n.gepSet[i]
	n.coef[i*p+i] = 1
	for j := i + 1; j < p; j++ {
		b := n.gepSet[j]
		r, err := correlate(al.vectors[a][b][local[i]], al.vectors[b][a][local[j]])
		if err != nil {
			return fmt.Errorf("%s vs %s: %w", n.geps[i], n.geps[j], err)
		}
		n.coef[i*p+j] = r
	}
	return nil
}

// correlate is Pearson's r on aligned vectors, clamped to [-1, 1]. Fewer
// than two genes or a constant vector give NaN.
func correlate(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return math.NaN(), fmt.Errorf("%w: %d vs %d genes", ErrUnalignedComparison, len(x), len(y))
	}
	if len(x) < 2 {
		return math.NaN(), nil
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return math.NaN(), nil
	}
	return math.Max(-1, math.Min(1, r)), nil
}

// Coefficient returns the coefficient between GEPs i and j in matrix order.
func (n *Network) Coefficient(i, j int) float64 {
	return n.coef[i*len(n.geps)+j]
}

// Similarity returns a copy of the full symmetric coefficient matrix,
// including the unit diagonal and NaN for undefined pairs.
func (n *Network) Similarity() *mat.SymDense {
	data := make([]float64, len(n.coef))
	copy(data, n.coef)
	return mat.NewSymDense(len(n.geps), data)
}
