// Package computing pairwise distances between the sequences of an alignment
package distance

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/jsdoublel/phylogene/internal/align"
)

const DefaultGaps = "-"

var ErrDegenerateAlignment = errors.New("degenerate alignment")

// Distance between two aligned sequences of equal length
type Metric interface {
	Distance(a, b string) (float64, error)
}

// Identity (mismatch proportion) metric. Columns where either sequence has a
// gap are not comparable; d = 1 - identical / comparable. Residues are
// compared case-insensitively.
type Identity struct {
	gaps [256]bool
}

// Makes identity metric treating every byte of gaps as a gap symbol (uses
// DefaultGaps when empty).
func NewIdentity(gaps string) *Identity {
	if gaps == "" {
		gaps = DefaultGaps
	}
	id := &Identity{}
	for i := range len(gaps) {
		id.gaps[gaps[i]] = true
	}
	return id
}

func (id *Identity) Distance(a, b string) (float64, error) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("sequences of different lengths (%d, %d) passed to identity metric", len(a), len(b)))
	}
	compared, identical := 0, 0
	for i := range len(a) {
		if id.gaps[a[i]] || id.gaps[b[i]] {
			continue
		}
		compared++
		if upper(a[i]) == upper(b[i]) {
			identical++
		}
	}
	if compared == 0 {
		return 0, ErrDegenerateAlignment
	}
	return 1 - float64(identical)/float64(compared), nil
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// Computes the distance matrix for all pairs of sequences in aln. Rows are
// computed by up to nprocs goroutines (nprocs <= 0 uses GOMAXPROCS); the
// result does not depend on nprocs. Every row runs to its own first error, so
// if several pairs fail the error for the first pair in row order is returned.
func Compute(aln *align.Alignment, metric Metric, nprocs int) (*Matrix, error) {
	if nprocs <= 0 {
		nprocs = runtime.GOMAXPROCS(0)
	}
	n := aln.NumRecords()
	log.Debugf("computing %d pairwise distances over %d columns", n*(n-1)/2, aln.Length())
	m := NewMatrix(aln.IDs())
	rowErrs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(nprocs)
	for i := 1; i < n; i++ {
		g.Go(func() error {
			ri := aln.Record(i)
			for j := range i {
				rj := aln.Record(j)
				d, err := metric.Distance(ri.Sequence, rj.Sequence)
				if err == nil {
					err = m.Set(i, j, d)
				}
				switch {
				case errors.Is(err, ErrDegenerateAlignment):
					rowErrs[i] = fmt.Errorf("%w, sequences %s and %s share no ungapped column",
						ErrDegenerateAlignment, rj.ID, ri.ID)
				case err != nil:
					rowErrs[i] = fmt.Errorf("sequences %s and %s: %w", rj.ID, ri.ID, err)
				}
				if rowErrs[i] != nil {
					return rowErrs[i]
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, rowErr := range rowErrs {
			if rowErr != nil {
				return nil, rowErr
			}
		}
		panic(fmt.Sprintf("row error not recorded: %s", err))
	}
	return m, nil
}
