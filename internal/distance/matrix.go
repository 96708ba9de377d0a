package distance

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidDistance = errors.New("invalid distance")
	ErrUnknownID       = errors.New("unknown identifier")
)

// Symmetric distance matrix over a fixed, ordered set of identifiers. Only the
// strict lower triangle is stored; the diagonal is always zero.
type Matrix struct {
	ids   []string       // identifiers in input order
	index map[string]int // identifier to row
	vals  []float64      // packed lower triangle (vals[i*(i-1)/2+j], j < i)
}

// Makes an all-zero matrix over ids. Duplicate identifiers panic, since
// matrices are only built from validated alignments or by tests.
func NewMatrix(ids []string) *Matrix {
	n := len(ids)
	index := make(map[string]int, n)
	for i, id := range ids {
		if _, ok := index[id]; ok {
			panic(fmt.Sprintf("duplicate identifier %s in distance matrix", id))
		}
		index[id] = i
	}
	return &Matrix{
		ids:   append([]string(nil), ids...),
		index: index,
		vals:  make([]float64, n*(n-1)/2),
	}
}

func cell(i, j int) int {
	if i < j {
		i, j = j, i
	}
	return i*(i-1)/2 + j
}

// Number of identifiers
func (m *Matrix) Size() int {
	return len(m.ids)
}

func (m *Matrix) ID(i int) string {
	return m.ids[i]
}

// Identifiers in matrix order
func (m *Matrix) IDs() []string {
	return append([]string(nil), m.ids...)
}

// Sets d(i, j) = d(j, i) = d. Distances must be finite and non-negative, and
// the diagonal can only be set to zero.
func (m *Matrix) Set(i, j int, d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return fmt.Errorf("%w, d(%s, %s) = %v", ErrInvalidDistance, m.ids[i], m.ids[j], d)
	}
	if i == j {
		if d != 0 {
			return fmt.Errorf("%w, d(%s, %s) = %v on the diagonal", ErrInvalidDistance, m.ids[i], m.ids[j], d)
		}
		return nil
	}
	m.vals[cell(i, j)] = d
	return nil
}

func (m *Matrix) Get(i, j int) float64 {
	if i == j {
		return 0
	}
	return m.vals[cell(i, j)]
}

// Distance between two identifiers
func (m *Matrix) Lookup(a, b string) (float64, error) {
	i, ok := m.index[a]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownID, a)
	}
	j, ok := m.index[b]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownID, b)
	}
	return m.Get(i, j), nil
}
