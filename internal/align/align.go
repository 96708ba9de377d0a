// Package containing the in-memory multiple sequence alignment consumed by
// the distance calculation
package align

import (
	"errors"
	"fmt"
)

var (
	ErrTooFewRecords = errors.New("too few records")
	ErrEmptySequence = errors.New("empty sequence")
	ErrUnequalLength = errors.New("sequences not aligned")
	ErrDuplicateID   = errors.New("duplicate identifier")
	ErrEmptyID       = errors.New("empty identifier")
)

const MinRecords = 2

// Single aligned sequence
type Record struct {
	ID       string // sequence identifier (FASTA header)
	Sequence string // aligned residues, gaps included
}

// Multiple sequence alignment; records keep their input order and all share
// the same length. Use New to build one.
type Alignment struct {
	records []Record
	length  int
}

// Validates and copies records into a new alignment. Returns an error if
// there are fewer than two records, identifiers are empty or repeated, or the
// sequences are not all the same (non-zero) length.
func New(records []Record) (*Alignment, error) {
	if len(records) < MinRecords {
		return nil, fmt.Errorf("%w, alignment has %d records (at least %d required)",
			ErrTooFewRecords, len(records), MinRecords)
	}
	seen := make(map[string]bool, len(records))
	length := len(records[0].Sequence)
	for i, r := range records {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("%w, record %d has no identifier", ErrEmptyID, i+1)
		case seen[r.ID]:
			return nil, fmt.Errorf("%w, %s appears more than once", ErrDuplicateID, r.ID)
		case len(r.Sequence) == 0:
			return nil, fmt.Errorf("%w, sequence %s has length 0", ErrEmptySequence, r.ID)
		case len(r.Sequence) != length:
			return nil, fmt.Errorf("%w, sequence %s has length %d, but %s has length %d",
				ErrUnequalLength, r.ID, len(r.Sequence), records[0].ID, length)
		}
		seen[r.ID] = true
	}
	return &Alignment{records: append([]Record(nil), records...), length: length}, nil
}

// Number of sequences
func (aln *Alignment) NumRecords() int {
	return len(aln.records)
}

// Aligned length (number of columns)
func (aln *Alignment) Length() int {
	return aln.length
}

func (aln *Alignment) Record(i int) Record {
	return aln.records[i]
}

// Identifiers in input order
func (aln *Alignment) IDs() []string {
	ids := make([]string, len(aln.records))
	for i, r := range aln.records {
		ids[i] = r.ID
	}
	return ids
}

// Copy of all records in input order
func (aln *Alignment) Records() []Record {
	return append([]Record(nil), aln.records...)
}
