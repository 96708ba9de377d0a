package prep

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jsdoublel/phylogene/internal/align"
	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
	"github.com/jsdoublel/phylogene/internal/layout"
)

func TestReadAlignment(t *testing.T) {
	testCases := []struct {
		name        string
		file        string
		format      string
		numRecords  int
		length      int
		expectedErr error
	}{
		{
			name:       "basic",
			file:       "testdata/abcd.fasta",
			format:     "fasta",
			numRecords: 4,
			length:     4,
		},
		{
			name:       "wrapped lines",
			file:       "testdata/wrapped.fasta",
			format:     "fasta",
			numRecords: 3,
			length:     10,
		},
		{
			name:        "single sequence",
			file:        "testdata/single.fasta",
			format:      "fasta",
			expectedErr: align.ErrTooFewRecords,
		},
		{
			name:        "missing file",
			file:        "testdata/missing.fasta",
			format:      "fasta",
			expectedErr: os.ErrNotExist,
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			aln, err := ReadAlignment(test.file, ParseFormat[test.format])
			switch {
			case !errors.Is(err, test.expectedErr):
				t.Errorf("Failed with unexpected error %+v", err)
			case err != nil:
				t.Logf("%s", err)
			default:
				if aln.NumRecords() != test.numRecords {
					t.Errorf("%d records != %d", aln.NumRecords(), test.numRecords)
				}
				if aln.Length() != test.length {
					t.Errorf("length %d != %d", aln.Length(), test.length)
				}
			}
		})
	}
}

func TestReadAlignmentUnaligned(t *testing.T) {
	_, err := ReadAlignment("testdata/unaligned.fasta", Fasta)
	if !errors.Is(err, ErrInvalidFormat) && !errors.Is(err, align.ErrUnequalLength) {
		t.Errorf("Failed with unexpected error %+v", err)
	}
}

func TestReadAlignmentIDs(t *testing.T) {
	aln, err := ReadAlignment("testdata/abcd.fasta", Fasta)
	if err != nil {
		t.Fatal(err)
	}
	if ids := aln.IDs(); !reflect.DeepEqual(ids, []string{"A", "B", "C", "D"}) {
		t.Errorf("ids %v", ids)
	}
	if s := strings.ToUpper(aln.Record(3).Sequence); s != "ATTT" {
		t.Errorf("sequence D is %s", s)
	}
}

func TestFormat(t *testing.T) {
	var f Format
	for _, s := range []string{"fasta", "phylip", "nexus"} {
		if err := f.Set(s); err != nil {
			t.Errorf("unexpected error %s", err)
		}
		if f.String() != s {
			t.Errorf("%s != %s", f.String(), s)
		}
	}
	if err := f.Set("genbank"); err == nil {
		t.Errorf("genbank should not be a valid format")
	}
}

func TestReadNewick(t *testing.T) {
	testCases := []struct {
		name        string
		file        string
		labels      []string
		expectedErr error
	}{
		{
			name:   "basic",
			file:   "testdata/abcd.nwk",
			labels: []string{"A", "B", "C", "D"},
		},
		{
			name:        "two trees",
			file:        "testdata/two.nwk",
			expectedErr: ErrInvalidFile,
		},
		{
			name:        "empty",
			file:        "testdata/empty.nwk",
			expectedErr: ErrInvalidFile,
		},
		{
			name:        "bad tree",
			file:        "testdata/badtree.nwk",
			expectedErr: ErrInvalidFormat,
		},
		{
			name:        "unrooted",
			file:        "testdata/unrooted.nwk",
			expectedErr: gr.ErrUnrooted,
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			tre, err := ReadNewick(test.file)
			switch {
			case !errors.Is(err, test.expectedErr):
				t.Errorf("Failed with unexpected error %+v", err)
			case err != nil:
				t.Logf("%s", err)
			case !reflect.DeepEqual(tre.Labels(), test.labels):
				t.Errorf("labels %v != %v", tre.Labels(), test.labels)
			}
		})
	}
}

func TestWriteNewick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.nwk")
	nwk := "(A:0.2,B:0.2);"
	if err := WriteNewick(nwk, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != nwk+"\n" {
		t.Errorf("%q != %q", data, nwk+"\n")
	}
	if _, err := ReadNewick(path); err != nil {
		t.Errorf("written tree cannot be read back: %s", err)
	}
}

func TestWriteMatrixCSV(t *testing.T) {
	m := distance.NewMatrix([]string{"A", "B", "C"})
	for _, c := range []struct {
		i, j int
		d    float64
	}{{0, 1, 0.25}, {0, 2, 1}, {1, 2, 0.5}} {
		if err := m.Set(c.i, c.j, c.d); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := WriteMatrixCSV(m, &buf); err != nil {
		t.Fatal(err)
	}
	expected := ",A,B,C\nA,0,0.25,1\nB,0.25,0,0.5\nC,1,0.5,0\n"
	if buf.String() != expected {
		t.Errorf("%q != %q", buf.String(), expected)
	}
}

func TestWriteLayoutJSON(t *testing.T) {
	tre, err := gr.ParseNewick("(A:0.2,B:0.2);")
	if err != nil {
		t.Fatal(err)
	}
	l, err := layout.Compute(tre, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteLayoutJSON(l, &buf); err != nil {
		t.Fatal(err)
	}
	var back layout.Layout
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(&back, l) {
		t.Errorf("%+v != %+v", back, *l)
	}
}

func TestWriteTreePlot(t *testing.T) {
	tre, err := gr.ParseNewick("((A:0.125,B:0.125):0.25,(C:0.125,D:0.125):0.25);")
	if err != nil {
		t.Fatal(err)
	}
	l, err := layout.Compute(tre, 0.375, 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, ext := range []string{"png", "svg"} {
		path := filepath.Join(t.TempDir(), "tree."+ext)
		if err := WriteTreePlot(l, "Phylogenetic Tree", path, 400, 300); err != nil {
			t.Fatalf("%s: %s", ext, err)
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Errorf("%s plot not written", ext)
		}
	}
}
