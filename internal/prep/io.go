// Package for reading alignments and trees, and writing trees, distance
// matrices, layouts and plots
package prep

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"strconv"

	charmlog "github.com/charmbracelet/log"
	galign "github.com/evolbioinfo/goalign/align"
	"github.com/evolbioinfo/goalign/io/fasta"
	"github.com/evolbioinfo/goalign/io/nexus"
	"github.com/evolbioinfo/goalign/io/phylip"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/jsdoublel/phylogene/internal/align"
	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
	"github.com/jsdoublel/phylogene/internal/layout"
)

var (
	ErrInvalidFile   = errors.New("invalid file")
	ErrInvalidFormat = errors.New("invalid format")
	ErrWritingFile   = errors.New("error writing file")

	plotLineColor  = color.RGBA{R: 37, G: 150, B: 190, A: 255}
	plotMarkerShap = draw.CircleGlyph{}
)

type Format int

const (
	Fasta Format = iota
	Phylip
	Nexus

	labelPad = 0.2 // extra x range (fraction of width) kept free for leaf labels
)

var ParseFormat = map[string]Format{
	"fasta":  Fasta,
	"phylip": Phylip,
	"nexus":  Nexus,
}

func (f *Format) Set(s string) error {
	if format, ok := ParseFormat[s]; ok {
		*f = format
		return nil
	}
	return fmt.Errorf("\"%s\" is not a valid alignment file format", s)
}

func (f Format) String() string {
	for s, fr := range ParseFormat {
		if fr == f {
			return s
		}
	}
	panic(fmt.Sprintf("format (%d) does not exist", f))
}

// Type name shown in command line help
func (f Format) Type() string {
	return "format"
}

// Reads and validates an aligned sequence file. Returns an error if the file
// cannot be parsed in the given format, or the sequences do not make a valid
// alignment (e.g., unequal lengths, fewer than two sequences).
func ReadAlignment(alignmentFile string, format Format) (*align.Alignment, error) {
	file, err := os.Open(alignmentFile)
	if err != nil {
		return nil, fmt.Errorf("error opening %s, %w", alignmentFile, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			panic(fmt.Sprintf("could not close file %s, %s", alignmentFile, err))
		}
	}()
	var aln galign.Alignment
	switch format {
	case Fasta:
		aln, err = fasta.NewParser(file).Parse()
	case Phylip:
		aln, err = phylip.NewParser(file, false).Parse()
	case Nexus:
		aln, err = nexus.NewParser(file).Parse()
	default:
		return nil, fmt.Errorf("%w, not a valid file format", ErrInvalidFile)
	}
	if err != nil {
		return nil, fmt.Errorf("%w, error parsing %s alignment %s: %s",
			ErrInvalidFormat, format, alignmentFile, err.Error())
	}
	records := make([]align.Record, aln.NbSequences())
	for i := range records {
		name, _ := aln.GetSequenceNameById(i)
		seq, _ := aln.GetSequenceById(i)
		records[i] = align.Record{ID: name, Sequence: seq}
	}
	result, err := align.New(records)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidFile, alignmentFile, err)
	}
	return result, nil
}

// Reads file containing exactly one rooted binary newick tree
func ReadNewick(treeFile string) (*gr.Tree, error) {
	flags := log.Flags()
	lout := log.Writer()
	log.SetOutput(io.Discard) // gotree logs through the standard logger
	defer func() {
		log.SetOutput(lout)
		log.SetFlags(flags)
	}()
	treBytes, err := os.ReadFile(treeFile)
	if err != nil {
		return nil, fmt.Errorf("error reading tree file: %w", err)
	}
	treBytes = bytes.TrimSpace(treBytes)
	if bytes.Count(treBytes, []byte{byte('\n')}) != 0 || len(treBytes) == 0 {
		return nil, fmt.Errorf("%w, there should only be exactly one newick tree in tree file %s",
			ErrInvalidFile, treeFile)
	}
	tre, err := gr.ParseNewick(string(treBytes))
	if err != nil {
		return nil, fmt.Errorf("%w, error reading tree from %s: %w", ErrInvalidFormat, treeFile, err)
	}
	return tre, nil
}

// Writes newick string followed by a newline
func WriteNewick(nwk, treeFile string) error {
	if err := os.WriteFile(treeFile, []byte(nwk+"\n"), 0644); err != nil {
		return fmt.Errorf("%w, %s", ErrWritingFile, err)
	}
	return nil
}

// Write distance matrix csv file to writer.
//
// The first row and column hold the sequence identifiers.
func WriteMatrixCSV(m *distance.Matrix, w io.Writer) (err error) {
	n := m.Size()
	data := make([][]string, n+1)
	data[0] = append([]string{""}, m.IDs()...)
	for i := range n {
		data[i+1] = make([]string, n+1)
		data[i+1][0] = m.ID(i)
		for j := range n {
			data[i+1][j+1] = strconv.FormatFloat(m.Get(i, j), 'f', -1, 64)
		}
	}
	writer := csv.NewWriter(w)
	defer func() {
		writer.Flush()
		if err == nil {
			err = writer.Error()
		} else if writer.Error() != nil {
			charmlog.Errorf("error when flushing output csv, %s", writer.Error())
		}
	}()
	if err = writer.WriteAll(data); err != nil {
		err = fmt.Errorf("%w, %s", ErrWritingFile, err)
		return
	}
	return
}

// Writes layout as indented JSON
func WriteLayoutJSON(l *layout.Layout, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("%w, %s", ErrWritingFile, err)
	}
	return nil
}

// Draws a dendrogram from the layout and saves it; the image format is taken
// from the file extension (png, svg, pdf, ...). Leaf slot 0 is drawn at the
// top.
func WriteTreePlot(l *layout.Layout, title, plotFile string, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Branch length"
	p.X.Min = 0
	p.X.Max = l.Width * (1 + labelPad)
	p.HideY()
	flip := func(pt layout.Point) plotter.XY {
		return plotter.XY{X: pt.X, Y: l.Height - pt.Y}
	}
	for _, s := range l.Segments() {
		line, err := plotter.NewLine(plotter.XYs{flip(s.From), flip(s.To)})
		if err != nil {
			return err
		}
		line.Color = plotLineColor
		line.Width = vg.Points(1.5)
		p.Add(line)
	}
	leaves := l.LeafPositions()
	pts := make(plotter.XYs, len(leaves))
	names := make([]string, len(leaves))
	for i, leaf := range leaves {
		pts[i] = flip(layout.Point{X: leaf.X, Y: leaf.Y})
		names[i] = leaf.Label
	}
	points, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	points.Color = plotLineColor
	points.Shape = plotMarkerShap
	points.Radius = vg.Points(2)
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: names})
	if err != nil {
		return err
	}
	labels.Offset = vg.Point{X: vg.Points(5), Y: -vg.Points(3)}
	p.Add(points, labels)
	if err := p.Save(width, height, plotFile); err != nil {
		return fmt.Errorf("%w, %s", ErrWritingFile, err)
	}
	return nil
}
