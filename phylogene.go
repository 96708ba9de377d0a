/*
PhyloGene builds rooted ultrametric phylogenetic trees from multiple sequence
alignments using pairwise identity distances and UPGMA clustering.

usage: phylogene [ --config <file> | -f <format> | -o <dir> | -n <int> | -v ] <command> <files>...

commands:

	build	infers a tree for each alignment and writes newick, layout, and image
	dist	writes the pairwise distance matrix of an alignment as csv
	draw	lays out and draws an existing rooted binary newick tree

examples:

	phylogene build aln.fasta > tree.nwk 2> log.txt
	phylogene -f phylip -o trees build gene1.phy gene2.phy
	phylogene dist aln.fasta > distances.csv
	phylogene draw tree.nwk
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/jsdoublel/phylogene/internal/config"
	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
	"github.com/jsdoublel/phylogene/internal/infer"
	"github.com/jsdoublel/phylogene/internal/layout"
	pr "github.com/jsdoublel/phylogene/internal/prep"
)

const (
	Version    = "v0.1.0"
	ErrMessage = "phylogene encountered an error ::"

	TreeFile   = "phylogenetic_tree.nwk"
	PlotFile   = "phylogenetic_tree.png"
	LayoutFile = "layout.json"
)

var ErrDuplicateName = errors.New("duplicate input name")

// settings shared by all commands; flags override the config file
type app struct {
	configFile string
	verbose    bool
	flags      config.Config // values bound to command line flags
	format     pr.Format
	cfg        config.Config // effective settings
}

func newRootCmd() *cobra.Command {
	a := &app{flags: config.Default()}
	root := &cobra.Command{
		Use:           "phylogene",
		Short:         "PhyloGene builds UPGMA trees from sequence alignments",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "TOML config `file`")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.VarP(&a.format, "format", "f", "alignment file format [ fasta | phylip | nexus ]")
	pf.StringVarP(&a.flags.OutputDir, "output", "o", config.DefaultOutputDir, "output `directory`")
	pf.StringVar(&a.flags.Gaps, "gaps", distance.DefaultGaps, "gap symbols")
	pf.IntVarP(&a.flags.Precision, "precision", "p", gr.DefaultPrecision, "decimal places for branch lengths")
	pf.StringVar(&a.flags.Title, "title", config.DefaultTitle, "image title")
	pf.IntVarP(&a.flags.NProcs, "nprocs", "n", 0, "number of parallel processes")
	root.AddCommand(a.newBuildCmd(), a.newDistCmd(), a.newDrawCmd())
	return root
}

// Sets up logging and merges config file and flag values
func (a *app) setup(cmd *cobra.Command) error {
	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	}))
	log.Infof("PhyloGene version %s", Version)
	cfg := config.Default()
	if a.configFile != "" {
		var err error
		if cfg, err = config.Load(a.configFile); err != nil {
			return err
		}
	}
	changed := cmd.Flags().Changed
	if changed("format") {
		cfg.Format = a.format.String()
	}
	if changed("output") {
		cfg.OutputDir = a.flags.OutputDir
	}
	if changed("gaps") {
		cfg.Gaps = a.flags.Gaps
	}
	if changed("precision") {
		cfg.Precision = a.flags.Precision
	}
	if changed("title") {
		cfg.Title = a.flags.Title
	}
	if changed("nprocs") {
		cfg.NProcs = a.flags.NProcs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.NProcs = cfg.Procs()
	a.cfg = cfg
	return nil
}

func (a *app) inferOptions() infer.Options {
	return infer.Options{
		Gaps:      a.cfg.Gaps,
		Precision: a.cfg.Precision,
		Width:     a.cfg.Width,
		Height:    a.cfg.Height,
		NProcs:    a.cfg.NProcs,
	}
}

func (a *app) newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <alignment>...",
		Short: "infer a tree for each alignment",
		Long: "Infers a UPGMA tree for each alignment and writes " + TreeFile + ", " + PlotFile +
			" and " + LayoutFile + ". With more than one input, each gets its own subdirectory" +
			" of the output directory named after the input file.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.build(cmd.Context(), args, cmd.OutOrStdout())
		},
	}
}

func (a *app) build(ctx context.Context, files []string, out io.Writer) error {
	dirs, err := outputDirs(a.cfg.OutputDir, files)
	if err != nil {
		return err
	}
	jobs := make([]infer.Job, len(files))
	for i, file := range files {
		aln, err := pr.ReadAlignment(file, pr.ParseFormat[a.cfg.Format])
		if err != nil {
			return err
		}
		log.Infof("read %d sequences of length %d from %s", aln.NumRecords(), aln.Length(), file)
		jobs[i] = infer.Job{Name: file, Alignment: aln}
	}
	start := time.Now()
	var results []*infer.Result
	if len(jobs) == 1 {
		res, err := infer.Run(jobs[0].Alignment, a.inferOptions())
		if err != nil {
			return err
		}
		results = []*infer.Result{res}
	} else {
		if results, err = infer.RunBatch(ctx, jobs, a.inferOptions()); err != nil {
			return err
		}
	}
	log.Info("inference finished", "trees", len(results), "elapsed", time.Since(start).Round(time.Millisecond))
	for i, res := range results {
		if err := a.writeOutputs(dirs[i], res.Newick, res.Layout); err != nil {
			return err
		}
		fmt.Fprintln(out, res.Newick)
	}
	return nil
}

// Output directory per input file: the output directory itself for a single
// input, otherwise a subdirectory named after the file without extension.
func outputDirs(outDir string, files []string) ([]string, error) {
	if len(files) == 1 {
		return []string{outDir}, nil
	}
	dirs := make([]string, len(files))
	seen := make(map[string]string, len(files))
	for i, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w, %s and %s would both write to %s", ErrDuplicateName, prev, file, name)
		}
		seen[name] = file
		dirs[i] = filepath.Join(outDir, name)
	}
	return dirs, nil
}

// Writes plot, layout and (if nwk is set) newick into dir. Files are staged in
// a temporary directory and only moved into dir once all of them are written.
func (a *app) writeOutputs(dir, nwk string, l *layout.Layout) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w, %s", pr.ErrWritingFile, err)
	}
	stage, err := os.MkdirTemp(dir, ".phylogene-")
	if err != nil {
		return fmt.Errorf("%w, %s", pr.ErrWritingFile, err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			log.Warnf("could not remove %s, %s", stage, err)
		}
	}()
	width := vg.Length(a.cfg.ImageWidth) * vg.Inch
	height := vg.Length(a.cfg.ImageHeight) * vg.Inch
	if err := pr.WriteTreePlot(l, a.cfg.Title, filepath.Join(stage, PlotFile), width, height); err != nil {
		return err
	}
	if err := writeLayout(l, filepath.Join(stage, LayoutFile)); err != nil {
		return err
	}
	files := []string{PlotFile, LayoutFile}
	if nwk != "" {
		if err := pr.WriteNewick(nwk, filepath.Join(stage, TreeFile)); err != nil {
			return err
		}
		files = append(files, TreeFile)
	}
	for _, file := range files {
		if err := os.Rename(filepath.Join(stage, file), filepath.Join(dir, file)); err != nil {
			return fmt.Errorf("%w, %s", pr.ErrWritingFile, err)
		}
	}
	log.Infof("results written to %s", dir)
	return nil
}

func writeLayout(l *layout.Layout, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w, %s", pr.ErrWritingFile, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("%w, %s", pr.ErrWritingFile, cerr)
		}
	}()
	return pr.WriteLayoutJSON(l, f)
}

func (a *app) newDistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dist <alignment>",
		Short: "write the pairwise distance matrix as csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aln, err := pr.ReadAlignment(args[0], pr.ParseFormat[a.cfg.Format])
			if err != nil {
				return err
			}
			m, err := distance.Compute(aln, distance.NewIdentity(a.cfg.Gaps), a.cfg.NProcs)
			if err != nil {
				return err
			}
			return pr.WriteMatrixCSV(m, cmd.OutOrStdout())
		},
	}
}

func (a *app) newDrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "draw <tree>",
		Short: "draw an existing rooted binary newick tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tre, err := pr.ReadNewick(args[0])
			if err != nil {
				return err
			}
			l, err := layout.Compute(tre, a.cfg.Width, a.cfg.Height)
			if err != nil {
				return err
			}
			return a.writeOutputs(a.cfg.OutputDir, "", l)
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("%s %s", ErrMessage, err)
	}
}
