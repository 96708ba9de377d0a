// Package running the full inference pipeline: alignment to distance matrix,
// matrix to tree, and tree to Newick string and layout.
package infer

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/jsdoublel/phylogene/internal/align"
	"github.com/jsdoublel/phylogene/internal/cluster"
	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
	"github.com/jsdoublel/phylogene/internal/layout"
)

type Options struct {
	Gaps      string           // gap symbols ignored by the identity metric
	Metric    distance.Metric  // overrides Gaps when set
	Strategy  cluster.Strategy // defaults to UPGMA
	Precision int              // decimal places for newick branch lengths
	Width     float64          // layout canvas width
	Height    float64          // layout canvas height
	NProcs    int              // number of parallel processes
}

// Default options: identity distance with "-" gaps, UPGMA, unit canvas
func DefaultOptions() Options {
	return Options{
		Gaps:      distance.DefaultGaps,
		Precision: gr.DefaultPrecision,
		Width:     1,
		Height:    1,
		NProcs:    1,
	}
}

type Result struct {
	Matrix   *distance.Matrix
	Tree     *gr.Tree
	Merges   []cluster.Merge
	Newick   string
	Layout   *layout.Layout
	Warnings []cluster.NonUltrametricWarning
}

// One alignment of a batch; Name is only used in log and error messages
type Job struct {
	Name      string
	Alignment *align.Alignment
}

func (opts Options) metric() distance.Metric {
	if opts.Metric != nil {
		return opts.Metric
	}
	return distance.NewIdentity(opts.Gaps)
}

func (opts Options) strategy() cluster.Strategy {
	if opts.Strategy != nil {
		return opts.Strategy
	}
	return cluster.UPGMA{}
}

// Runs the pipeline on one alignment. Either every part of the result is
// filled in or an error is returned.
func Run(aln *align.Alignment, opts Options) (*Result, error) {
	log.Debugf("computing distances for %d sequences of length %d", aln.NumRecords(), aln.Length())
	m, err := distance.Compute(aln, opts.metric(), opts.NProcs)
	if err != nil {
		return nil, fmt.Errorf("distance error: %w", err)
	}
	log.Debug("clustering distance matrix")
	cl, err := opts.strategy().Cluster(m)
	if err != nil {
		return nil, fmt.Errorf("clustering error: %w", err)
	}
	nwk, err := cl.Tree.Newick(opts.Precision)
	if err != nil {
		return nil, fmt.Errorf("newick error: %w", err)
	}
	l, err := layout.Compute(cl.Tree, opts.Width, opts.Height)
	if err != nil {
		return nil, fmt.Errorf("layout error: %w", err)
	}
	for _, w := range cl.Warnings {
		log.Warn(w.Error())
	}
	return &Result{
		Matrix:   m,
		Tree:     cl.Tree,
		Merges:   cl.Merges,
		Newick:   nwk,
		Layout:   l,
		Warnings: cl.Warnings,
	}, nil
}

// Runs the pipeline on independent alignments, at most opts.NProcs at a
// time. Results are in job order. The first error cancels jobs that have not
// started yet and is returned alone.
func RunBatch(ctx context.Context, jobs []Job, opts Options) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.NProcs, 1))
	jobOpts := opts
	jobOpts.NProcs = 1
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Infof("running %s", job.Name)
			res, err := Run(job.Alignment, jobOpts)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
