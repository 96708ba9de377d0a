// Package holding run settings, read from an optional TOML file and
// overridden by command line flags
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/jsdoublel/phylogene/internal/distance"
	gr "github.com/jsdoublel/phylogene/internal/graphs"
)

const (
	DefaultOutputDir = "phylogene_output"
	DefaultTitle     = "Phylogenetic Tree"
	DefaultFormat    = "fasta"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	OutputDir   string  `toml:"output_dir"`   // directory for output files
	Format      string  `toml:"format"`       // alignment format [ fasta | phylip | nexus ]
	Gaps        string  `toml:"gaps"`         // gap symbols
	Precision   int     `toml:"precision"`    // decimal places for newick branch lengths
	Width       float64 `toml:"width"`        // layout canvas width
	Height      float64 `toml:"height"`       // layout canvas height
	ImageWidth  float64 `toml:"image_width"`  // image width in inches
	ImageHeight float64 `toml:"image_height"` // image height in inches
	Title       string  `toml:"title"`        // image title
	NProcs      int     `toml:"nprocs"`       // number of parallel processes
}

// Default settings (10 x 8 inch figure, like the original plots)
func Default() Config {
	return Config{
		OutputDir:   DefaultOutputDir,
		Format:      DefaultFormat,
		Gaps:        distance.DefaultGaps,
		Precision:   gr.DefaultPrecision,
		Width:       1,
		Height:      1,
		ImageWidth:  10,
		ImageHeight: 8,
		Title:       DefaultTitle,
		NProcs:      0,
	}
}

// Reads TOML config file on top of the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w, %s: %s", ErrInvalidConfig, path, err.Error())
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return Config{}, fmt.Errorf("%w, unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	switch {
	case cfg.OutputDir == "":
		return fmt.Errorf("%w, output_dir is empty", ErrInvalidConfig)
	case cfg.Format != "fasta" && cfg.Format != "phylip" && cfg.Format != "nexus":
		return fmt.Errorf("%w, format \"%s\" is not one of fasta, phylip, nexus", ErrInvalidConfig, cfg.Format)
	case cfg.Gaps == "":
		return fmt.Errorf("%w, gaps is empty", ErrInvalidConfig)
	case cfg.Precision < 0 || cfg.Precision > 15:
		return fmt.Errorf("%w, precision %d not in [0, 15]", ErrInvalidConfig, cfg.Precision)
	case cfg.Width <= 0 || cfg.Height <= 0:
		return fmt.Errorf("%w, canvas %v x %v", ErrInvalidConfig, cfg.Width, cfg.Height)
	case cfg.ImageWidth <= 0 || cfg.ImageHeight <= 0:
		return fmt.Errorf("%w, image size %v x %v", ErrInvalidConfig, cfg.ImageWidth, cfg.ImageHeight)
	}
	return nil
}

// Number of processes to use; values outside [1, GOMAXPROCS] are capped
func (cfg Config) Procs() int {
	maxProcs := runtime.GOMAXPROCS(0)
	switch {
	case cfg.NProcs > maxProcs:
		log.Warnf("%d is greater than available processes (%d); limit set to %d", cfg.NProcs, maxProcs, maxProcs)
		return maxProcs
	case cfg.NProcs <= 0:
		log.Debugf("number of processes not set; defaulting to %d processes", maxProcs)
		return maxProcs
	default:
		return cfg.NProcs
	}
}
