package training

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

// Options is the configuration surface of the trainer
type Options struct {
	// Task and ExpID label every progress line and log entry
	Task  string `yaml:"task"`
	ExpID string `yaml:"exp_id"`

	// Device is the primary compute device, e.g. "cpu" or "gpu:0"
	Device string `yaml:"device"`

	// GPUs lists accelerator ordinals; more than one enables sharded
	// replica execution
	GPUs []int `yaml:"gpus"`

	// ChunkSizes gives the per-device batch slice sizes; must sum to
	// BatchSize when multiple GPUs are configured
	ChunkSizes []int `yaml:"chunk_sizes"`

	// BatchSize is the number of samples per batch
	BatchSize int `yaml:"batch_size"`

	// NumIters caps the iterations per epoch; negative means use the
	// data loader's length
	NumIters int `yaml:"num_iters"`

	// PrintIter selects progress output: 0 draws an interactive bar,
	// N > 0 prints a line every N iterations
	PrintIter int `yaml:"print_iter"`

	// HideDataTime suppresses data/compute latency in progress text
	HideDataTime bool `yaml:"hide_data_time"`

	// SaveResults enables detection decoding during validation
	SaveResults bool `yaml:"save_results"`

	// RegOffset enables sub-pixel offset regression in decode
	RegOffset bool `yaml:"reg_offset"`

	// CatSpecWH indexes decoded width/height per predicted class
	CatSpecWH bool `yaml:"cat_spec_wh"`

	// TopK bounds the number of decoded candidate detections
	TopK int `yaml:"K"`
}

// DefaultOptions returns the baseline configuration
func DefaultOptions() *Options {
	return &Options{
		Task:      "mot",
		Device:    "cpu",
		BatchSize: 1,
		NumIters:  -1,
		TopK:      128,
	}
}

// LoadOptions reads options from a yaml file over the defaults
func LoadOptions(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %v", err)
	}
	opts := DefaultOptions()
	if err := yaml.Unmarshal(raw, opts); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %v", err)
	}
	return opts, nil
}

// Validate checks the configuration and fills derived defaults.
// An empty ExpID gets a generated run id.
func (o *Options) Validate() error {
	if o.ExpID == "" {
		o.ExpID = uuid.NewString()[:8]
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidArgument, o.BatchSize)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("%w: K must be positive, got %d", ErrInvalidArgument, o.TopK)
	}
	if o.PrintIter < 0 {
		return fmt.Errorf("%w: print_iter must not be negative, got %d", ErrInvalidArgument, o.PrintIter)
	}
	if len(o.GPUs) > 1 {
		if len(o.ChunkSizes) != len(o.GPUs) {
			return fmt.Errorf("%w: %d chunk sizes for %d gpus", ErrInvalidArgument, len(o.ChunkSizes), len(o.GPUs))
		}
		total := 0
		for _, c := range o.ChunkSizes {
			if c <= 0 {
				return fmt.Errorf("%w: chunk sizes must be positive, got %v", ErrInvalidArgument, o.ChunkSizes)
			}
			total += c
		}
		if total != o.BatchSize {
			return fmt.Errorf("%w: chunk sizes sum to %d, batch_size is %d", ErrInvalidArgument, total, o.BatchSize)
		}
	}
	return nil
}
