package trainer

import (
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/pkg/errors"
)

// Config of a training run.
type Config struct {
	// Epochs is the number of passes over the dataset.
	Epochs int

	// BatchSize used when creating the dataset. The trainer itself uses the batches as yielded.
	BatchSize int

	// AMP enables automatic mixed precision for every training step.
	AMP bool

	// CheckpointDir, if set, is where the trained model is saved. If it already holds a checkpoint,
	// training resumes from it.
	CheckpointDir string

	// CheckpointsToKeep is the number of older checkpoints kept in CheckpointDir.
	CheckpointsToKeep int
}

// DefaultConfig returns the default configuration: 10 epochs, batch size 1, no AMP.
func DefaultConfig() Config {
	return Config{
		Epochs:            10,
		BatchSize:         1,
		CheckpointsToKeep: 3,
	}
}

// ConfigFromParams returns the default configuration overwritten by params, from which the used
// keys are removed: "epochs", "batch_size", "amp", "checkpoint" and "keep".
func ConfigFromParams(params parameters.Params) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.Epochs, err = parameters.PopParamOr(params, "epochs", cfg.Epochs); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = parameters.PopParamOr(params, "batch_size", cfg.BatchSize); err != nil {
		return cfg, err
	}
	if cfg.AMP, err = parameters.PopParamOr(params, "amp", cfg.AMP); err != nil {
		return cfg, errors.WithMessage(err, "parsing \"amp\"")
	}
	if cfg.CheckpointDir, err = parameters.PopParamOr(params, "checkpoint", cfg.CheckpointDir); err != nil {
		return cfg, err
	}
	if cfg.CheckpointsToKeep, err = parameters.PopParamOr(params, "keep", cfg.CheckpointsToKeep); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate returns an error if the configuration is invalid.
func (cfg Config) Validate() error {
	if cfg.Epochs <= 0 {
		return errors.Errorf("invalid number of epochs %d, it must be > 0", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("invalid batch size %d, it must be > 0", cfg.BatchSize)
	}
	return nil
}
