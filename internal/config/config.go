// Package config loads the training run configuration from an HCL file:
// models, inference profiles, the opponent mix, iteration counts, and the
// external trainer command. Grounded on internal/server/config.go's
// hclparse+gohcl.DecodeBody load, default-fill, and Validate pattern,
// generalized from table/bot blocks to model/profile/opponent/trainer
// blocks.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// RunSettings controls the top-level training loop.
type RunSettings struct {
	Iterations      int    `hcl:"iterations,optional"`
	MaxTurns        int    `hcl:"max_turns,optional"`
	NumExampleFiles int    `hcl:"num_example_files,optional"`
	LogLevel        string `hcl:"log_level,optional"`
}

// ModelBlock declares one named model and where to load its initial
// snapshot from.
type ModelBlock struct {
	Name         string `hcl:"name,label"`
	SnapshotPath string `hcl:"snapshot_path"`
	ActionCount  int    `hcl:"action_count"`
	InputShape   []int  `hcl:"input_shape"`
}

// ProfileBlock declares one inference profile attached to a model (spec
// §4.B: max_size/max_wait batching parameters).
type ProfileBlock struct {
	Name          string `hcl:"name,label"`
	Model         string `hcl:"model"`
	MaxBatchSize  int    `hcl:"max_batch_size,optional"`
	MaxWaitMillis int    `hcl:"max_wait_ms,optional"`
}

// OpponentBlock declares one entry of the rollout/eval matchmaking mix.
// Kind is "model" or "random".
type OpponentBlock struct {
	Name       string `hcl:"name,label"`
	Kind       string `hcl:"kind"`
	Model      string `hcl:"model,optional"`
	Profile    string `hcl:"profile,optional"`
	RandomSeed int64  `hcl:"random_seed,optional"`
	MoveOnly   bool   `hcl:"move_only,optional"`
	NumGames   int    `hcl:"num_games"`
}

// TrainerBlock configures the external trainer process.
type TrainerBlock struct {
	Command          string             `hcl:"command"`
	Args             []string           `hcl:"args,optional"`
	Epochs           int                `hcl:"epochs,optional"`
	BatchSize        int                `hcl:"batch_size,optional"`
	OptimizerParams  map[string]float64 `hcl:"optimizer_params,optional"`
	AlgorithmVariant string             `hcl:"algorithm_variant,optional"`
	Seed             *int64             `hcl:"seed,optional"`
}

// File is the root of a training configuration file.
type File struct {
	Run       RunSettings      `hcl:"run,block"`
	Models    []ModelBlock     `hcl:"model,block"`
	Profiles  []ProfileBlock   `hcl:"profile,block"`
	Opponents []OpponentBlock  `hcl:"opponent,block"`
	Trainer   TrainerBlock     `hcl:"trainer,block"`
}

// Default returns a minimal, directly-runnable configuration: one model,
// one profile, no opponents, and a trainer command that must still be
// supplied by the caller before it can actually train.
func Default() *File {
	return &File{
		Run: RunSettings{
			Iterations:      1,
			MaxTurns:        200,
			NumExampleFiles: 4,
			LogLevel:        "info",
		},
		Models: []ModelBlock{
			{Name: "main", ActionCount: 2, InputShape: []int{17}},
		},
		Profiles: []ProfileBlock{
			{Name: "default", Model: "main", MaxBatchSize: 32, MaxWaitMillis: 20},
		},
		Trainer: TrainerBlock{Epochs: 1, BatchSize: 256},
	}
}

// Load reads and decodes filename. A missing file yields Default() rather
// than an error.
func Load(filename string) (*File, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse %s: %s", filename, diags.Error())
	}

	var f File
	diags = gohcl.DecodeBody(hclFile.Body, nil, &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: decode %s: %s", filename, diags.Error())
	}

	f.applyDefaults()
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Run.Iterations == 0 {
		f.Run.Iterations = 1
	}
	if f.Run.MaxTurns == 0 {
		f.Run.MaxTurns = 200
	}
	if f.Run.NumExampleFiles == 0 {
		f.Run.NumExampleFiles = 4
	}
	if f.Run.LogLevel == "" {
		f.Run.LogLevel = "info"
	}
	for i := range f.Profiles {
		if f.Profiles[i].MaxBatchSize == 0 {
			f.Profiles[i].MaxBatchSize = 32
		}
		if f.Profiles[i].MaxWaitMillis == 0 {
			f.Profiles[i].MaxWaitMillis = 20
		}
	}
	if f.Trainer.Epochs == 0 {
		f.Trainer.Epochs = 1
	}
	if f.Trainer.BatchSize == 0 {
		f.Trainer.BatchSize = 256
	}
}

// Validate checks internal consistency: referenced model/profile names must
// exist, and numeric fields must be in sensible ranges.
func (f *File) Validate() error {
	if f.Run.Iterations <= 0 {
		return fmt.Errorf("config: run.iterations must be positive")
	}
	if len(f.Models) == 0 {
		return fmt.Errorf("config: at least one model must be configured")
	}

	modelNames := make(map[string]bool, len(f.Models))
	for _, m := range f.Models {
		if len(m.InputShape) == 0 {
			return fmt.Errorf("config: model %q: input_shape must be non-empty", m.Name)
		}
		if m.ActionCount <= 0 {
			return fmt.Errorf("config: model %q: action_count must be positive", m.Name)
		}
		modelNames[m.Name] = true
	}

	for _, p := range f.Profiles {
		if !modelNames[p.Model] {
			return fmt.Errorf("config: profile %q references unknown model %q", p.Name, p.Model)
		}
	}

	for _, o := range f.Opponents {
		if o.NumGames <= 0 {
			return fmt.Errorf("config: opponent %q: num_games must be positive", o.Name)
		}
		switch o.Kind {
		case "model":
			if !modelNames[o.Model] {
				return fmt.Errorf("config: opponent %q references unknown model %q", o.Name, o.Model)
			}
		case "random":
		default:
			return fmt.Errorf("config: opponent %q: unknown kind %q", o.Name, o.Kind)
		}
	}

	if f.Trainer.Command == "" {
		return fmt.Errorf("config: trainer.command is required")
	}

	return nil
}

// ModelByName returns the ModelBlock named name, or nil.
func (f *File) ModelByName(name string) *ModelBlock {
	for i := range f.Models {
		if f.Models[i].Name == name {
			return &f.Models[i]
		}
	}
	return nil
}
