package gameworker

import (
	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/experience"
)

// ExploitKind distinguishes a model-backed Agent from a Random one (spec
// §3 GameConfig: "exploit: Model(model_name) | Random(seed?, move_only?)").
type ExploitKind int

const (
	ExploitModel ExploitKind = iota
	ExploitRandom
)

// ExploitSpec is one agent's policy source.
type ExploitSpec struct {
	Kind ExploitKind

	// ModelName and ProfileName are set when Kind == ExploitModel.
	ModelName   string
	ProfileName string

	// RandomSeed and MoveOnly are set when Kind == ExploitRandom.
	RandomSeed int64
	MoveOnly   bool
}

// AgentConfig describes one side of a game.
type AgentConfig struct {
	Name           string
	Exploit        ExploitSpec
	Explore        *agent.ExploreConfig
	EmitExperience bool
	TeamSeed       int64
}

// ExperienceConfig tells a GameWorker where to emit TrainingExamples for
// agents configured with EmitExperience, and how many input tensors a
// state carries (for the terminal sentinel's zero shape).
type ExperienceConfig struct {
	NElements int
	Sink      chan<- experience.TrainingExample
}

// GameConfig is one game's full configuration.
type GameConfig struct {
	ID               string
	Agents           [2]AgentConfig
	MaxTurns         int
	Seed             int64
	LogPath          string
	OnlyLogOnError   bool
	ExperienceConfig *ExperienceConfig
}

// GameResult is what GameWorker.Play and GamePool.Add return:
// exactly one of Winner or Err is set, unless the game is a tie.
type GameResult struct {
	ID     string
	Agents [2]string
	Winner *int
	Err    error
}
