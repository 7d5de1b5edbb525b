package backend

// Config defines the configuration for a worker backend.
type Config struct {
	Type     string   // "claude", "codex", "goose", or "command"
	Command  string   // Binary to run; defaults to the type name
	Args     []string // Extra args (claude/codex/goose) or the full argv after Command (command)
	Model    string
	Provider string   // For Goose local LLMs (e.g., "ollama", "lmstudio")
	Env      []string // Extra KEY=VALUE entries appended to the inherited environment
}

// Spec describes one worker process to start.
type Spec struct {
	Name             string // Worker identifier, e.g. "R2L1"
	WorkDir          string // Directory the agent operates in (the project)
	LaneDir          string // Per-lane, per-round output directory
	InstructionsPath string // Instruction file the agent reads
	OutputPath       string // Receives the process stdout and stderr; empty discards
}

// invocation is what an adapter resolves a Spec into.
type invocation struct {
	name  string
	args  []string
	stdin string // Path fed to stdin; empty for none
	env   []string
}
