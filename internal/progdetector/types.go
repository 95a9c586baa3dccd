package progdetector

import "context"

// LaunchOptions carries the caller-supplied arguments appended to a
// program's launch command.
type LaunchOptions struct {
	ExtraArgs []string
}

// Detector is implemented by each agent-specific detector package. The
// monitor uses it two ways: classifying what is running inside a pane
// (MatchCurrentCommand) and building the command line for launching a new
// agent pane (LaunchCommand).
type Detector interface {
	ProgramID() string
	IsAvailable(ctx context.Context) (bool, error)
	MatchCurrentCommand(currentCommand string) bool
	LaunchCommand(opts LaunchOptions) []string
}
