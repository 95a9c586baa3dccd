package codex

import (
	"context"
	"os/exec"

	"github.com/yuki-yano/vde-monitor/internal/progdetector"
)

const programID = "codex"

type Detector struct{}

func New() Detector {
	return Detector{}
}

func (Detector) ProgramID() string {
	return programID
}

func (Detector) IsAvailable(context.Context) (bool, error) {
	if _, err := exec.LookPath(programID); err != nil {
		return false, nil
	}
	return true, nil
}

func (Detector) MatchCurrentCommand(currentCommand string) bool {
	return progdetector.MatchProgramInCommand(currentCommand, programID)
}

func (Detector) LaunchCommand(opts progdetector.LaunchOptions) []string {
	return append([]string{programID}, opts.ExtraArgs...)
}

func init() {
	progdetector.ProgramDetectorRegistry.MustRegister(New())
}
