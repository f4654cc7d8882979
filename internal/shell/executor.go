// Package shell runs approved terminal commands and captures their output.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

// Executor runs commands through the system shell. A non-zero exit code is
// a result, not an error; only failing to start the command errors.
type Executor struct {
	logger *logging.Logger
}

var _ orchestrator.Executor = (*Executor)(nil)

func NewExecutor(logger *logging.Logger) *Executor {
	return &Executor{logger: logger.Named("shell")}
}

func (e *Executor) Execute(ctx context.Context, command string) (orchestrator.ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()

	result := orchestrator.ExecResult{Output: string(output)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return orchestrator.ExecResult{}, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	e.logger.Debug(ctx, "command executed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode))
	return result, nil
}
