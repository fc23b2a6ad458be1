package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ChuLiYu/slotdispatch/pkg/types"
)

// DefaultSlotEnv selects the accelerator visible to a job.
const DefaultSlotEnv = "CUDA_VISIBLE_DEVICES"

var (
	// ErrUnsupportedTarget is returned for a Target implementation the executor does not know.
	ErrUnsupportedTarget = errors.New("unsupported execution target")
	// ErrNoRemoteShell is returned when a remote target is used without a remote shell command.
	ErrNoRemoteShell = errors.New("remote shell command not configured")
)

// Executor turns a job and a target into a ready-to-run command.
// The command is not started.
type Executor struct {
	// SlotEnv is the variable set to the target's slot. Empty means DefaultSlotEnv.
	SlotEnv string
	// Interpreter is prefixed to every job command, e.g. "python". May be empty.
	Interpreter string
	// RemoteShell is the argv prefix used for remote targets; the host and the
	// command line are appended. Empty means ["ssh"].
	RemoteShell []string
}

// Command builds the subprocess for job on target.
//
// Local targets run `sh -c <line>` with the slot variable added to this
// command's environment only. Remote targets carry the assignment inline,
// since the remote shell does not forward the local environment.
func (e *Executor) Command(target types.Target, job types.Job) (*exec.Cmd, error) {
	line := e.commandLine(job)

	switch t := target.(type) {
	case types.LocalTarget:
		cmd := exec.Command("sh", "-c", line)
		cmd.Env = append(os.Environ(), e.slotEnv()+"="+t.Slot)
		return cmd, nil

	case types.RemoteTarget:
		shell := e.RemoteShell
		if len(shell) == 0 {
			shell = []string{"ssh"}
		}
		if shell[0] == "" {
			return nil, ErrNoRemoteShell
		}
		args := make([]string, 0, len(shell)+1)
		args = append(args, shell[1:]...)
		args = append(args, t.Host, fmt.Sprintf("%s=%s %s", e.slotEnv(), t.Slot, line))
		return exec.Command(shell[0], args...), nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTarget, target)
}

func (e *Executor) commandLine(job types.Job) string {
	cmd := strings.TrimSpace(job.Cmd)
	if e.Interpreter == "" {
		return cmd
	}
	return e.Interpreter + " " + cmd
}

func (e *Executor) slotEnv() string {
	if e.SlotEnv == "" {
		return DefaultSlotEnv
	}
	return e.SlotEnv
}
