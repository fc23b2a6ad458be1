package monitor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// DefaultViewerCommand and DefaultViewerPort match a stock tensorboard install.
const (
	DefaultViewerCommand = "tensorboard"
	DefaultViewerPort    = 6006
)

// ProcessViewer runs the viewer as a child process:
//
//	<Command> <Args...> --logdir_spec name:dir,name:dir --port <Port>
type ProcessViewer struct {
	Command string
	Args    []string
	Port    int
	// Out receives the viewer's stdout and stderr. Nil discards them.
	Out io.Writer

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// Restart stops the current process and starts a new one for runs.
func (v *ProcessViewer) Restart(runs []Run) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stopLocked()

	command := v.Command
	if command == "" {
		command = DefaultViewerCommand
	}
	port := v.Port
	if port == 0 {
		port = DefaultViewerPort
	}

	args := append([]string{}, v.Args...)
	args = append(args, "--logdir_spec", LogDirSpec(runs), "--port", strconv.Itoa(port))

	cmd := exec.Command(command, args...)
	out := v.Out
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start viewer %q: %w", command, err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	v.cmd = cmd
	v.done = done
	return nil
}

// Stop kills the current process and waits for it to be reaped.
func (v *ProcessViewer) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopLocked()
}

func (v *ProcessViewer) stopLocked() error {
	if v.cmd == nil {
		return nil
	}
	err := v.cmd.Process.Kill()
	<-v.done
	v.cmd = nil
	v.done = nil

	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill viewer: %w", err)
	}
	return nil
}

// Pid returns the pid of the running viewer, or 0.
func (v *ProcessViewer) Pid() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cmd == nil {
		return 0
	}
	return v.cmd.Process.Pid
}

// LogDirSpec renders runs as name:dir pairs separated by commas.
func LogDirSpec(runs []Run) string {
	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = r.Name + ":" + r.LogDir
	}
	return strings.Join(parts, ",")
}
