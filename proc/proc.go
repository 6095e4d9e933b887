// Package proc holds the process handling shared by the adb executor and the
// script runner.
package proc

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// WaitDelay bounds how long Wait keeps draining pipes after a process was
// signalled. Past it the process is killed and its pipes are closed.
const WaitDelay = 2 * time.Second

// Terminate asks p to exit. Windows has no SIGTERM, so it is killed there.
func Terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(syscall.SIGTERM)
}

// Graceful makes context cancellation send SIGTERM instead of SIGKILL.
func Graceful(cmd *exec.Cmd) *exec.Cmd {
	cmd.Cancel = func() error {
		return Terminate(cmd.Process)
	}
	cmd.WaitDelay = WaitDelay
	return cmd
}

// Wait waits for cmd like cmd.Wait. A process that exited while something it
// spawned still held its output pipes reports its own exit status instead of
// exec.ErrWaitDelay.
func Wait(cmd *exec.Cmd) error {
	err := cmd.Wait()
	if !errors.Is(err, exec.ErrWaitDelay) || cmd.ProcessState == nil {
		return err
	}
	if cmd.ProcessState.Success() {
		return nil
	}
	return &exec.ExitError{ProcessState: cmd.ProcessState}
}
