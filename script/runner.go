// Package script runs Python helper scripts as child processes.
package script

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"adbdesk/models"
	"adbdesk/proc"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterpreter is used when neither a configured path nor $PYTHON_PATH is set.
	DefaultInterpreter = "python3"
	// DefaultTimeout bounds a blocking script run.
	DefaultTimeout = 30 * time.Second
)

// Stream names the pipe an interactive chunk was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

type (
	OutputFunc func(stream Stream, data string)
	CloseFunc  func(exitCode int)
)

type Option func(*Runner)

// WithInteractiveTimeout bounds interactive runs. By default they run until
// they exit, are terminated or their context ends.
func WithInteractiveTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.interactiveTimeout = d
	}
}

// Runner spawns the interpreter and tracks every process it started until it exits.
type Runner struct {
	interpreter        string
	timeout            time.Duration
	interactiveTimeout time.Duration

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// NewRunner creates a runner. An empty interpreter falls back to $PYTHON_PATH
// and then python3. A zero timeout disables the bound on blocking runs.
func NewRunner(interpreter string, timeout time.Duration, opts ...Option) *Runner {
	if interpreter == "" {
		interpreter = os.Getenv("PYTHON_PATH")
	}
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	r := &Runner{
		interpreter: interpreter,
		timeout:     timeout,
		running:     make(map[string]*exec.Cmd),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Interpreter() string {
	return r.interpreter
}

// RunScript runs scriptPath to completion with the script's directory as the
// working directory. Every failure is reported in the result.
func (r *Runner) RunScript(ctx context.Context, scriptPath string, args []string) models.ScriptResult {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return models.ScriptResult{CommandResult: models.FailedResult("", err.Error())}
	}
	return r.run(ctx, filepath.Dir(abs), append([]string{abs}, args...))
}

// InstallDependencies runs `<interpreter> -m pip install -r requirementsPath`.
func (r *Runner) InstallDependencies(ctx context.Context, requirementsPath string) models.ScriptResult {
	abs, err := filepath.Abs(requirementsPath)
	if err != nil {
		return models.ScriptResult{CommandResult: models.FailedResult("", err.Error())}
	}
	return r.run(ctx, filepath.Dir(abs), []string{"-m", "pip", "install", "-r", abs})
}

func (r *Runner) run(ctx context.Context, dir string, argv []string) models.ScriptResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := proc.Graceful(exec.CommandContext(ctx, r.interpreter, argv...))
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	id := uuid.NewString()
	if err := cmd.Start(); err != nil {
		log.Warn().Str("module", "script").Str("interpreter", r.interpreter).Err(err).Msg("spawn failed")
		return models.ScriptResult{CommandResult: models.FailedResult("", err.Error()), ProcessID: id}
	}
	r.track(id, cmd)
	defer r.untrack(id)

	log.Debug().Str("module", "script").Str("process_id", id).Strs("argv", argv).Msg("script started")
	err := proc.Wait(cmd)

	result := models.ScriptResult{ProcessID: id}
	switch {
	case err == nil:
		result.CommandResult = models.CommandResult{
			Success: true,
			Stdout:  strings.TrimSpace(stdout.String()),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn().Str("module", "script").Str("process_id", id).Dur("timeout", r.timeout).Msg("script timed out")
		result.CommandResult = models.FailedResult(strings.TrimSpace(stdout.String()), models.TimeoutMarker)
	default:
		result.CommandResult = models.CommandResult{
			Success:  false,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
			ExitCode: exitCode(err),
		}
	}
	return result
}

// RunScriptInteractive starts scriptPath and returns its process id without
// waiting. Output chunks are passed to onOutput one at a time, and onClose gets
// the exit code once both pipes are drained. ctx bounds the process lifetime.
func (r *Runner) RunScriptInteractive(ctx context.Context, scriptPath string, args []string, onOutput OutputFunc, onClose CloseFunc) (string, error) {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", errors.Wrap(err, "resolve script path")
	}

	cancel := context.CancelFunc(func() {})
	if r.interactiveTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.interactiveTimeout)
	}

	cmd := proc.Graceful(exec.CommandContext(ctx, r.interpreter, append([]string{abs}, args...)...))
	cmd.Dir = filepath.Dir(abs)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return "", errors.Wrap(err, "stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return "", errors.Wrapf(err, "start %s", r.interpreter)
	}

	id := uuid.NewString()
	r.track(id, cmd)
	log.Debug().Str("module", "script").Str("process_id", id).Str("script", abs).Msg("interactive script started")

	var emitMu sync.Mutex
	emit := func(stream Stream, data string) {
		if onOutput == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		onOutput(stream, data)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go pump(&readers, stdout, Stdout, emit)
	go pump(&readers, stderr, Stderr, emit)

	go func() {
		defer cancel()
		readers.Wait()
		code := exitCode(proc.Wait(cmd))
		r.untrack(id)
		log.Debug().Str("module", "script").Str("process_id", id).Int("exit_code", code).Msg("interactive script exited")
		if onClose != nil {
			onClose(code)
		}
	}()

	return id, nil
}

func pump(wg *sync.WaitGroup, pipe io.Reader, stream Stream, emit func(Stream, string)) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			emit(stream, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// TerminateProcess sends SIGTERM to a tracked process and stops tracking it.
func (r *Runner) TerminateProcess(id string) bool {
	r.mu.Lock()
	cmd, ok := r.running[id]
	delete(r.running, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := proc.Terminate(cmd.Process); err != nil {
		log.Debug().Str("module", "script").Str("process_id", id).Err(err).Msg("terminate")
	}
	log.Info().Str("module", "script").Str("process_id", id).Msg("script terminated")
	return true
}

// TerminateAll signals every tracked process and clears the table.
func (r *Runner) TerminateAll() {
	r.mu.Lock()
	running := r.running
	r.running = make(map[string]*exec.Cmd)
	r.mu.Unlock()

	for id, cmd := range running {
		if err := proc.Terminate(cmd.Process); err != nil {
			log.Debug().Str("module", "script").Str("process_id", id).Err(err).Msg("terminate")
		}
	}
	if len(running) > 0 {
		log.Info().Str("module", "script").Int("count", len(running)).Msg("terminated all scripts")
	}
}

// InFlight returns the ids of the processes still tracked, sorted.
func (r *Runner) InFlight() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Version returns the interpreter's `--version` output. Python 2 prints it to stderr.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := proc.Graceful(exec.CommandContext(ctx, r.interpreter, "--version")).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "%s --version", r.interpreter)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Runner) IsAvailable(ctx context.Context) bool {
	_, err := r.Version(ctx)
	return err == nil
}

func (r *Runner) track(id string, cmd *exec.Cmd) {
	r.mu.Lock()
	r.running[id] = cmd
	r.mu.Unlock()
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

// exitCode maps a Wait error to an exit code. A process killed by a signal
// has no code of its own and reports 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 1
}
