// Package guardrail executes the project's external quality gates as
// subprocesses and maps their outcomes onto GuardrailResult values. The
// gates themselves are opaque: all that matters here is text output and an
// exit code.
package guardrail

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Command binds a guardrail name to the argv that runs it
type Command struct {
	Name types.GuardrailName `yaml:"name"`
	Argv []string            `yaml:"argv"`
}

// DefaultCommands returns the guardrail set for the governed TypeScript
// application, in the fixed order they run during finalize. The enumeration
// and count are load-bearing for downstream consumers: keep typecheck, lint,
// test, build stable.
func DefaultCommands() []Command {
	return []Command{
		{Name: types.GuardrailTypecheck, Argv: []string{"npx", "tsc", "--noEmit"}},
		{Name: types.GuardrailLint, Argv: []string{"npx", "eslint", "."}},
		{Name: types.GuardrailTest, Argv: []string{"npx", "vitest", "run"}},
		{Name: types.GuardrailBuild, Argv: []string{"npm", "run", "build"}},
	}
}

// Config holds guardrail runner configuration
type Config struct {
	// WorkingDir is where gate commands execute. Defaults to ".".
	WorkingDir string
	// Commands is the ordered guardrail set. Defaults to DefaultCommands.
	Commands []Command
	// Timeout bounds a single gate subprocess. Zero means no timeout; a
	// hung gate then blocks finalize until the caller's context expires.
	Timeout time.Duration
	// MaxProcs bounds concurrent gate subprocesses across all recorder
	// instances sharing this runner. Defaults to 1: gates run strictly
	// sequentially so later gates can assume earlier artifacts exist.
	MaxProcs int64
}

// Runner executes guardrails sequentially in their configured order
type Runner struct {
	workingDir string
	commands   []Command
	timeout    time.Duration
	sem        *semaphore.Weighted
}

// NewRunner creates a guardrail runner
func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	workingDir := cfg.WorkingDir
	if workingDir == "" {
		workingDir = "."
	}
	commands := cfg.Commands
	if commands == nil {
		commands = DefaultCommands()
	}
	maxProcs := cfg.MaxProcs
	if maxProcs <= 0 {
		maxProcs = 1
	}
	return &Runner{
		workingDir: workingDir,
		commands:   commands,
		timeout:    cfg.Timeout,
		sem:        semaphore.NewWeighted(maxProcs),
	}
}

// Names returns the configured guardrail names in execution order
func (r *Runner) Names() []types.GuardrailName {
	names := make([]types.GuardrailName, 0, len(r.commands))
	for _, c := range r.commands {
		names = append(names, c.Name)
	}
	return names
}

// Run executes one guardrail and returns its result. It never returns an
// error: a nonzero exit is a fail, a spawn failure or timeout is an error
// status, and an unconfigured name is a skip.
func (r *Runner) Run(ctx context.Context, name types.GuardrailName) types.GuardrailResult {
	result := types.GuardrailResult{
		Name:      name,
		Timestamp: time.Now().UTC(),
	}

	cmd, ok := r.lookup(name)
	if !ok {
		result.Status = types.GuardrailSkip
		result.Stderr = "no command configured for guardrail"
		return result
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		result.Status = types.GuardrailError
		result.Stderr = err.Error()
		return result
	}
	defer r.sem.Release(1)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = r.workingDir
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	result.DurationMS = time.Since(start).Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Metrics = map[string]float64{"duration_ms": float64(result.DurationMS)}

	switch {
	case err == nil:
		code := 0
		result.ExitCode = &code
		result.Status = types.GuardrailPass
	case runCtx.Err() != nil:
		// The subprocess was killed by the timeout, which also surfaces as
		// an exit error, so the context check comes first.
		result.Status = types.GuardrailError
		result.Stderr = "guardrail timed out: " + runCtx.Err().Error()
	case isExitError(err):
		code := exitCode(err)
		result.ExitCode = &code
		result.Status = types.GuardrailFail
	default:
		// Spawn failure or missing binary.
		result.Status = types.GuardrailError
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}

	return result
}

func (r *Runner) lookup(name types.GuardrailName) (Command, bool) {
	for _, c := range r.commands {
		if c.Name == name && len(c.Argv) > 0 {
			return c, true
		}
	}
	return Command{}, false
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
