// Package pipeline runs the publish sequence: clean, tool bootstrap, build,
// check, upload, verify. Stages run strictly in order and the first failure
// aborts the rest; nothing is retried. Each stage announces itself on the
// console before running, so the point of failure is visible from the last
// status line alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pyship/internal/config"
	"pyship/internal/logging"
	"pyship/internal/pyproject"
	"pyship/internal/toolexec"
	"pyship/internal/ux"
)

// PreconditionError reports a failed runtime precondition: no usable
// interpreter, no pyproject.toml, or an unresolvable package identity.
// The CLI maps it to the usage exit code since the fix is always on the
// operator's side.
type PreconditionError struct {
	Msg string
	Err error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// StageError reports an external tool failing mid-pipeline. The CLI exits
// with the tool's own status so wrapper scripts see what the tool reported.
type StageError struct {
	Stage    string
	Command  string
	ExitCode int

	// Reason is set when the tool did not exit on its own (timeout,
	// cancellation).
	Reason string
}

func (e *StageError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s stage: %s: %s", e.Stage, e.Command, e.Reason)
	}
	return fmt.Sprintf("%s stage: %s exited with status %d", e.Stage, e.Command, e.ExitCode)
}

// Pipeline executes one publish run. Construct with New, run with Execute,
// throw away.
type Pipeline struct {
	run    *config.Run
	runner toolexec.Runner
	out    *ux.Printer

	python string
	dist   pyproject.Distribution
}

// New builds a pipeline for the given run configuration.
func New(run *config.Run, runner toolexec.Runner, out *ux.Printer) *Pipeline {
	return &Pipeline{run: run, runner: runner, out: out}
}

// Distribution returns the resolved package identity. Valid after Execute
// has passed the resolve step.
func (p *Pipeline) Distribution() pyproject.Distribution {
	return p.dist
}

// Execute runs the whole pipeline. Preconditions are checked before any
// filesystem or network side effect.
func (p *Pipeline) Execute(ctx context.Context) error {
	if err := p.resolvePython(); err != nil {
		return err
	}
	if err := p.resolveDistribution(); err != nil {
		return err
	}

	p.out.Stage("Publishing %s to %s", p.dist.Describe(), p.run.Target.Name)
	if p.run.Target.Production {
		p.out.Warn("production index: uploads are permanent")
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"clean", p.clean},
		{"tools", p.ensureTools},
		{"build", p.build},
		{"check", p.check},
		{"upload", p.upload},
		{"verify", p.verify},
	}
	for _, stage := range stages {
		if err := stage.fn(ctx); err != nil {
			p.out.Fail("%s failed: %v", stage.name, err)
			return err
		}
	}

	p.out.Success("Published %s to %s", p.dist.Describe(), p.run.Target.Name)
	return nil
}

// resolvePython locates the interpreter everything else runs through.
// All packaging tools are invoked as python -m modules, so this is the only
// binary that has to exist up front.
func (p *Pipeline) resolvePython() error {
	candidates := []string{"python3", "python"}
	if p.run.Python != "" {
		candidates = []string{p.run.Python}
	}
	for _, candidate := range candidates {
		path, err := p.runner.LookPath(candidate)
		if err != nil {
			continue
		}
		p.python = candidate
		logging.BootDebug("interpreter: %s (%s)", candidate, path)
		return nil
	}
	return &PreconditionError{
		Msg: fmt.Sprintf("no Python interpreter found (tried %v); install one or set PYSHIP_PYTHON", candidates),
	}
}

// resolveDistribution loads pyproject.toml and settles the name/version
// pair used for both upload and verification.
func (p *Pipeline) resolveDistribution() error {
	f, err := pyproject.Load(p.run.ProjectDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &PreconditionError{
				Msg: fmt.Sprintf("%s not found in %s; run from the project root", pyproject.FileName, p.run.ProjectDir),
			}
		}
		return err
	}

	dist, err := pyproject.Resolve(f, p.run.Overrides)
	if err != nil {
		return &PreconditionError{Msg: "cannot resolve package identity", Err: err}
	}
	p.dist = dist
	return nil
}

// execTool runs one external command, applying the run timeout and
// converting a failed tool into a StageError.
func (p *Pipeline) execTool(ctx context.Context, cmd toolexec.Command) (*toolexec.Result, error) {
	if cmd.Timeout == 0 {
		cmd.Timeout = p.run.Timeout
	}
	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", cmd.Stage, err)
	}
	if res.Killed {
		return res, &StageError{Stage: cmd.Stage, Command: cmd.String(), ExitCode: 1, Reason: res.KillReason}
	}
	if res.ExitCode != 0 {
		return res, &StageError{Stage: cmd.Stage, Command: cmd.String(), ExitCode: res.ExitCode}
	}
	return res, nil
}
