package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"pyship/internal/logging"
	"pyship/internal/toolexec"
)

// verify installs the just-published package from the target index into a
// fresh virtual environment and smoke-tests it. The workspace lives outside
// the project tree so the source checkout can never shadow the installed
// package, and it is removed on every exit path, including failures.
func (p *Pipeline) verify(ctx context.Context) error {
	if p.run.SkipVerify {
		p.out.Warn("Skipping verification (--skip-verify)")
		return nil
	}

	p.out.Stage("Verifying %s from %s", p.dist.Describe(), p.run.Target.Name)

	workspace, err := os.MkdirTemp("", "pyship-verify-"+p.run.ID+"-")
	if err != nil {
		return fmt.Errorf("verify stage: create workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			logging.VerifyWarn("failed to remove workspace %s: %v", workspace, rmErr)
		}
	}()
	logging.Verify("workspace %s", workspace)

	venv := filepath.Join(workspace, "venv")
	if err := p.setupVenv(ctx, workspace, venv); err != nil {
		return err
	}
	if err := p.installPublished(ctx, workspace, venv); err != nil {
		return err
	}
	p.smokeImport(ctx, workspace, venv)
	p.smokeEntryPoint(ctx, workspace, venv)

	p.out.Success("Verified %s installs from %s", p.dist.Describe(), p.run.Target.Name)
	return nil
}

// setupVenv provisions the isolated environment and brings its package
// manager up to date.
func (p *Pipeline) setupVenv(ctx context.Context, workspace, venv string) error {
	logging.Verify("creating virtual environment")
	if _, err := p.execTool(ctx, toolexec.Command{
		Binary: p.python,
		Args:   []string{"-m", "venv", venv},
		Dir:    workspace,
		Stage:  "verify",
	}); err != nil {
		return err
	}

	_, err := p.execTool(ctx, toolexec.Command{
		Binary: venvPython(venv),
		Args:   []string{"-m", "pip", "install", "--upgrade", "pip"},
		Dir:    workspace,
		Stage:  "verify",
	})
	return err
}

// installPublished pins the exact uploaded version so a stale index or cache
// fails the install instead of silently resolving something else.
func (p *Pipeline) installPublished(ctx context.Context, workspace, venv string) error {
	requirement := p.dist.Requirement()
	p.out.Detail("pip install %s", requirement)
	logging.Verify("installing %s via %s", requirement, p.run.Target.SimpleURL)

	args := []string{"-m", "pip", "install", "--no-cache-dir"}
	args = append(args, p.run.Target.InstallArgs()...)
	args = append(args, requirement)

	_, err := p.execTool(ctx, toolexec.Command{
		Binary: venvPython(venv),
		Args:   args,
		Dir:    workspace,
		Stage:  "verify",
	})
	return err
}

// smokeImport imports the installed module and reports where it landed.
// Smoke tests are best-effort: a failure is surfaced as a warning and the
// run still succeeds, since the install itself already passed.
func (p *Pipeline) smokeImport(ctx context.Context, workspace, venv string) {
	script := fmt.Sprintf("import %s; print(%s.__file__)", p.dist.ImportName, p.dist.ImportName)
	res, err := p.runner.Run(ctx, toolexec.Command{
		Binary:  venvPython(venv),
		Args:    []string{"-c", script},
		Dir:     workspace,
		Stage:   "verify",
		Timeout: p.run.Timeout,
		Quiet:   true,
	})
	switch {
	case err != nil:
		p.out.Warn("import smoke test could not run: %v", err)
		logging.VerifyWarn("import smoke test could not run: %v", err)
	case res.ExitCode != 0:
		p.out.Warn("import %s failed (see debug log)", p.dist.ImportName)
		logging.VerifyWarn("import %s failed: %s", p.dist.ImportName, strings.TrimSpace(res.Stderr))
	default:
		location := strings.TrimSpace(res.Stdout)
		p.out.Detail("import %s ok (%s)", p.dist.ImportName, location)
		logging.Verify("imported %s from %s", p.dist.ImportName, location)
	}
}

// smokeEntryPoint tries the console script with --help. Best-effort only:
// absence or failure is recorded in the debug log and nowhere else.
func (p *Pipeline) smokeEntryPoint(ctx context.Context, workspace, venv string) {
	if p.dist.EntryPoint == "" {
		return
	}

	res, err := p.runner.Run(ctx, toolexec.Command{
		Binary:  filepath.Join(venvBin(venv), p.dist.EntryPoint),
		Args:    []string{"--help"},
		Dir:     workspace,
		Stage:   "verify",
		Timeout: p.run.Timeout,
		Quiet:   true,
	})
	switch {
	case err != nil:
		logging.VerifyDebug("entry point %s not runnable: %v", p.dist.EntryPoint, err)
	case res.ExitCode != 0:
		logging.VerifyDebug("entry point %s --help exited %d", p.dist.EntryPoint, res.ExitCode)
	default:
		p.out.Detail("%s --help ok", p.dist.EntryPoint)
		logging.VerifyDebug("entry point %s --help ok", p.dist.EntryPoint)
	}
}

// venvBin returns the executables directory of a virtual environment.
func venvBin(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts")
	}
	return filepath.Join(venv, "bin")
}

// venvPython returns the environment's own interpreter.
func venvPython(venv string) string {
	name := "python"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(venvBin(venv), name)
}
