package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pyship/internal/logging"
	"pyship/internal/toolexec"
)

// cleanTargets are the build outputs removed before every build, relative to
// the project root. Globs cover setuptools metadata directories.
var cleanTargets = []string{"dist", "build", "*.egg-info"}

// clean removes leftovers of previous builds so the artifact set uploaded
// later contains exactly what this run produced.
func (p *Pipeline) clean(ctx context.Context) error {
	p.out.Stage("Cleaning previous build artifacts")

	for _, target := range cleanTargets {
		matches, err := filepath.Glob(filepath.Join(p.run.ProjectDir, target))
		if err != nil {
			return fmt.Errorf("clean stage: bad pattern %q: %w", target, err)
		}
		for _, match := range matches {
			logging.BuildDebug("removing %s", match)
			if err := os.RemoveAll(match); err != nil {
				return fmt.Errorf("clean stage: remove %s: %w", match, err)
			}
		}
	}
	return nil
}

// ensureTools upgrades the build frontend and upload client in the invoking
// interpreter's environment. Pinning happens through the interpreter the
// operator chose, not a system-wide install.
func (p *Pipeline) ensureTools(ctx context.Context) error {
	p.out.Stage("Ensuring build and upload tools are current")

	_, err := p.execTool(ctx, toolexec.Command{
		Binary: p.python,
		Args:   []string{"-m", "pip", "install", "--upgrade", "build", "twine"},
		Dir:    p.run.ProjectDir,
		Stage:  "tools",
	})
	return err
}

// build produces the source and wheel distributions into dist/.
func (p *Pipeline) build(ctx context.Context) error {
	p.out.Stage("Building source and wheel distributions")

	res, err := p.execTool(ctx, toolexec.Command{
		Binary: p.python,
		Args:   []string{"-m", "build"},
		Dir:    p.run.ProjectDir,
		Stage:  "build",
	})
	if err != nil {
		return err
	}
	logging.Build("%s -m build completed in %s", p.python, res.Duration.Round(time.Millisecond))
	return nil
}

// artifacts enumerates the distributions in dist/. Only this run's output
// can be present since clean ran first. An empty set means the build backend
// produced nothing despite exiting zero and fails the stage.
func (p *Pipeline) artifacts() ([]string, error) {
	distDir := filepath.Join(p.run.ProjectDir, "dist")
	var files []string
	for _, pattern := range []string{"*.whl", "*.tar.gz"} {
		matches, err := filepath.Glob(filepath.Join(distDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan dist: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no distribution artifacts found in %s", distDir)
	}
	for _, f := range files {
		logging.BuildDebug("artifact: %s", filepath.Base(f))
	}
	return files, nil
}
