package pipeline

import (
	"context"
	"path/filepath"

	"pyship/internal/logging"
	"pyship/internal/toolexec"
)

// check runs the static artifact validator over everything the build
// produced, passing each file explicitly.
func (p *Pipeline) check(ctx context.Context) error {
	p.out.Stage("Checking distribution artifacts")

	files, err := p.artifacts()
	if err != nil {
		return err
	}
	for _, f := range files {
		p.out.Detail("%s", filepath.Base(f))
	}
	logging.Check("checking %d artifacts", len(files))

	args := append([]string{"-m", "twine", "check"}, files...)
	_, err = p.execTool(ctx, toolexec.Command{
		Binary: p.python,
		Args:   args,
		Dir:    p.run.ProjectDir,
		Stage:  "check",
	})
	return err
}
