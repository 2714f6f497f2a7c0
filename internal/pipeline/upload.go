package pipeline

import (
	"context"

	"pyship/internal/logging"
	"pyship/internal/toolexec"
)

// upload pushes the checked artifacts to the target index. Credentials are
// twine's business: TWINE_USERNAME, TWINE_PASSWORD, keyring and .pypirc all
// pass through untouched, and never appear on the command line.
func (p *Pipeline) upload(ctx context.Context) error {
	p.out.Stage("Uploading to %s", p.run.Target.Name)

	files, err := p.artifacts()
	if err != nil {
		return err
	}
	logging.Upload("uploading %d artifacts to %s", len(files), p.run.Target.UploadURL)

	args := append([]string{"-m", "twine", "upload", "--repository-url", p.run.Target.UploadURL}, files...)
	if _, err := p.execTool(ctx, toolexec.Command{
		Binary: p.python,
		Args:   args,
		Dir:    p.run.ProjectDir,
		Stage:  "upload",
	}); err != nil {
		return err
	}

	p.out.Success("Uploaded %s", p.dist.Describe())
	return nil
}
