package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyship/internal/config"
	"pyship/internal/index"
	"pyship/internal/logging"
	"pyship/internal/pyproject"
	"pyship/internal/toolexec"
	"pyship/internal/ux"
)

// fakeRunner scripts tool behavior without touching the host. Commands are
// matched by substring of their rendered string.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []toolexec.Command
	missing map[string]bool   // binaries LookPath cannot find
	exits   map[string]int    // command substring -> nonzero exit
	errs    map[string]error  // command substring -> run error
	stdout  map[string]string // command substring -> captured stdout
	onRun   func(cmd toolexec.Command)
	killed  map[string]string // command substring -> kill reason
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		missing: map[string]bool{},
		exits:   map[string]int{},
		errs:    map[string]error{},
		stdout:  map[string]string{},
		killed:  map[string]string{},
	}
}

func (f *fakeRunner) LookPath(binary string) (string, error) {
	if f.missing[binary] {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + binary, nil
}

func (f *fakeRunner) Run(ctx context.Context, cmd toolexec.Command) (*toolexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(cmd)
	}
	rendered := cmd.String()
	for sub, err := range f.errs {
		if strings.Contains(rendered, sub) {
			return nil, err
		}
	}
	for sub, reason := range f.killed {
		if strings.Contains(rendered, sub) {
			return &toolexec.Result{ExitCode: 1, Killed: true, KillReason: reason}, nil
		}
	}
	for sub, code := range f.exits {
		if strings.Contains(rendered, sub) {
			return &toolexec.Result{ExitCode: code}, nil
		}
	}
	res := &toolexec.Result{ExitCode: 0}
	for sub, out := range f.stdout {
		if strings.Contains(rendered, sub) {
			res.Stdout = out
		}
	}
	return res, nil
}

func (f *fakeRunner) commandStrings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeRunner) callMatching(sub string) (toolexec.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c.String(), sub) {
			return c, true
		}
	}
	return toolexec.Command{}, false
}

// seedProject writes a publishable pyproject.toml and returns the dir.
func seedProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
[project]
name = "demo-pkg"
version = "1.2.3"

[project.scripts]
demo-pkg = "demo_pkg.cli:main"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(content), 0o644))
	return dir
}

func testRun(dir string) *config.Run {
	return &config.Run{
		ID:         "test-run",
		Target:     index.TestPyPI(),
		ProjectDir: dir,
	}
}

// buildCreatesArtifacts makes the fake build produce a dist/ like a real
// backend would.
func buildCreatesArtifacts(t *testing.T, dir string) func(toolexec.Command) {
	t.Helper()
	return func(cmd toolexec.Command) {
		if !strings.Contains(cmd.String(), "-m build") {
			return
		}
		distDir := filepath.Join(dir, "dist")
		require.NoError(t, os.MkdirAll(distDir, 0o755))
		for _, name := range []string{"demo_pkg-1.2.3-py3-none-any.whl", "demo_pkg-1.2.3.tar.gz"} {
			require.NoError(t, os.WriteFile(filepath.Join(distDir, name), []byte("artifact"), 0o644))
		}
	}
}

func newTestPipeline(run *config.Run, runner toolexec.Runner) (*Pipeline, *bytes.Buffer) {
	var out bytes.Buffer
	return New(run, runner, ux.NewPrinter(&out, false)), &out
}

func TestExecute_HappyPath(t *testing.T) {
	dir := seedProject(t)
	// Stale outputs from an earlier build must disappear.
	staleDist := filepath.Join(dir, "dist", "demo_pkg-0.9.0.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(staleDist), 0o755))
	require.NoError(t, os.WriteFile(staleDist, []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "demo_pkg.egg-info"), 0o755))

	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.stdout["print("] = "/tmp/venv/lib/python3.12/site-packages/demo_pkg/__init__.py\n"

	p, out := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	assert.NoFileExists(t, staleDist)
	assert.NoDirExists(t, filepath.Join(dir, "demo_pkg.egg-info"))

	cmds := runner.commandStrings()
	joined := strings.Join(cmds, "\n")
	assert.Contains(t, joined, "python3 -m pip install --upgrade build twine")
	assert.Contains(t, joined, "python3 -m build")
	assert.Contains(t, joined, "-m twine check")
	assert.Contains(t, joined, "demo_pkg-1.2.3-py3-none-any.whl")
	assert.Contains(t, joined, "-m twine upload --repository-url https://test.pypi.org/legacy/")
	assert.Contains(t, joined, "-m venv")
	assert.Contains(t, joined, "--index-url https://test.pypi.org/simple/ --extra-index-url https://pypi.org/simple/ demo-pkg==1.2.3")
	assert.Contains(t, joined, "import demo_pkg; print(demo_pkg.__file__)")
	assert.Contains(t, joined, "demo-pkg --help")

	// Operator-facing narrative announces every stage.
	console := out.String()
	for _, line := range []string{"Cleaning", "Building", "Checking", "Uploading to TestPyPI", "Verifying", "Published demo-pkg 1.2.3"} {
		assert.Contains(t, console, line)
	}
}

func TestExecute_UploadAndInstallUseSameIdentity(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	p, _ := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	install, ok := runner.callMatching("--no-cache-dir")
	require.True(t, ok, "expected a pinned install command")
	assert.Contains(t, install.Args, p.Distribution().Requirement())
	assert.Equal(t, "demo-pkg==1.2.3", p.Distribution().Requirement())
}

func TestExecute_ProdTargetsPyPI(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	run := testRun(dir)
	run.Target = index.PyPI()
	p, out := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.Contains(t, joined, "--repository-url https://upload.pypi.org/legacy/")
	assert.Contains(t, joined, "--index-url https://pypi.org/simple/ demo-pkg==1.2.3")
	assert.NotContains(t, joined, "--extra-index-url", "production install must not consult a second index")
	assert.Contains(t, out.String(), "production index")
}

func TestExecute_SkipVerify(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	run := testRun(dir)
	run.SkipVerify = true
	p, out := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.NotContains(t, joined, "-m venv", "skip-verify must not provision an environment")
	assert.NotContains(t, joined, "--no-cache-dir")
	assert.Contains(t, out.String(), "Skipping verification")
}

func TestExecute_MissingInterpreter(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.missing["python3"] = true
	runner.missing["python"] = true

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Error(), "no Python interpreter")
	assert.Empty(t, runner.calls, "no tool may run without an interpreter")
}

func TestExecute_ConfiguredInterpreterOnly(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.missing["python3"] = true
	runner.onRun = buildCreatesArtifacts(t, dir)

	run := testRun(dir)
	run.Python = "python3.12"
	p, _ := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	first := runner.calls[0]
	assert.Equal(t, "python3.12", first.Binary)
}

func TestExecute_MissingPyproject(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner()

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Error(), "pyproject.toml not found")
	assert.Empty(t, runner.calls, "must fail before any build or upload tool runs")
}

func TestExecute_UnresolvedVersion(t *testing.T) {
	dir := t.TempDir()
	content := "[project]\nname = \"demo-pkg\"\ndynamic = [\"version\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(content), 0o644))

	runner := newFakeRunner()
	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.ErrorIs(t, err, pyproject.ErrVersionNotResolved)
	assert.Empty(t, runner.calls)
}

func TestExecute_VersionOverrideFlowsThrough(t *testing.T) {
	dir := t.TempDir()
	content := "[project]\nname = \"demo-pkg\"\ndynamic = [\"version\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(content), 0o644))

	runner := newFakeRunner()
	runner.onRun = func(cmd toolexec.Command) {
		if strings.Contains(cmd.String(), "-m build") {
			distDir := filepath.Join(dir, "dist")
			_ = os.MkdirAll(distDir, 0o755)
			_ = os.WriteFile(filepath.Join(distDir, "demo_pkg-9.9.9.tar.gz"), []byte("a"), 0o644)
		}
	}

	run := testRun(dir)
	run.Overrides = pyproject.Overrides{Version: "9.9.9"}
	p, _ := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.Contains(t, joined, "demo-pkg==9.9.9")
}

func TestExecute_BuildFailureAbortsAndPropagates(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.exits["-m build"] = 4

	p, out := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "build", stage.Stage)
	assert.Equal(t, 4, stage.ExitCode)

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.NotContains(t, joined, "twine upload", "upload must not run after a failed build")
	assert.Contains(t, out.String(), "build failed")
}

func TestExecute_EmptyArtifactSetFailsCheck(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner() // build succeeds but produces nothing

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no distribution artifacts")
	joined := strings.Join(runner.commandStrings(), "\n")
	assert.NotContains(t, joined, "twine check")
	assert.NotContains(t, joined, "twine upload")
}

func TestExecute_ArtifactNamesRenderVerbatim(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = func(cmd toolexec.Command) {
		if !strings.Contains(cmd.String(), "-m build") {
			return
		}
		distDir := filepath.Join(dir, "dist")
		require.NoError(t, os.MkdirAll(distDir, 0o755))
		// A percent sign in a filename must survive the console listing.
		for _, name := range []string{"demo_pkg-1.2.3+wip50%-py3-none-any.whl", "demo_pkg-1.2.3.tar.gz"} {
			require.NoError(t, os.WriteFile(filepath.Join(distDir, name), []byte("artifact"), 0o644))
		}
	}

	p, out := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	console := out.String()
	assert.Contains(t, console, "demo_pkg-1.2.3+wip50%-py3-none-any.whl")
	assert.NotContains(t, console, "%!", "filenames must not be interpreted as format strings")
}

func TestExecute_UploadFailureSkipsVerify(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.exits["twine upload"] = 1

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "upload", stage.Stage)

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.NotContains(t, joined, "-m venv")
}

func TestExecute_ImportFailureIsTolerated(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.exits["import demo_pkg"] = 1

	p, out := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	assert.Contains(t, out.String(), "import demo_pkg failed")
	assert.Contains(t, out.String(), "Verified demo-pkg 1.2.3")
}

func TestExecute_EntryPointFailureIsTolerated(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.exits["--help"] = 2

	p, _ := newTestPipeline(testRun(dir), runner)
	assert.NoError(t, p.Execute(context.Background()))
}

func TestExecute_PipSelfUpgradeFailureFailsVerification(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.exits["install --upgrade pip"] = 1

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "verify", stage.Stage)

	joined := strings.Join(runner.commandStrings(), "\n")
	assert.NotContains(t, joined, "--no-cache-dir", "install must not run after a failed env setup")
}

func TestExecute_TimeoutReachesCommands(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	run := testRun(dir)
	run.Timeout = 90 * time.Second
	p, _ := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	for _, cmd := range runner.calls {
		assert.Equal(t, 90*time.Second, cmd.Timeout, "command %s", cmd.String())
	}
}

func TestExecute_KilledToolSurfacesReason(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.killed["-m build"] = "timeout after 1s"

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "build", stage.Stage)
	assert.Equal(t, 1, stage.ExitCode)
	assert.Contains(t, stage.Reason, "timeout")
}

func TestExecute_RunnerErrorIsNotAStageError(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.errs["-m pip install --upgrade build twine"] = errors.New("fork failed")

	p, _ := newTestPipeline(testRun(dir), runner)
	err := p.Execute(context.Background())

	require.Error(t, err)
	var stage *StageError
	assert.False(t, errors.As(err, &stage))
	assert.Contains(t, err.Error(), "tools stage")
}

func TestExecute_VerifyCommandsRunOutsideProject(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	p, _ := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	imp, ok := runner.callMatching("import demo_pkg")
	require.True(t, ok)
	assert.NotEqual(t, dir, imp.Dir, "smoke test must not run from the source tree")
	assert.NotEmpty(t, imp.Dir)
}

func TestExecute_VerifyWorkspaceRemoved(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	p, _ := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))

	venvCmd, ok := runner.callMatching("-m venv")
	require.True(t, ok)
	assert.NoDirExists(t, venvCmd.Dir)
}

func TestExecute_VerifyWorkspaceRemovedOnFailure(t *testing.T) {
	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	runner.exits["--no-cache-dir"] = 1

	p, _ := newTestPipeline(testRun(dir), runner)
	require.Error(t, p.Execute(context.Background()))

	venvCmd, ok := runner.callMatching("-m venv")
	require.True(t, ok)
	assert.NoDirExists(t, venvCmd.Dir)
}

func TestExecute_RelativeProjectDir(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "[project]\nname = \"demo-pkg\"\nversion = \"1.2.3\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(content), 0o644))
	t.Chdir(parent)
	for _, v := range []string{"PYSHIP_PYTHON", "PYSHIP_TIMEOUT", "PYSHIP_DEBUG"} {
		t.Setenv(v, "")
	}

	run, err := config.Resolve(config.Flags{Mode: config.ModeTestPyPI, ProjectDir: "proj"})
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(run.ProjectDir))

	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)
	p, _ := newTestPipeline(run, runner)
	require.NoError(t, p.Execute(context.Background()))

	// The artifact paths handed to the tools must stay valid from the
	// tools' own working directory, not just from where pyship started.
	upload, ok := runner.callMatching("twine upload")
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(upload.Dir), "tool working dir: %s", upload.Dir)
	artifacts := 0
	for _, arg := range upload.Args {
		if strings.HasSuffix(arg, ".whl") || strings.HasSuffix(arg, ".tar.gz") {
			artifacts++
			assert.True(t, filepath.IsAbs(arg), "artifact path: %s", arg)
			assert.FileExists(t, arg)
		}
	}
	assert.Equal(t, 2, artifacts)
}

func TestExecute_BuildCompletionLogged(t *testing.T) {
	logDir := t.TempDir()
	require.NoError(t, logging.Init(logging.Options{Dir: logDir}))
	defer func() {
		require.NoError(t, logging.Init(logging.Options{}))
	}()

	dir := seedProject(t)
	runner := newFakeRunner()
	runner.onRun = buildCreatesArtifacts(t, dir)

	p, _ := newTestPipeline(testRun(dir), runner)
	require.NoError(t, p.Execute(context.Background()))
	_ = logging.Sync()

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"build"`)
	assert.Contains(t, string(data), "-m build completed")
}
