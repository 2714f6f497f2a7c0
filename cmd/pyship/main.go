package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pyship/internal/config"
	"pyship/internal/logging"
	"pyship/internal/pipeline"
	"pyship/internal/toolexec"
	"pyship/internal/ux"
	"pyship/internal/version"
)

// Exit codes. Tool failures propagate the tool's own status instead.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var (
	testPyPI        bool
	prod            bool
	pypi            bool
	skipVerify      bool
	versionOverride string
	projectDir      string
	configFile      string
	timeout         time.Duration
	verbose         bool
	noColor         bool

	// pipelineStarted flips once flag validation is over; errors before
	// that are invocation problems and exit with the usage code.
	pipelineStarted bool
)

var rootCmd = &cobra.Command{
	Use:   "pyship",
	Short: "Build, publish and verify Python packages",
	Long: `pyship publishes the Python package in the current directory: it cleans
old build output, builds sdist and wheel, checks them, uploads them to the
chosen index, then proves the release by installing it back from that index
into a throwaway virtual environment and importing it.

Exactly one target index must be chosen: --testpypi for the staging index,
or --prod (alias --pypi) for the permanent production index.

Credentials are handled by twine: TWINE_USERNAME, TWINE_PASSWORD, keyring
or ~/.pypirc all work unchanged. pyship never reads or stores them.

Environment:
  PYSHIP_PYTHON   interpreter binary to use (default: python3, then python)
  PYSHIP_TIMEOUT  per-tool timeout, e.g. "90s" (default: none)
  PYSHIP_DEBUG    "1" or "true" writes JSON debug logs under .pyship/logs/

Exit status: 0 on success; 2 on a bad invocation or failed precondition
(no mode flag, unknown flag, missing pyproject.toml, unresolved version,
no Python interpreter); otherwise the failing tool's own exit status.`,
	Example: `  pyship --testpypi
  pyship --testpypi --version 1.4.0rc1
  pyship --prod --skip-verify`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPublish,
}

func init() {
	registerFlags(rootCmd)
}

// registerFlags wires the flag set onto cmd. Split out so tests can
// exercise flag validation on a fresh command.
func registerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&testPyPI, "testpypi", false, "publish to TestPyPI (staging)")
	flags.BoolVar(&prod, "prod", false, "publish to PyPI (production, permanent)")
	flags.BoolVar(&pypi, "pypi", false, "alias for --prod")
	flags.BoolVar(&skipVerify, "skip-verify", false, "skip post-upload install verification")
	flags.StringVar(&versionOverride, "version", "", "override the resolved package version (X.Y.Z)")
	flags.StringVarP(&projectDir, "project", "C", ".", "project directory containing pyproject.toml")
	flags.StringVar(&configFile, "config", "", "config file (default <project>/.pyship.yaml)")
	flags.DurationVar(&timeout, "timeout", 0, "per-tool timeout, 0 means none")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	flags.BoolVar(&noColor, "no-color", false, "disable styled output")

	// --prod and --pypi are the same mode, so they only exclude --testpypi,
	// not each other.
	cmd.MarkFlagsOneRequired("testpypi", "prod", "pypi")
	cmd.MarkFlagsMutuallyExclusive("testpypi", "prod")
	cmd.MarkFlagsMutuallyExclusive("testpypi", "pypi")
}

func main() {
	os.Exit(execute())
}

// execute runs the command and maps errors onto the exit-status contract.
func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintf(os.Stderr, "pyship: %v\n", err)
	code := exitCodeFor(err, pipelineStarted)
	if code == exitUsage && !pipelineStarted {
		fmt.Fprintln(os.Stderr, "Run 'pyship --help' for usage.")
	}
	return code
}

// exitCodeFor maps an error to the process exit status: invocation
// mistakes and failed preconditions exit 2, tool failures carry the
// tool's own status, anything else exits 1.
func exitCodeFor(err error, started bool) int {
	if err == nil {
		return exitOK
	}
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.ExitCode
	}
	var preErr *pipeline.PreconditionError
	if errors.As(err, &preErr) {
		return exitUsage
	}
	if !started {
		return exitUsage
	}
	return exitError
}

// selectedMode resolves the mode flags; the flag groups guarantee
// exactly one mode is in play by the time this runs.
func selectedMode() config.Mode {
	if prod || pypi {
		return config.ModeProd
	}
	return config.ModeTestPyPI
}

func runPublish(cmd *cobra.Command, args []string) error {
	pipelineStarted = true

	run, err := config.Resolve(config.Flags{
		Mode:       selectedMode(),
		SkipVerify: skipVerify,
		Version:    versionOverride,
		ProjectDir: projectDir,
		ConfigFile: configFile,
		Timeout:    timeout,
		TimeoutSet: cmd.Flags().Changed("timeout"),
		Verbose:    verbose,
		NoColor:    noColor,
	})
	if err != nil {
		return &pipeline.PreconditionError{Msg: "invalid configuration", Err: err}
	}

	logOpts := logging.Options{Verbose: run.Verbose}
	if run.Debug {
		logOpts.Dir = run.LogDir()
	}
	if err := logging.Init(logOpts); err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()
	logging.Boot("%s run %s", version.String(), run.ID)

	runnerCfg := toolexec.HostRunnerConfig{RunID: run.ID}
	if run.Audit {
		auditLog, err := toolexec.OpenAuditLog(run.AuditPath())
		if err != nil {
			return err
		}
		defer func() { _ = auditLog.Close() }()
		runnerCfg.Audit = func(ev toolexec.AuditEvent) {
			if err := auditLog.Write(ev); err != nil {
				logging.ToolsWarn("audit write failed: %v", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Boot("interrupt received, aborting")
		cancel()
	}()

	printer := ux.NewPrinter(os.Stdout, run.Color)
	runner := toolexec.NewHostRunner(runnerCfg)
	return pipeline.New(run, runner, printer).Execute(ctx)
}
