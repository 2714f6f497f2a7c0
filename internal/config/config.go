// Package config assembles the immutable run configuration from three
// sources, in increasing precedence: the optional .pyship.yaml project
// file, PYSHIP_* environment variables, and command-line flags. The result
// is constructed once at startup and never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pyship/internal/index"
	"pyship/internal/logging"
	"pyship/internal/pyproject"
)

// DefaultFileName is the per-project configuration file, looked up at the
// project root unless --config points elsewhere.
const DefaultFileName = ".pyship.yaml"

// FileConfig holds .pyship.yaml. Everything is optional; a project with no
// file at all publishes fine.
type FileConfig struct {
	// Python names the interpreter binary. Empty means auto-detect
	// (python3, then python).
	Python string `yaml:"python"`

	// Timeout bounds each external tool invocation, as a Go duration
	// string ("90s", "5m"). Empty or "0" means no limit.
	Timeout string `yaml:"timeout"`

	Package PackageConfig `yaml:"package"`
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
}

// PackageConfig overrides resolved distribution identity fields.
type PackageConfig struct {
	// Name overrides the distribution name from pyproject.toml.
	Name string `yaml:"name"`

	// Import overrides the module name the smoke test imports.
	Import string `yaml:"import"`

	// EntryPoint overrides the console script tried with --help;
	// "-" disables the check.
	EntryPoint string `yaml:"entry_point"`
}

// IndexConfig points uploads and verification at a custom index.
type IndexConfig struct {
	UploadURL string `yaml:"upload_url"`
	SimpleURL string `yaml:"simple_url"`
}

// LoggingConfig switches on the diagnostic outputs that are off by default.
type LoggingConfig struct {
	// Debug writes JSON debug logs under <project>/.pyship/logs/.
	Debug bool `yaml:"debug"`

	// Audit writes one JSONL record per tool invocation under
	// <project>/.pyship/audit/.
	Audit bool `yaml:"audit"`
}

// DefaultFileConfig returns the built-in defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{}
}

// LoadFile reads a .pyship.yaml. A missing file returns defaults; a file
// that exists but does not parse is an error.
func LoadFile(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	logging.BootDebug("loaded config from %s", path)
	return cfg, nil
}

// applyEnvOverrides layers PYSHIP_* variables over the file values.
func (c *FileConfig) applyEnvOverrides() {
	if python := os.Getenv("PYSHIP_PYTHON"); python != "" {
		c.Python = python
	}
	if timeout := os.Getenv("PYSHIP_TIMEOUT"); timeout != "" {
		c.Timeout = timeout
	}
	if debug := os.Getenv("PYSHIP_DEBUG"); debug == "1" || debug == "true" {
		c.Logging.Debug = true
	}
}

// Mode selects the upload destination.
type Mode int

const (
	// ModeTestPyPI targets the staging index.
	ModeTestPyPI Mode = iota
	// ModeProd targets the production index.
	ModeProd
)

// Flags mirrors the command line after parsing. The command layer has
// already enforced that exactly one mode flag was given.
type Flags struct {
	Mode       Mode
	SkipVerify bool
	Version    string
	ProjectDir string
	ConfigFile string
	Timeout    time.Duration
	TimeoutSet bool
	Verbose    bool
	NoColor    bool
}

// Run is the resolved, immutable configuration for one publish run.
type Run struct {
	// ID uniquely identifies this run in logs and audit records.
	ID string

	Target     index.Target
	SkipVerify bool

	// ProjectDir is the absolute path of the directory holding
	// pyproject.toml. Resolve normalizes it so artifact paths handed to
	// the tools stay valid whatever their working directory is.
	ProjectDir string

	// Python is the interpreter binary preference; empty means
	// auto-detect at pipeline start.
	Python string

	// Timeout bounds each tool invocation; zero means none.
	Timeout time.Duration

	// Overrides feed distribution identity resolution.
	Overrides pyproject.Overrides

	Verbose bool
	Color   bool
	Debug   bool
	Audit   bool
}

// LogDir returns where debug logs go when enabled.
func (r *Run) LogDir() string {
	return filepath.Join(r.ProjectDir, ".pyship", "logs")
}

// AuditPath returns the audit trail file for this run.
func (r *Run) AuditPath() string {
	return filepath.Join(r.ProjectDir, ".pyship", "audit", r.ID+".jsonl")
}

// Resolve builds the Run from flags, the project file and the environment.
func Resolve(fl Flags) (*Run, error) {
	projectDir, err := filepath.Abs(fl.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}

	path := fl.ConfigFile
	if path == "" {
		path = filepath.Join(projectDir, DefaultFileName)
	} else if _, err := os.Stat(path); err != nil {
		// The default file is optional, an explicitly named one is not.
		return nil, fmt.Errorf("config file: %w", err)
	}
	fileCfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fileCfg.applyEnvOverrides()

	var target index.Target
	switch fl.Mode {
	case ModeProd:
		target = index.PyPI()
	default:
		target = index.TestPyPI()
	}
	target, err = target.WithOverrides(fileCfg.Index.UploadURL, fileCfg.Index.SimpleURL)
	if err != nil {
		return nil, err
	}

	timeout := fl.Timeout
	if !fl.TimeoutSet && fileCfg.Timeout != "" {
		timeout, err = time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", fileCfg.Timeout, err)
		}
	}
	if timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %s: must not be negative", timeout)
	}

	run := &Run{
		ID:         uuid.NewString(),
		Target:     target,
		SkipVerify: fl.SkipVerify,
		ProjectDir: projectDir,
		Python:     fileCfg.Python,
		Timeout:    timeout,
		Overrides: pyproject.Overrides{
			Version:    fl.Version,
			Name:       fileCfg.Package.Name,
			ImportName: fileCfg.Package.Import,
			EntryPoint: fileCfg.Package.EntryPoint,
		},
		Verbose: fl.Verbose,
		Color:   !fl.NoColor,
		Debug:   fileCfg.Logging.Debug,
		Audit:   fileCfg.Logging.Audit,
	}
	logging.BootDebug("run %s: target=%s skipVerify=%v timeout=%s", run.ID, target.Name, run.SkipVerify, timeout)
	return run, nil
}
