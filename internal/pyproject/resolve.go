package pyproject

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pyship/internal/logging"
)

// Resolution failures the CLI maps to the precondition exit code.
var (
	ErrVersionNotResolved = errors.New("version not determined: pyproject.toml has no readable project.version; pass --version X.Y.Z")
	ErrNameNotResolved    = errors.New("package name not determined: pyproject.toml has no readable project.name; set package.name in .pyship.yaml")
)

// Textual fallbacks over the raw file, for when the structured parse fails
// or the field is computed dynamically. Top-level assignments only: the
// first unindented `version = "X.Y.Z"` / `name = "..."` line wins, no
// smarter than a grep.
var (
	versionLine = regexp.MustCompile(`(?m)^version\s*=\s*"(\d+\.\d+\.\d+)"`)
	nameLine    = regexp.MustCompile(`(?m)^name\s*=\s*"([^"\n]+)"`)
)

// Distribution is the resolved identity of the package being published.
type Distribution struct {
	// Name is the distribution name as the index knows it.
	Name string

	// Version is the exact version string uploaded and then installed back.
	Version string

	// ImportName is the top-level module the smoke test imports.
	ImportName string

	// EntryPoint is the console script tried with --help during
	// verification; empty disables that check.
	EntryPoint string
}

// Requirement renders the pinned pip requirement, e.g. "demo-pkg==1.2.3".
func (d Distribution) Requirement() string {
	return d.Name + "==" + d.Version
}

// Overrides carries operator-supplied values that shortcut resolution.
// EntryPoint "-" disables the entry point check entirely.
type Overrides struct {
	Version    string
	Name       string
	ImportName string
	EntryPoint string
}

// Resolve determines the full distribution identity from overrides and the
// loaded file. Version resolution order: override, structured
// project.version, textual version line. Name resolution runs the same
// ladder; there is no hard-coded fallback name, a package whose name cannot
// be read fails here rather than verifying some other package later.
func Resolve(f *File, ov Overrides) (Distribution, error) {
	version, src, err := resolveVersion(f, ov.Version)
	if err != nil {
		return Distribution{}, err
	}
	logging.Resolve("version %s (%s)", version, src)

	name, src, err := resolveName(f, ov.Name)
	if err != nil {
		return Distribution{}, err
	}
	logging.Resolve("package %s (%s)", name, src)

	d := Distribution{
		Name:       name,
		Version:    version,
		ImportName: ov.ImportName,
		EntryPoint: resolveEntryPoint(f, name, ov.EntryPoint),
	}
	if d.ImportName == "" {
		d.ImportName = ImportName(name)
	}
	if d.EntryPoint != "" {
		logging.ResolveDebug("entry point: %s", d.EntryPoint)
	}
	return d, nil
}

func resolveVersion(f *File, override string) (string, string, error) {
	if override != "" {
		return override, "override", nil
	}
	if p := f.project(); p != nil && p.Version != nil && *p.Version != "" {
		return *p.Version, "project.version", nil
	}
	if m := versionLine.FindSubmatch(f.Raw); m != nil {
		return string(m[1]), "version line", nil
	}
	return "", "", ErrVersionNotResolved
}

func resolveName(f *File, override string) (string, string, error) {
	if override != "" {
		return override, "override", nil
	}
	if p := f.project(); p != nil && p.Name != nil && *p.Name != "" {
		return *p.Name, "project.name", nil
	}
	if m := nameLine.FindSubmatch(f.Raw); m != nil {
		return string(m[1]), "name line", nil
	}
	return "", "", ErrNameNotResolved
}

// resolveEntryPoint picks the console script to smoke test: the override if
// given ("-" disables), else the script named after the distribution, else
// the sole declared script. Multiple scripts with no clear owner disable
// the check rather than guessing.
func resolveEntryPoint(f *File, name, override string) string {
	if override == "-" {
		return ""
	}
	if override != "" {
		return override
	}
	p := f.project()
	if p == nil || len(p.Scripts) == 0 {
		return ""
	}
	if _, ok := p.Scripts[name]; ok {
		return name
	}
	if len(p.Scripts) == 1 {
		for script := range p.Scripts {
			return script
		}
	}
	names := make([]string, 0, len(p.Scripts))
	for script := range p.Scripts {
		names = append(names, script)
	}
	sort.Strings(names)
	logging.ResolveDebug("multiple console scripts (%s), skipping entry point check", strings.Join(names, ", "))
	return ""
}

// importSep matches the separator runs collapsed when deriving an import
// name from a distribution name.
var importSep = regexp.MustCompile(`[-_.]+`)

// ImportName derives the importable module name from a distribution name:
// lowercase with runs of dash, dot and underscore collapsed to a single
// underscore. "My-Demo.Pkg" imports as "my_demo_pkg".
func ImportName(dist string) string {
	return strings.ToLower(importSep.ReplaceAllString(dist, "_"))
}

// Describe renders the identity for status output.
func (d Distribution) Describe() string {
	return fmt.Sprintf("%s %s", d.Name, d.Version)
}
