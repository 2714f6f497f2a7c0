// Package pyproject reads a project's pyproject.toml and resolves the
// distribution identity (name, version, import name, console entry point)
// that the publish pipeline uploads and then verifies. The same resolved
// identity is used for both steps so verification can never drift from what
// was uploaded.
package pyproject

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"pyship/internal/logging"
)

// FileName is the configuration file this tool requires at the project root.
const FileName = "pyproject.toml"

// File is a loaded pyproject.toml. Doc is nil when the structured parse
// failed; Raw always holds the file text so textual fallbacks still work.
type File struct {
	Path string
	Raw  []byte

	Doc      *Schema
	ParseErr error
}

// Load reads <dir>/pyproject.toml. A missing file is an error (the caller
// treats it as a failed precondition); a file that fails to parse as TOML is
// not, because the textual version fallback must still get a chance to run.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	f := &File{Path: path, Raw: raw}
	var doc Schema
	if err := toml.Unmarshal(raw, &doc); err != nil {
		f.ParseErr = err
		logging.ResolveDebug("structured parse of %s failed, textual fallbacks only: %v", path, err)
		return f, nil
	}
	f.Doc = &doc

	if doc.BuildSystem != nil && doc.BuildSystem.BuildBackend != "" {
		logging.ResolveDebug("build backend: %s", doc.BuildSystem.BuildBackend)
	}
	return f, nil
}

// project returns the [project] table, or nil.
func (f *File) project() *Project {
	if f.Doc == nil {
		return nil
	}
	return f.Doc.Project
}
