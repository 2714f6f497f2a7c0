// Package index describes the package indexes a release can target.
// Exactly two are built in, PyPI and TestPyPI; custom indexes are reached
// by overriding the URLs in .pyship.yaml.
package index

import (
	"fmt"
	"net/url"
)

// Built-in endpoint URLs. Uploads go to the legacy API endpoints, installs
// resolve through the simple API.
const (
	PyPIUploadURL     = "https://upload.pypi.org/legacy/"
	PyPISimpleURL     = "https://pypi.org/simple/"
	TestPyPIUploadURL = "https://test.pypi.org/legacy/"
	TestPyPISimpleURL = "https://test.pypi.org/simple/"
)

// Target is a resolved upload destination plus the install endpoints used to
// verify the published artifact.
type Target struct {
	// Name is the human label shown in status lines: "PyPI" or "TestPyPI",
	// or "custom" when both URLs were overridden.
	Name string

	// UploadURL is the twine upload endpoint.
	UploadURL string

	// SimpleURL is the pip index used to install the published package back.
	SimpleURL string

	// ExtraSimpleURL, when non-empty, is passed to pip as a fallback index
	// for dependencies. TestPyPI rarely hosts a package's dependency
	// closure, so installs from it fall back to the real PyPI.
	ExtraSimpleURL string

	// Production marks a target whose uploads are permanent. The CLI
	// requires the production flag to be explicit, never a default.
	Production bool
}

// PyPI returns the production index target.
func PyPI() Target {
	return Target{
		Name:       "PyPI",
		UploadURL:  PyPIUploadURL,
		SimpleURL:  PyPISimpleURL,
		Production: true,
	}
}

// TestPyPI returns the staging index target.
func TestPyPI() Target {
	return Target{
		Name:           "TestPyPI",
		UploadURL:      TestPyPIUploadURL,
		SimpleURL:      TestPyPISimpleURL,
		ExtraSimpleURL: PyPISimpleURL,
	}
}

// WithOverrides returns a copy of t with non-empty override URLs applied.
// Overriding either URL relabels the target as custom so status lines never
// claim "PyPI" while uploading somewhere else.
func (t Target) WithOverrides(uploadURL, simpleURL string) (Target, error) {
	out := t
	changed := false
	if uploadURL != "" {
		if err := validateURL(uploadURL); err != nil {
			return Target{}, fmt.Errorf("index.upload_url: %w", err)
		}
		out.UploadURL = uploadURL
		changed = true
	}
	if simpleURL != "" {
		if err := validateURL(simpleURL); err != nil {
			return Target{}, fmt.Errorf("index.simple_url: %w", err)
		}
		out.SimpleURL = simpleURL
		changed = true
	}
	if changed {
		out.Name = "custom"
	}
	return out, nil
}

// InstallArgs returns the pip arguments that point an install at this
// target's simple API.
func (t Target) InstallArgs() []string {
	args := []string{"--index-url", t.SimpleURL}
	if t.ExtraSimpleURL != "" {
		args = append(args, "--extra-index-url", t.ExtraSimpleURL)
	}
	return args
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q: %v", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
