package pyproject

// Schema is the subset of the pyproject.toml specification the publish
// pipeline reads. See
// https://packaging.python.org/en/latest/specifications/pyproject-toml/
type Schema struct {
	Project     *Project               `toml:"project"`
	BuildSystem *BuildSystem           `toml:"build-system"`
	Tool        map[string]interface{} `toml:"tool"`
}

// Project is the [project] table. Name and Version are pointers so an absent
// field is distinguishable from an empty string; both can legitimately be
// absent when listed in Dynamic.
type Project struct {
	Name           *string     `toml:"name"`
	Version        *string     `toml:"version"`
	Description    *string     `toml:"description"`
	RequiresPython *string     `toml:"requires-python"`
	Dependencies   []string    `toml:"dependencies"`
	Dynamic        []string    `toml:"dynamic"`
	Scripts        Entrypoints `toml:"scripts"`
}

// BuildSystem is the [build-system] table. The pipeline never interprets it;
// it is surfaced only in debug logs so an operator can see which backend
// python -m build will hand off to.
type BuildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
}

// Entrypoints maps console script names to module:function references.
type Entrypoints map[string]string
