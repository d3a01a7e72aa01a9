// Package stage implements the staging-directory layout and disk cache of
// unpacked crate sources described in spec.md §6.2.
package stage

import (
	"fmt"
	"path/filepath"
)

// DependentDir returns the per-cell working directory a dependent's source
// is unpacked into: "<staging>/<name>-<version>/".
func DependentDir(stagingDir, name, version string) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%s-%s", name, version))
}

// BaseOverrideDir returns the directory a registry-sourced base crate
// version is unpacked into, used as the path target of a Patch/Force
// override: "<staging>/<base_name>-<base_version>/".
func BaseOverrideDir(stagingDir, name, version string) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%s-%s", name, version))
}
