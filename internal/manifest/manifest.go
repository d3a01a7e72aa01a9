// Package manifest implements the Manifest Patcher (spec.md §4.3): reading
// a dependent's Cargo.toml, and atomically mutating and restoring it
// around a single build-driver cell.
//
// Structured reads (crate name, version) go through BurntSushi/toml.
// Patches are applied as targeted text edits rather than a full
// decode-reencode round trip: spec.md §4.3 requires unrelated rows and
// comments to survive a patch byte-for-byte, which a generic TOML encoder
// cannot promise (it does not preserve comments or formatting).
package manifest

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// packageTable is the slice of Cargo.toml this package reads structurally.
type packageTable struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
}

// CrateInfo reads the package name and version from a Cargo.toml file.
func CrateInfo(path string) (name, version string, err error) {
	var table packageTable
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return "", "", fmt.Errorf("manifest: failed to parse %s: %w", path, err)
	}
	if table.Package.Name == "" {
		return "", "", fmt.Errorf("manifest: %s has no [package].name", path)
	}
	return table.Package.Name, table.Package.Version, nil
}

// Exists reports whether path names a readable file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
