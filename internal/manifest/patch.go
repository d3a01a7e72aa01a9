package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// dependencyTables are the manifest sections apply_force rewrites a row
// in, per spec.md §4.3: "[dependencies] (and [dev-dependencies],
// [build-dependencies])".
var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

// PinSpec describes what a Force or Patch override should pin a crate to.
type PinSpec struct {
	// Exact is the exact semver pin, e.g. "0.8.91" (written as `="0.8.91"`).
	// Empty when Path is set.
	Exact string
	// Path is a local filesystem override, e.g. a staged copy of the base
	// crate. Empty when Exact is set.
	Path string
}

func (p PinSpec) tomlInlineValue() string {
	if p.Path != "" {
		return fmt.Sprintf("{ path = %q }", filepathToSlash(p.Path))
	}
	return fmt.Sprintf("%q", "="+p.Exact)
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// ApplyForce rewrites the dependency row for crateName in every present
// dependency table to an exact pin, preserving every other row, table, and
// comment byte-for-byte (spec.md §4.3).
func ApplyForce(manifestPath, crateName string, pin PinSpec) error {
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("manifest: failed to read %s: %w", manifestPath, err)
	}
	rewritten := rewriteDependencyRows(string(content), crateName, pin)
	if err := os.WriteFile(manifestPath, []byte(rewritten), 0o600); err != nil {
		return fmt.Errorf("manifest: failed to write %s: %w", manifestPath, err)
	}
	return nil
}

// rewriteDependencyRows walks the TOML text table-by-table, replacing any
// row of the form `crateName = ...` inside a dependency table with a pin
// to the given spec, leaving rows for other crates and every non-dependency
// table untouched.
func rewriteDependencyRows(content, crateName string, pin PinSpec) string {
	lines := strings.Split(content, "\n")
	currentTable := ""
	rowPattern := regexp.MustCompile(`^\s*` + regexp.QuoteMeta(crateName) + `\s*=`)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			currentTable = strings.Trim(trimmed, "[]")
			continue
		}
		if !isDependencyTable(currentTable) {
			continue
		}
		if rowPattern.MatchString(line) {
			lines[i] = fmt.Sprintf("%s = %s", crateName, pin.tomlInlineValue())
		}
	}
	return strings.Join(lines, "\n")
}

func isDependencyTable(table string) bool {
	for _, t := range dependencyTables {
		if table == t {
			return true
		}
	}
	return false
}

// patchSectionHeader returns the `[patch.<registry>]` header text for the
// given registry name (typically "crates-io").
func patchSectionHeader(registry string) string {
	return fmt.Sprintf("[patch.%s]", registry)
}

// ApplyPatch appends or merges a [patch.<registry>] table entry for
// crateName (spec.md §4.3). Idempotent: calling twice with the same
// arguments leaves the manifest bytes unchanged on the second call.
func ApplyPatch(manifestPath, registry, crateName string, pin PinSpec) error {
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("manifest: failed to read %s: %w", manifestPath, err)
	}
	rewritten, err := mergePatchEntry(string(content), registry, crateName, pin)
	if err != nil {
		return err
	}
	if rewritten == string(content) {
		return nil
	}
	if err := os.WriteFile(manifestPath, []byte(rewritten), 0o600); err != nil {
		return fmt.Errorf("manifest: failed to write %s: %w", manifestPath, err)
	}
	return nil
}

func mergePatchEntry(content, registry, crateName string, pin PinSpec) (string, error) {
	header := patchSectionHeader(registry)
	entryPattern := regexp.MustCompile(`^\s*` + regexp.QuoteMeta(crateName) + `\s*=`)
	entryLine := fmt.Sprintf("%s = %s", crateName, pin.tomlInlineValue())

	headerIdx := strings.Index(content, header)
	if headerIdx == -1 {
		// No existing section: append a new one.
		var b strings.Builder
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(entryLine)
		b.WriteString("\n")
		return b.String(), nil
	}

	// Section exists: scan its rows (until the next "[" header or EOF) for
	// an existing entry for crateName.
	rest := content[headerIdx+len(header):]
	lines := strings.Split(rest, "\n")
	sectionEnd := len(lines)
	for i, line := range lines {
		if i == 0 {
			continue // trailing text on the header line itself, ignore
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			sectionEnd = i
			break
		}
		if entryPattern.MatchString(line) {
			// Idempotent: identical entry already present, no-op.
			if strings.TrimSpace(line) == entryLine {
				return content, nil
			}
			lines[i] = entryLine
			return content[:headerIdx+len(header)] + strings.Join(lines, "\n"), nil
		}
	}
	// No existing row for this crate within the section: insert one right
	// after the header.
	newLines := make([]string, 0, len(lines)+1)
	newLines = append(newLines, lines[0])
	newLines = append(newLines, entryLine)
	newLines = append(newLines, lines[1:sectionEnd]...)
	newLines = append(newLines, lines[sectionEnd:]...)
	return content[:headerIdx+len(header)] + strings.Join(newLines, "\n"), nil
}

// HasPatchSection reports whether manifestPath already contains a
// [patch.<registry>] section.
func HasPatchSection(manifestPath, registry string) (bool, error) {
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return false, fmt.Errorf("manifest: failed to read %s: %w", manifestPath, err)
	}
	return strings.Contains(string(content), patchSectionHeader(registry)), nil
}
