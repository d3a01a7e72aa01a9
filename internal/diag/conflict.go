package diag

import (
	"regexp"
	"strings"
)

// multiVersionPatterns are the two substrings the original tool's
// detect_multi_version_conflict looks for in fetch-step stderr/stdout
// (original_source/src/error_extract.rs, original_source/src/compile/retry.rs).
var multiVersionPatterns = []string{
	"multiple different versions of crate",
	"two different versions of crate",
}

// HasMultiVersionConflict reports whether output contains cargo's
// "multiple/two different versions of crate" diagnostic substring — the
// trigger for the state machine's Force -> Patch escalation (spec.md §4.2).
func HasMultiVersionConflict(output string) bool {
	for _, pattern := range multiVersionPatterns {
		if strings.Contains(output, pattern) {
			return true
		}
	}
	return false
}

// blockingCratePattern extracts crate names mentioned as pulling in a
// conflicting version, e.g. the "ravif v0.11.0" in cargo's rendered
// explanation of a multi-version conflict.
var blockingCratePattern = regexp.MustCompile("`([a-zA-Z0-9_-]+) v[0-9][^`]*`")

// ExtractBlockingCrates returns the names of transitive crates cargo's
// diagnostic blames for pinning a conflicting version of baseCrate, used
// to build the DeepPatch advisory (spec.md's supplemented
// format_blocking_crates_advice feature).
func ExtractBlockingCrates(output, baseCrate string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range blockingCratePattern.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name == baseCrate {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// FormatBlockingAdvice renders the human-readable advisory shown for a
// DeepPatch terminus (original_source/src/compile/retry.rs::format_blocking_crates_advice).
func FormatBlockingAdvice(blockingCrates []string, baseCrate string) string {
	if len(blockingCrates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("these crates are pulling in a different version of ")
	b.WriteString(baseCrate)
	b.WriteString(":\n")
	for _, c := range blockingCrates {
		b.WriteString("  - ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("to test despite this, they may need to be patched to a compatible version of ")
	b.WriteString(baseCrate)
	b.WriteString(".\n")
	return b.String()
}
