package diag

import (
	"fmt"
	"regexp"

	"fortio.org/safecast"

	"copter/internal/types"
)

// Bag collects diagnostics up to a capacity (spec.md §6.3's error_lines
// budget), truncating rather than growing unbounded.
type Bag struct {
	items []types.Diagnostic
	max   uint
}

// NewBag returns a Bag capped at maxLines diagnostics. maxLines is an int
// because that's how it arrives off the CLI flag; safecast rejects a
// negative value before it reaches the capacity field.
func NewBag(maxLines int) (*Bag, error) {
	max, err := safecast.Conv[uint](maxLines)
	if err != nil {
		return nil, fmt.Errorf("diag: invalid error_lines budget %d: %w", maxLines, err)
	}
	return &Bag{max: max}, nil
}

// Add appends d if the bag has not reached capacity. Returns false if the
// diagnostic was dropped for being over budget.
func (b *Bag) Add(d types.Diagnostic) bool {
	if uint(len(b.items)) >= b.max {
		return false
	}
	b.items = append(b.items, d)
	return true
}

// AddAll adds as many diagnostics as fit under the budget, in order.
func (b *Bag) AddAll(ds []types.Diagnostic) {
	for _, d := range ds {
		if !b.Add(d) {
			return
		}
	}
}

// Items returns the diagnostics collected so far. Callers must not mutate
// the returned slice.
func (b *Bag) Items() []types.Diagnostic { return b.items }

// Truncated reports whether any diagnostic was dropped for being over the
// error_lines budget.
func (b *Bag) Truncated(total int) bool { return total > len(b.items) }

// hexSuffixPattern matches hex suffixes of 6+ characters in path fragments,
// e.g. the "-a1b2c3d4e5f6" in a staging directory name, which spec.md §6.2
// says must be normalized away before comparing diagnostic signatures.
var hexSuffixPattern = regexp.MustCompile(`-[0-9a-f]{6,}`)

// Signature computes the duplicate-detection signature for a diagnostic:
// its level, code, and message with hex path suffixes normalized away, so
// that the same underlying error reported against two differently-hashed
// staging paths is recognized as the same failure (spec.md §6.2).
func Signature(d types.Diagnostic) string {
	normalized := hexSuffixPattern.ReplaceAllString(d.Message, "")
	return d.Level + "|" + d.Code + "|" + normalized
}
