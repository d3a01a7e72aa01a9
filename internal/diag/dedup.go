package diag

import "copter/internal/types"

// Dedup tracks diagnostic signatures already seen across the matrix run so
// the diagnostic log (spec.md §6.2) can tag repeats instead of repeating
// them verbatim.
type Dedup struct {
	seen map[string]int // signature -> occurrences so far
}

// NewDedup returns an empty Dedup tracker.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]int)}
}

// Tag records one occurrence of d and reports whether this is the first
// time its signature has been seen. Subsequent calls with the same
// signature return false along with the running occurrence count.
func (dd *Dedup) Tag(d types.Diagnostic) (first bool, occurrence int) {
	sig := Signature(d)
	dd.seen[sig]++
	return dd.seen[sig] == 1, dd.seen[sig]
}
