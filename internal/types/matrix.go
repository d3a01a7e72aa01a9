package types

import "fmt"

// OverrideMode declares how an offered version should be injected when
// testing a dependent.
type OverrideMode uint8

const (
	// OverrideNone lets the package manager resolve naturally.
	OverrideNone OverrideMode = iota
	// OverridePatch adds a [patch.<registry>] section.
	OverridePatch
	// OverrideForce overwrites the direct dependency row with an exact pin.
	OverrideForce
)

func (m OverrideMode) String() string {
	switch m {
	case OverridePatch:
		return "patch"
	case OverrideForce:
		return "force"
	default:
		return "none"
	}
}

// VersionSpec is one offered (or baseline) entry in a TestMatrix's
// base_versions list.
type VersionSpec struct {
	CrateRef     VersionedCrate
	OverrideMode OverrideMode
	IsBaseline   bool
}

// Validate enforces invariants B1/B2 at the level of a single spec: a
// baseline entry must use OverrideNone. Uniqueness of the baseline across
// a list is checked by ValidateBaseVersions.
func (s VersionSpec) Validate() error {
	if s.IsBaseline && s.OverrideMode != OverrideNone {
		return fmt.Errorf("types: baseline VersionSpec %s must have OverrideMode None, got %s", s.CrateRef, s.OverrideMode)
	}
	return nil
}

// ValidateBaseVersions enforces invariant B1: exactly one baseline entry,
// and it must have OverrideMode None (B2).
func ValidateBaseVersions(specs []VersionSpec) error {
	baselineCount := 0
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.IsBaseline {
			baselineCount++
		}
	}
	if baselineCount != 1 {
		return fmt.Errorf("types: expected exactly one baseline VersionSpec, found %d", baselineCount)
	}
	return nil
}

// TestMatrix is the immutable output of the config resolver: a complete,
// validated test specification. It is constructed once and never mutated.
type TestMatrix struct {
	BaseCrateName string
	BaseVersions  []VersionSpec
	Dependents    []VersionSpec
	StagingDir    string
	SkipCheck     bool
	SkipTest      bool
	ErrorLines    int
	Features      []string
}

// Validate checks the structural invariants a TestMatrix must hold before
// it is handed to the runner.
func (m *TestMatrix) Validate() error {
	if m.BaseCrateName == "" {
		return fmt.Errorf("types: TestMatrix missing base crate name")
	}
	if err := ValidateBaseVersions(m.BaseVersions); err != nil {
		return err
	}
	if len(m.Dependents) == 0 {
		return fmt.Errorf("types: TestMatrix has no dependents")
	}
	if m.StagingDir == "" {
		return fmt.Errorf("types: TestMatrix missing staging directory")
	}
	return nil
}

// BaselineSpec returns the unique baseline entry in BaseVersions (B1).
func (m *TestMatrix) BaselineSpec() (VersionSpec, error) {
	for _, s := range m.BaseVersions {
		if s.IsBaseline {
			return s, nil
		}
	}
	return VersionSpec{}, fmt.Errorf("types: TestMatrix has no baseline VersionSpec")
}

// OfferedSpecs returns every non-baseline entry in BaseVersions, in
// declared order.
func (m *TestMatrix) OfferedSpecs() []VersionSpec {
	out := make([]VersionSpec, 0, len(m.BaseVersions))
	for _, s := range m.BaseVersions {
		if !s.IsBaseline {
			out = append(out, s)
		}
	}
	return out
}
