package types

// PatchDepth describes the strategy actually applied at the end of a
// build attempt, in increasing order of intervention:
//
//	None     baseline; natural resolution.
//	Force    the dependency spec in the manifest was replaced with an
//	         exact pin ("=X.Y.Z" or a path override).
//	Patch    a [patch.<registry>] section was added — either requested
//	         directly, or reached by auto-escalation after Force hit a
//	         multi-version conflict.
//	DeepPatch Patch was applied and the conflict persisted; terminal,
//	         advisory-only.
type PatchDepth uint8

const (
	DepthNone PatchDepth = iota
	DepthForce
	DepthPatch
	DepthDeepPatch
)

// Marker returns a short marker used in compact output: "", "!", "!!", "!!!".
func (d PatchDepth) Marker() string {
	switch d {
	case DepthForce:
		return "!"
	case DepthPatch:
		return "!!"
	case DepthDeepPatch:
		return "!!!"
	default:
		return ""
	}
}

func (d PatchDepth) String() string {
	switch d {
	case DepthForce:
		return "force"
	case DepthPatch:
		return "patch"
	case DepthDeepPatch:
		return "deep-patch"
	default:
		return "none"
	}
}

// IsPatched reports whether any form of patching was applied.
func (d PatchDepth) IsPatched() bool { return d != DepthNone }
