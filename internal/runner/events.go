package runner

import "copter/internal/types"

// Stage names which of the three ICT steps a cell last touched, for
// progress reporting.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageCheck Stage = "check"
	StageTest  Stage = "test"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for one matrix cell, identified by a
// "dependent@version (base version)" label.
type Event struct {
	Cell   string
	Stage  Stage
	Status Status
}

// ProgressSink consumes progress events as a matrix run streams them.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// cellLabel renders the "dependent@version (base version)" tag used by
// progress events.
func cellLabel(dependent types.VersionedCrate, baseVersion types.Version) string {
	return dependent.Name + "@" + dependent.Version.String() + " (" + baseVersion.String() + ")"
}

// stageFor reports which step a ThreeStepResult last reached, for a
// terminal progress event.
func stageFor(result types.ThreeStepResult) Stage {
	if result.Test != nil {
		return StageTest
	}
	if result.Check != nil {
		return StageCheck
	}
	return StageFetch
}

func statusFor(result types.ThreeStepResult, skipCheck, skipTest bool) Status {
	if result.IsSuccess(skipCheck, skipTest) {
		return StatusDone
	}
	return StatusError
}
