// Package diag parses cargo's `--message-format=json` diagnostic stream
// (original_source/src/error_extract.rs) into types.Diagnostic values, and
// implements the error-line budget and duplicate-signature tagging of
// spec.md §6.2 and §6.3.
package diag

import (
	"encoding/json"
	"strings"

	"copter/internal/types"
)

// cargoMessage mirrors one line of `cargo ... --message-format=json`
// output (original_source/src/error_extract.rs's CargoMessage).
type cargoMessage struct {
	Reason  string           `json:"reason"`
	Message *compilerMessage `json:"message"`
}

type compilerMessage struct {
	Message  string            `json:"message"`
	Level    string            `json:"level"`
	Code     *errorCode        `json:"code"`
	Spans    []span            `json:"spans"`
	Children []compilerMessage `json:"children"`
	Rendered string            `json:"rendered"`
}

type errorCode struct {
	Code string `json:"code"`
}

type span struct {
	FileName    string `json:"file_name"`
	LineStart   int    `json:"line_start"`
	ColumnStart int    `json:"column_start"`
	IsPrimary   bool   `json:"is_primary"`
}

// Parse extracts structured diagnostics from a cargo JSON message stream.
// Non-"compiler-message" lines (build-script-executed, etc.) and malformed
// lines are skipped, matching parse_cargo_json's behavior.
func Parse(output string) []types.Diagnostic {
	var out []types.Diagnostic
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-message" || msg.Message == nil {
			continue
		}
		if d, ok := convert(*msg.Message); ok {
			out = append(out, d)
		}
	}
	return out
}

func convert(m compilerMessage) (types.Diagnostic, bool) {
	d := types.Diagnostic{
		Level:    m.Level,
		Message:  m.Message,
		Rendered: m.Rendered,
	}
	if m.Code != nil {
		d.Code = m.Code.Code
	}
	for _, s := range m.Spans {
		if s.IsPrimary {
			d.File = s.FileName
			d.Line = s.LineStart
			d.Column = s.ColumnStart
			break
		}
	}
	return d, true
}
