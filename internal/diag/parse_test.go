package diag

import "testing"

func TestParseSkipsNonCompilerMessages(t *testing.T) {
	output := `{"reason":"build-script-executed"}
{"reason":"compiler-message","message":{"message":"unused variable","level":"warning","spans":[{"file_name":"src/lib.rs","line_start":3,"column_start":5,"is_primary":true}]}}
not json at all
`
	got := Parse(output)
	if len(got) != 1 {
		t.Fatalf("Parse returned %d diagnostics, want 1: %+v", len(got), got)
	}
	d := got[0]
	if d.Level != "warning" || d.File != "src/lib.rs" || d.Line != 3 {
		t.Errorf("unexpected diagnostic: %+v", d)
	}
}

func TestParseEmpty(t *testing.T) {
	if got := Parse(""); len(got) != 0 {
		t.Errorf("Parse(\"\") = %v, want empty", got)
	}
}
