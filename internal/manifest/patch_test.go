package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	original := "[package]\nname = \"test\"\n"
	path := writeTemp(t, dir, "Cargo.toml", original)

	g, err := Begin(path, nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := os.WriteFile(path, []byte("[package]\nname = \"modified\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := g.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != original {
		t.Errorf("restored content = %q, want %q", got, original)
	}
	if Exists(path + backupSuffix) {
		t.Errorf("backup file should be removed after restore")
	}
}

func TestApplyPatchAddsSection(t *testing.T) {
	dir := t.TempDir()
	original := "[dependencies]\nrgb = \"0.8\"\n"
	path := writeTemp(t, dir, "Cargo.toml", original)

	if err := ApplyPatch(path, "crates-io", "rgb", PinSpec{Path: "/path/to/rgb"}); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(got)
	if !containsAll(content, "[patch.crates-io]", `rgb = { path = "/path/to/rgb" }`) {
		t.Errorf("patched content missing expected fragments: %s", content)
	}
}

func TestApplyPatchPreservesExistingContent(t *testing.T) {
	dir := t.TempDir()
	original := "[package]\nname = \"myapp\"\nversion = \"1.0.0\"\n\n[dependencies]\nrgb = \"0.8\"\nserde = \"1.0\"\n"
	path := writeTemp(t, dir, "Cargo.toml", original)

	if err := ApplyPatch(path, "crates-io", "rgb", PinSpec{Path: "/path/to/rgb"}); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(got)
	for _, frag := range []string{"[package]", `name = "myapp"`, "[dependencies]", `serde = "1.0"`, "[patch.crates-io]"} {
		if !containsAll(content, frag) {
			t.Errorf("expected content to contain %q, got: %s", frag, content)
		}
	}
}

// TestApplyPatchIdempotent is law L1: applying apply_patch twice with
// identical arguments produces the same manifest bytes as applying it once.
func TestApplyPatchIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "Cargo.toml", "[dependencies]\nrgb = \"0.8\"\n")

	if err := ApplyPatch(path, "crates-io", "rgb", PinSpec{Path: "/x"}); err != nil {
		t.Fatal(err)
	}
	once, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyPatch(path, "crates-io", "rgb", PinSpec{Path: "/x"}); err != nil {
		t.Fatal(err)
	}
	twice, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(once) != string(twice) {
		t.Errorf("ApplyPatch is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestApplyForceReplacesRowOnly(t *testing.T) {
	dir := t.TempDir()
	original := "[dependencies]\n# keep me\nrgb = \"0.8\"\nserde = \"1.0\"\n"
	path := writeTemp(t, dir, "Cargo.toml", original)

	if err := ApplyForce(path, "rgb", PinSpec{Exact: "0.9.0"}); err != nil {
		t.Fatalf("ApplyForce: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(got)
	if !containsAll(content, `rgb = "=0.9.0"`, "# keep me", `serde = "1.0"`) {
		t.Errorf("ApplyForce did not preserve surrounding content: %s", content)
	}
}

// TestGuardClose is the Go analog of the original's BackupGuard drop test:
// Close (the last-resort cleanup path) restores even without an explicit
// Restore call.
func TestGuardClose(t *testing.T) {
	dir := t.TempDir()
	original := "[package]\nname = \"test\"\n"
	path := writeTemp(t, dir, "Cargo.toml", original)

	func() {
		g, err := Begin(path, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer g.Close()
		if err := os.WriteFile(path, []byte("[package]\nname = \"modified\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != original {
		t.Errorf("content after Close = %q, want %q", got, original)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
