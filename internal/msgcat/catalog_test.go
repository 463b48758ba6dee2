package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaultsRender(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("vote.rejected.invalid_move", map[string]any{"User": "alice", "Move": "Nc4"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "@alice") || !strings.Contains(got, "Nc4") {
		t.Fatalf("unexpected text: %q", got)
	}
	if _, err := c.Render("vote.rejected.invalid_move", map[string]any{"User": "alice"}); err == nil {
		t.Fatalf("missing template field should fail")
	}
	if got := c.RenderOr("nope.missing", nil, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("help: \"custom help\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, _ := c.Render("help", nil); got != "custom help" {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("vote.rejected.no_game") {
		t.Fatalf("defaults should survive overrides")
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("help: \"again\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys should fail")
	}
}
