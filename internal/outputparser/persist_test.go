package outputparser

import (
	"path/filepath"
	"testing"
)

func TestPersistStructuredOutput_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	output := "<!-- CSA:SECTION:plan -->\nstep one\nstep two\n<!-- CSA:SECTION:plan:END -->\ntrailer"
	sections := ParseSections(output)

	idx, err := PersistStructuredOutput(dir, output, sections)
	if err != nil {
		t.Fatalf("PersistStructuredOutput: %v", err)
	}
	if idx.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", idx.TotalLines)
	}

	loaded, err := LoadOutputIndex(dir)
	if err != nil {
		t.Fatalf("LoadOutputIndex: %v", err)
	}
	if len(loaded.Sections) != 1 || loaded.Sections[0].ID != "plan" {
		t.Fatalf("loaded sections = %+v", loaded.Sections)
	}

	content, err := ReadSection(dir, loaded, "plan")
	if err != nil {
		t.Fatalf("ReadSection: %v", err)
	}
	if content != "step one\nstep two" {
		t.Errorf("content = %q, want %q", content, "step one\nstep two")
	}
}

func TestPersistStructuredOutput_ReadAllSections(t *testing.T) {
	dir := t.TempDir()
	output := "<!-- CSA:SECTION:a -->\nA\n<!-- CSA:SECTION:a:END -->\n" +
		"<!-- CSA:SECTION:b -->\nB\n<!-- CSA:SECTION:b:END -->"
	sections := ParseSections(output)
	idx, err := PersistStructuredOutput(dir, output, sections)
	if err != nil {
		t.Fatalf("PersistStructuredOutput: %v", err)
	}

	all, err := ReadAllSections(dir, idx)
	if err != nil {
		t.Fatalf("ReadAllSections: %v", err)
	}
	if all["a"] != "A" || all["b"] != "B" {
		t.Errorf("all = %+v", all)
	}
}

func TestReadSection_MissingID(t *testing.T) {
	dir := t.TempDir()
	idx, err := PersistStructuredOutput(dir, "just text", ParseSections("just text"))
	if err != nil {
		t.Fatalf("PersistStructuredOutput: %v", err)
	}
	if _, err := ReadSection(dir, idx, "nonexistent"); err == nil {
		t.Error("want error for missing section id, got nil")
	}
}

func TestPersistStructuredOutput_IndexFileWritten(t *testing.T) {
	dir := t.TempDir()
	if _, err := PersistStructuredOutput(dir, "x", ParseSections("x")); err != nil {
		t.Fatalf("PersistStructuredOutput: %v", err)
	}
	if _, err := LoadOutputIndex(dir); err != nil {
		t.Errorf("expected index.toml at %s: %v", filepath.Join(dir, indexFileName), err)
	}
}
