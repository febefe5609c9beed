package outputparser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const indexFileName = "index.toml"

// PersistStructuredOutput writes each parsed section's content to its
// FilePath under outputDir and the accompanying index.toml describing the
// set (spec §4.4). A "full" fallback section still gets the same
// treatment, so callers never special-case the no-markers path.
func PersistStructuredOutput(outputDir string, rawOutput string, sections []OutputSection) (*OutputIndex, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	lines := splitLines(rawOutput)
	totalTokens := 0
	for _, sec := range sections {
		content := sectionContent(lines, sec)
		if err := atomicWriteFile(filepath.Join(outputDir, sec.FilePath), []byte(content)); err != nil {
			return nil, fmt.Errorf("write section %s: %w", sec.ID, err)
		}
		totalTokens += sec.TokenEstimate
	}

	idx := &OutputIndex{
		Sections:    sections,
		TotalTokens: totalTokens,
		TotalLines:  len(lines),
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(idx); err != nil {
		return nil, fmt.Errorf("encode output index: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(outputDir, indexFileName), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write output index: %w", err)
	}
	return idx, nil
}

// sectionContent re-slices the 1-indexed, inclusive LineStart/LineEnd
// range back out of the original output. An empty section (LineEnd <
// LineStart) yields "".
func sectionContent(lines []string, sec OutputSection) string {
	if sec.LineEnd < sec.LineStart {
		return ""
	}
	start := sec.LineStart - 1
	end := sec.LineEnd - 1
	if start < 0 || start >= len(lines) {
		return ""
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return extractContent(lines, start, end)
}

// LoadOutputIndex reads a previously persisted index.toml.
func LoadOutputIndex(outputDir string) (*OutputIndex, error) {
	path := filepath.Join(outputDir, indexFileName)
	var idx OutputIndex
	if _, err := toml.DecodeFile(path, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &idx, nil
}

// ReadSection loads a single section's persisted content by ID.
func ReadSection(outputDir string, idx *OutputIndex, id string) (string, error) {
	for _, sec := range idx.Sections {
		if sec.ID == id {
			data, err := os.ReadFile(filepath.Join(outputDir, sec.FilePath))
			if err != nil {
				return "", fmt.Errorf("read section %s: %w", id, err)
			}
			return string(data), nil
		}
	}
	return "", fmt.Errorf("section %q not found", id)
}

// ReadAllSections loads every section's persisted content, in index order.
func ReadAllSections(outputDir string, idx *OutputIndex) (map[string]string, error) {
	out := make(map[string]string, len(idx.Sections))
	for _, sec := range idx.Sections {
		data, err := os.ReadFile(filepath.Join(outputDir, sec.FilePath))
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", sec.ID, err)
		}
		out[sec.ID] = string(data)
	}
	return out, nil
}

// atomicWriteFile writes data to a temp file in dir then renames it into
// place, matching the session store's persistence discipline so partial
// writes are never observed by a concurrent reader.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
