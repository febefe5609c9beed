// Package outputparser scans a tool run's combined output for CSA section
// markers, persists the structured index, and decodes fork-call return
// packets (spec §4.4).
package outputparser

import (
	"fmt"
	"strings"
)

// OutputSection describes one delimited (or synthetic "full") region of a
// run's output.
type OutputSection struct {
	ID            string `toml:"id"`
	Title         string `toml:"title"`
	LineStart     int    `toml:"line_start"`
	LineEnd       int    `toml:"line_end"`
	TokenEstimate int    `toml:"token_estimate"`
	FilePath      string `toml:"file_path,omitempty"`
}

// OutputIndex is the persisted output/index.toml contents.
type OutputIndex struct {
	Sections    []OutputSection `toml:"sections"`
	TotalTokens int             `toml:"total_tokens"`
	TotalLines  int             `toml:"total_lines"`
}

const (
	markerPrefix    = "<!-- CSA:SECTION:"
	markerEndSuffix = ":END -->"
	markerSuffix    = " -->"
)

// marker is one delimiter line detected during scanning.
type marker struct {
	isEnd bool
	id    string
	line  int // 0-indexed
}

func scanMarkers(lines []string) []marker {
	var markers []marker
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, markerPrefix)
		if !ok {
			continue
		}
		if id, ok := strings.CutSuffix(rest, markerEndSuffix); ok {
			id = strings.TrimSpace(id)
			if id != "" {
				markers = append(markers, marker{isEnd: true, id: id, line: i})
			}
			continue
		}
		if id, ok := strings.CutSuffix(rest, markerSuffix); ok {
			id = strings.TrimSpace(id)
			if id != "" {
				markers = append(markers, marker{isEnd: false, id: id, line: i})
			}
		}
	}
	return markers
}

// EstimateTokens approximates token count via a word-count * 4/3 heuristic
// (spec §4.4 "advisory" token estimate).
func EstimateTokens(content string) int {
	return len(strings.Fields(content)) * 4 / 3
}

// ParseSections scans output for CSA:SECTION markers and returns the
// structured sections. With no markers present it returns a single "full"
// section; the same fallback applies if every marker present turns out to
// be an orphaned/mismatched END with nothing ever opened.
func ParseSections(output string) []OutputSection {
	lines := splitLines(output)
	totalLines := len(lines)
	if totalLines == 0 {
		return nil
	}

	markers := scanMarkers(lines)
	if len(markers) == 0 {
		return []OutputSection{fullSection(output, totalLines)}
	}

	var sections []OutputSection
	var openID string
	var openLine int
	open := false

	closeOpen := func(endLine int) {
		contentStart := openLine + 1
		contentEnd := endLine - 1
		content := extractContent(lines, contentStart, contentEnd)
		sections = append(sections, buildSection(openID, contentStart, contentEnd, content))
		open = false
	}

	for _, m := range markers {
		if !m.isEnd {
			if open {
				closeOpen(m.line)
			}
			openID, openLine, open = m.id, m.line, true
			continue
		}
		// End marker: only closes a currently open section with a matching id.
		if open && openID == m.id {
			closeOpen(m.line)
		}
		// Orphan or mismatched END marker: silently ignored.
	}

	if open {
		closeOpen(totalLines)
	}

	if len(sections) == 0 {
		return []OutputSection{fullSection(output, totalLines)}
	}

	// Markers are visited in file order, so sections are already in
	// ascending line order.
	deduplicateFilePaths(sections)
	return sections
}

// splitLines mirrors Rust's str::lines(): splits on '\n', trimming any
// trailing '\r', and drops a single trailing empty element caused by a
// final newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

func fullSection(output string, totalLines int) OutputSection {
	return OutputSection{
		ID:            "full",
		Title:         "Full Output",
		LineStart:     1,
		LineEnd:       totalLines,
		TokenEstimate: EstimateTokens(output),
		FilePath:      "full.md",
	}
}

// extractContent joins lines[start..=end] (0-indexed, inclusive), or "" if
// the range is empty/out of bounds.
func extractContent(lines []string, start, end int) string {
	if start > end || start >= len(lines) {
		return ""
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

// buildSection converts 0-indexed content bounds to the persisted
// OutputSection, preserving the "line_end < line_start" empty-section
// convention (spec §4.4).
func buildSection(id string, contentStart, contentEnd int, content string) OutputSection {
	safeID := SanitizeSectionID(id)
	lineStart := contentStart + 1
	var lineEnd int
	if contentEnd < contentStart {
		lineEnd = lineStart - 1
	} else {
		lineEnd = contentEnd + 1
	}

	return OutputSection{
		ID:            safeID,
		Title:         idToTitle(safeID),
		LineStart:     lineStart,
		LineEnd:       lineEnd,
		TokenEstimate: EstimateTokens(content),
		FilePath:      safeID + ".md",
	}
}

// SanitizeSectionID replaces any character outside [A-Za-z0-9._-] with "_",
// then collapses any ".." sequence left in the result to "_" (spec §4.4).
func SanitizeSectionID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.ReplaceAll(b.String(), "..", "_")
}

// idToTitle converts a kebab-case or snake_case id to a title-case string,
// e.g. "exec-plan" -> "Exec Plan".
func idToTitle(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// deduplicateFilePaths appends "-2", "-3", ... to the file name (not the
// ID) of later sections sharing the same sanitized ID, so no section write
// overwrites an earlier one.
func deduplicateFilePaths(sections []OutputSection) {
	seen := map[string]int{}
	for i := range sections {
		seen[sections[i].ID]++
		if n := seen[sections[i].ID]; n > 1 {
			sections[i].FilePath = fmt.Sprintf("%s-%d.md", sections[i].ID, n)
		}
	}
}
