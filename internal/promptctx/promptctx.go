// Package promptctx assembles the effective prompt for one execution
// pipeline turn (spec §4.7 step 7): soft-fork recap, project context files,
// memory injection, read-only restrictions, the structured-output /
// fork-call schema appendices, and prompt-guard reminders, composed in a
// fixed order that puts the guard reminders last, the strongest position.
package promptctx

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxContextBytes bounds the combined size of loaded project context files
// (spec §4.7 step 7b: "bounded at 50 KiB total").
const maxContextBytes = 50 * 1024

// primaryContextFiles are searched for at the project root, in order.
var primaryContextFiles = []string{"CLAUDE.md", "AGENTS.md"}

// arrowRefPattern matches a "-> path/to/detail.md" reference line inside a
// primary context file, the mechanism by which CLAUDE.md/AGENTS.md point at
// additional detail files to pull in.
var arrowRefPattern = regexp.MustCompile(`(?m)^\s*->\s*(\S+)\s*$`)

// Options carries every input the assembler's ordering rule (spec §4.7 step
// 7) reads.
type Options struct {
	SoftForkContext string // (a) non-empty only for soft-forked children
	ProjectRoot     string // (b) root to search for CLAUDE.md/AGENTS.md
	MemorySection   string // (c) pre-rendered memory-injection text, or ""
	TaskType        string // "review" | "debate" | "" — (c) suppresses memory
	NoMemory        bool   // (c) explicit suppression
	ReadOnly        bool   // (d) tool cannot edit
	GuardReminders  []string // (e) appended last, strongest position
	StructuredOutput bool   // (f) append the CSA:SECTION instruction block
	ForkCall        bool   // (g) append the return-packet schema appendix
	UserPrompt      string // the user's actual request, always present
}

// Assemble composes the effective prompt in the exact order spec §4.7 step 7
// specifies.
func Assemble(opts Options) string {
	var parts []string

	// (a) soft fork context prefix, if any.
	if strings.TrimSpace(opts.SoftForkContext) != "" {
		parts = append(parts, opts.SoftForkContext)
	}

	// (b) project context files.
	if opts.ProjectRoot != "" {
		if ctx := LoadContextFiles(opts.ProjectRoot); ctx != "" {
			parts = append(parts, ctx)
		}
	}

	parts = append(parts, opts.UserPrompt)

	// (c) memory-injection section, unless review/debate or no_memory.
	if !opts.NoMemory && opts.TaskType != "review" && opts.TaskType != "debate" && opts.MemorySection != "" {
		parts = append(parts, opts.MemorySection)
	}

	// (d) read-only restrictions.
	if opts.ReadOnly {
		parts = append(parts, ReadOnlyRestrictionBlock())
	}

	// (f) structured-output instruction block.
	if opts.StructuredOutput {
		parts = append(parts, StructuredOutputInstructionBlock())
	}

	// (g) fork-call return-packet schema appendix.
	if opts.ForkCall {
		parts = append(parts, ReturnPacketSchemaAppendix())
	}

	// (e) prompt-guard reminders, appended last (strongest position).
	for _, r := range opts.GuardReminders {
		if strings.TrimSpace(r) != "" {
			parts = append(parts, r)
		}
	}

	return strings.Join(parts, "\n\n")
}

// LoadContextFiles loads the primary context files at projectRoot
// (CLAUDE.md, AGENTS.md), resolves their arrow-referenced detail files, and
// returns the combined content bounded at maxContextBytes total. Symlinks
// are allowed for the primaries; a detail reference that resolves outside
// projectRoot is skipped rather than followed.
func LoadContextFiles(projectRoot string) string {
	var sections []string
	budget := maxContextBytes

	for _, name := range primaryContextFiles {
		path := filepath.Join(projectRoot, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}

		content = appendDetailRefs(content, projectRoot, &budget)

		if len(content) > budget {
			content = content[:budget]
		}
		budget -= len(content)
		sections = append(sections, content)
		if budget <= 0 {
			break
		}
	}

	return strings.Join(sections, "\n\n---\n\n")
}

// appendDetailRefs resolves every "-> path" reference in content, appending
// each referenced file's trimmed content after the primary. A reference may
// be a doublestar glob (e.g. "-> docs/*.md") matching several detail files.
// References that escape projectRoot (after symlink resolution) or exceed
// the remaining budget are skipped.
func appendDetailRefs(content, projectRoot string, budget *int) string {
	matches := arrowRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return content
	}

	root, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		root = projectRoot
	}

	var b strings.Builder
	b.WriteString(content)
	for _, m := range matches {
		for _, resolved := range resolveDetailRef(projectRoot, m[1]) {
			rel, err := filepath.Rel(root, resolved)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue // escapes project root
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				continue
			}
			detail := strings.TrimSpace(string(data))
			if detail == "" || len(detail) > *budget {
				continue
			}
			b.WriteString("\n\n")
			b.WriteString(detail)
		}
	}
	return b.String()
}

// resolveDetailRef expands an arrow-reference pattern relative to
// projectRoot into its matched, symlink-resolved absolute paths. A pattern
// containing glob metacharacters is matched with doublestar against
// projectRoot; a plain path is resolved directly.
func resolveDetailRef(projectRoot, ref string) []string {
	if !doublestar.ValidatePattern(ref) {
		return nil
	}
	if strings.ContainsAny(ref, "*?[{") {
		names, err := doublestar.Glob(os.DirFS(projectRoot), ref)
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(names))
		for _, name := range names {
			full := filepath.Join(projectRoot, name)
			resolved, err := filepath.EvalSymlinks(full)
			if err != nil {
				resolved = full
			}
			out = append(out, resolved)
		}
		return out
	}

	full := filepath.Join(projectRoot, ref)
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		resolved = full
	}
	return []string{resolved}
}

// ReadOnlyRestrictionBlock is injected for tools that cannot edit files
// (spec §4.7 step 7d).
func ReadOnlyRestrictionBlock() string {
	return "# Restrictions\n" +
		"This run is read-only. Do not attempt to create, modify, or delete any " +
		"file. Report proposed changes instead of applying them."
}

// StructuredOutputInstructionBlock tells the child how to emit delimited
// sections the Output Parser will index (spec §4.4, §4.7 step 7f).
func StructuredOutputInstructionBlock() string {
	return "# Structured output\n" +
		"Wrap distinct parts of your response in section markers so they can be " +
		"extracted individually:\n\n" +
		"<!-- CSA:SECTION:<id> -->\n…content…\n<!-- CSA:SECTION:<id>:END -->\n\n" +
		"Use a short, stable, lowercase id per section (e.g. \"summary\", " +
		"\"details\"). Sections must not overlap."
}

// ReturnPacketSchemaAppendix is appended when the run is a fork-call child,
// describing the return-packet section it must emit (spec §3.1, §4.7 step
// 7g).
func ReturnPacketSchemaAppendix() string {
	return fmt.Sprintf("# Return packet\n"+
		"Before finishing, emit a %q section containing a TOML table with:\n\n"+
		"status = \"Success\" | \"Failure\" | \"Cancelled\"\n"+
		"exit_code = <integer>\n"+
		"summary = \"<= 512 chars\"\n"+
		"artifacts = [\"repo-relative/path\", ...]\n"+
		"changed_files = [{ path = \"repo-relative/path\", action = \"Add\"|\"Modify\"|\"Delete\" }]\n"+
		"next_actions = [\"short imperative string\", ...]\n\n"+
		"Paths must be relative, contain no \"..\" components, and resolve inside "+
		"the project root.", "return-packet")
}
