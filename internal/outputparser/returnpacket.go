package outputparser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ReturnStatus is the terminal disposition a fork call reports back to its
// parent session (spec §4.4).
type ReturnStatus string

const (
	StatusSuccess   ReturnStatus = "Success"
	StatusFailure   ReturnStatus = "Failure"
	StatusCancelled ReturnStatus = "Cancelled"
)

// FileAction classifies one entry in ChangedFiles.
type FileAction string

const (
	ActionAdd    FileAction = "Add"
	ActionModify FileAction = "Modify"
	ActionDelete FileAction = "Delete"
)

// ChangedFile is one file a fork call reports having touched.
type ChangedFile struct {
	Path   string     `toml:"path"`
	Action FileAction `toml:"action"`
}

// maxSummaryChars bounds ReturnPacket.Summary after sanitization (spec §4.4).
const maxSummaryChars = 512

// ReturnPacket is the decoded contents of a fork call's return_packet.toml
// (or equivalent structured-text fallback).
type ReturnPacket struct {
	Status        ReturnStatus  `toml:"status"`
	ExitCode      int           `toml:"exit_code"`
	Summary       string        `toml:"summary"`
	Artifacts     []string      `toml:"artifacts"`
	ChangedFiles  []ChangedFile `toml:"changed_files"`
	GitHeadBefore *string       `toml:"git_head_before,omitempty"`
	GitHeadAfter  *string       `toml:"git_head_after,omitempty"`
	NextActions   []string      `toml:"next_actions"`
	ErrorContext  *string       `toml:"error_context,omitempty"`
}

// ParseReturnPacket decodes raw return-packet content, trying TOML first,
// falling back to a permissive structured-text grammar, and finally
// synthesizing a Failure packet so the parent session never mistakes an
// unparseable result for silent success (spec §4.4).
func ParseReturnPacket(raw string) *ReturnPacket {
	if pkt, err := parseReturnPacketTOML(raw); err == nil {
		return sanitizePacket(pkt)
	}
	if pkt, err := parseReturnPacketStructuredText(raw); err == nil {
		return sanitizePacket(pkt)
	}
	return syntheticFailure(raw)
}

func parseReturnPacketTOML(raw string) (*ReturnPacket, error) {
	var pkt ReturnPacket
	if _, err := toml.Decode(raw, &pkt); err != nil {
		return nil, err
	}
	if pkt.Status == "" {
		return nil, fmt.Errorf("return packet missing status")
	}
	return &pkt, nil
}

func syntheticFailure(raw string) *ReturnPacket {
	redacted := RedactSecrets(raw)
	return &ReturnPacket{
		Status:       StatusFailure,
		ExitCode:     1,
		Summary:      sanitizeSummary("Child return packet is invalid; execution context may be incomplete."),
		ErrorContext: &redacted,
	}
}

func sanitizePacket(pkt *ReturnPacket) *ReturnPacket {
	pkt.Summary = sanitizeSummary(pkt.Summary)
	if pkt.ErrorContext != nil {
		redacted := RedactSecrets(*pkt.ErrorContext)
		pkt.ErrorContext = &redacted
	}
	return pkt
}

// sanitizeSummary escapes '<' so embedded markup (e.g. a forged
// "<context-file ...>" block) can't be mistaken for real injected context
// by anything that later renders the summary, then truncates to
// maxSummaryChars.
func sanitizeSummary(s string) string {
	s = strings.ReplaceAll(s, "<", "&lt;")
	if len(s) <= maxSummaryChars {
		return s
	}
	const ellipsis = "…"
	return s[:maxSummaryChars-len(ellipsis)] + ellipsis
}

// parseReturnPacketStructuredText parses the fallback grammar used when a
// tool emits a return packet that isn't valid TOML: flat "key: value" or
// "key = value" lines (whichever separator appears first in the line), and
// bulleted "- item" blocks continuing the most recently named list key.
func parseReturnPacketStructuredText(raw string) (*ReturnPacket, error) {
	lines := splitLines(raw)
	pkt := &ReturnPacket{}
	haveStatus := false
	currentKey := ""

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "- "); ok {
			if err := appendBulletItem(pkt, currentKey, strings.TrimSpace(rest)); err != nil {
				return nil, err
			}
			continue
		}

		key, value, ok := splitReturnPacketKeyValue(trimmed)
		if !ok {
			return nil, fmt.Errorf("malformed structured-text line: %q", line)
		}
		currentKey = key
		if err := assignScalarOrInline(pkt, key, value, &haveStatus); err != nil {
			return nil, err
		}
	}

	if !haveStatus {
		return nil, fmt.Errorf("structured-text return packet missing status")
	}
	return pkt, nil
}

// splitReturnPacketKeyValue splits on whichever of ':' or '=' occurs first
// in the line.
func splitReturnPacketKeyValue(line string) (key, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	equals := strings.IndexByte(line, '=')
	var idx int
	switch {
	case colon < 0 && equals < 0:
		return "", "", false
	case colon < 0:
		idx = equals
	case equals < 0:
		idx = colon
	case colon < equals:
		idx = colon
	default:
		idx = equals
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

func assignScalarOrInline(pkt *ReturnPacket, key, value string, haveStatus *bool) error {
	if list, ok := parseInlineStringList(value); ok {
		return assignListKey(pkt, key, list)
	}

	value = stripWrappingQuotes(value)
	switch key {
	case "status":
		pkt.Status = ReturnStatus(value)
		*haveStatus = true
	case "exit_code":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid exit_code %q: %w", value, err)
		}
		pkt.ExitCode = n
	case "summary":
		pkt.Summary = value
	case "git_head_before":
		v := value
		pkt.GitHeadBefore = &v
	case "git_head_after":
		v := value
		pkt.GitHeadAfter = &v
	case "error_context":
		v := value
		pkt.ErrorContext = &v
	case "artifacts", "changed_files", "next_actions":
		// A bare (non-list) scalar under one of these keys starts an empty
		// list that subsequent bullet lines append to.
		return assignListKey(pkt, key, nil)
	}
	return nil
}

func assignListKey(pkt *ReturnPacket, key string, items []string) error {
	switch key {
	case "artifacts":
		pkt.Artifacts = append(pkt.Artifacts, items...)
	case "next_actions":
		pkt.NextActions = append(pkt.NextActions, items...)
	case "changed_files":
		for _, item := range items {
			cf, err := parseChangedFileItem(item)
			if err != nil {
				return err
			}
			pkt.ChangedFiles = append(pkt.ChangedFiles, cf)
		}
	default:
		return fmt.Errorf("unknown list key %q", key)
	}
	return nil
}

func appendBulletItem(pkt *ReturnPacket, currentKey, item string) error {
	item = stripWrappingQuotes(item)
	switch currentKey {
	case "artifacts":
		pkt.Artifacts = append(pkt.Artifacts, item)
	case "next_actions":
		pkt.NextActions = append(pkt.NextActions, item)
	case "changed_files":
		cf, err := parseChangedFileItem(item)
		if err != nil {
			return err
		}
		pkt.ChangedFiles = append(pkt.ChangedFiles, cf)
	default:
		return fmt.Errorf("bullet item with no active list key: %q", item)
	}
	return nil
}

// parseChangedFileItem accepts "path (Action)" or "path=Action"; a bare
// path with no action defaults to Modify.
func parseChangedFileItem(item string) (ChangedFile, error) {
	if idx := strings.LastIndexByte(item, '('); idx >= 0 && strings.HasSuffix(item, ")") {
		path := strings.TrimSpace(item[:idx])
		action := strings.TrimSpace(item[idx+1 : len(item)-1])
		return ChangedFile{Path: path, Action: FileAction(action)}, nil
	}
	if idx := strings.LastIndexByte(item, '='); idx >= 0 {
		return ChangedFile{
			Path:   strings.TrimSpace(item[:idx]),
			Action: FileAction(strings.TrimSpace(item[idx+1:])),
		}, nil
	}
	return ChangedFile{Path: item, Action: ActionModify}, nil
}

// parseInlineStringList recognizes a TOML-style "[a, b, c]" or a bare
// comma-separated "a, b, c" inline value and returns its trimmed,
// quote-stripped elements. ok is false for a plain scalar.
func parseInlineStringList(value string) ([]string, bool) {
	inner := value
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		inner = value[1 : len(value)-1]
	} else if !strings.Contains(value, ",") {
		return nil, false
	}
	if strings.TrimSpace(inner) == "" {
		return []string{}, true
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, stripWrappingQuotes(strings.TrimSpace(p)))
	}
	return out, true
}

func stripWrappingQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// EncodeReturnPacket renders pkt back to TOML, for tools that want to
// inspect or re-persist a packet already parsed in-memory.
func EncodeReturnPacket(pkt *ReturnPacket) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(pkt); err != nil {
		return "", err
	}
	return buf.String(), nil
}
