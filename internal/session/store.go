package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	stateFileName  = "state.toml"
	resultFileName = "result.toml"
	outputLogName  = "output.log"
	// softForkRecapMaxChars bounds the context summary length returned by
	// SoftForkContext (spec §4.1 "bounded-length textual recap").
	softForkRecapMaxChars = 4000
	// softForkOutputTailLines bounds how much of the parent's output.log is
	// folded into the recap.
	softForkOutputTailLines = 80
)

// Result is the most recent run's outcome, persisted to result.toml
// (spec §3.1).
type Result struct {
	Status        string    `toml:"status"` // "success" | "failure"
	ExitCode      int       `toml:"exit_code"`
	Summary       string    `toml:"summary"`
	Tool          string    `toml:"tool"`
	StartedAt     time.Time `toml:"started_at"`
	CompletedAt   time.Time `toml:"completed_at"`
	EventsCount   int       `toml:"events_count"`
	Artifacts     []string  `toml:"artifacts"`
}

// Store provides durable, atomic Session persistence rooted at a project's
// state directory (spec §4.1).
type Store struct {
	projectRoot string // <state_root>/<encoded-project-path>/
}

// NewStore returns a Store for the given per-project state root directory.
func NewStore(projectRoot string) *Store {
	return &Store{projectRoot: projectRoot}
}

// CreateSession allocates a fresh Session and atomically writes state.toml.
// parent is the delegation parent (nil for a top-level session); its
// ParentSessionID/Depth land in Genealogy. It never populates the fork
// fields — see CreateForkSession for that path.
func (st *Store) CreateSession(projectPath, description string, parent *Session, initialTool string) (*Session, error) {
	return st.createSession(projectPath, description, parent, nil, "", initialTool)
}

// CreateForkSession allocates a fresh Session that is a fork of forkOf: its
// Genealogy.ForkOfSessionID/ForkProviderSessionID are set so IsFork() and
// downstream GC/listing code can see the relation (spec §3.1, §4.5). Unlike
// CreateSession it never takes a delegation parent — a session is either a
// plain child (ParentSessionID) or a fork (ForkOfSessionID), never both.
func (st *Store) CreateForkSession(projectPath, description string, forkOf *Session, forkProviderSessionID, initialTool string) (*Session, error) {
	return st.createSession(projectPath, description, nil, forkOf, forkProviderSessionID, initialTool)
}

func (st *Store) createSession(projectPath, description string, parent, forkOf *Session, forkProviderSessionID, initialTool string) (*Session, error) {
	now := time.Now().UTC()
	id := NewULID()

	gitHead := CurrentGitHead(projectPath)
	sess := &Session{
		ID:                id,
		Description:       deriveDescription(description),
		ProjectPath:       projectPath,
		CreatedAt:         now,
		LastAccessed:      now,
		Phase:             PhaseActive,
		Tools:             map[string]ToolState{},
		GitHeadAtCreation: gitHead,
		IsSeedCandidate:   gitHead != "",
	}

	switch {
	case forkOf != nil:
		sess.Genealogy = Genealogy{
			ForkOfSessionID:       forkOf.ID,
			ForkProviderSessionID: forkProviderSessionID,
			Depth:                 forkOf.Genealogy.Depth + 1,
		}
	case parent != nil:
		sess.Genealogy = Genealogy{
			ParentSessionID: parent.ID,
			Depth:           parent.Genealogy.Depth + 1,
		}
	}

	if initialTool != "" {
		sess.Tools[initialTool] = ToolState{UpdatedAt: now}
	}

	if err := st.SaveSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// deriveDescription truncates to 80 chars, the spec's auto-derivation bound.
func deriveDescription(s string) string {
	const max = 80
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// LoadSession reads and validates a session directory.
func (st *Store) LoadSession(id string) (*Session, error) {
	if !ValidULID(id) {
		return nil, fmt.Errorf("%w: invalid ulid %q", ErrSessionNotFound, id)
	}
	dir := SessionDir(st.projectRoot, id)
	path := filepath.Join(dir, stateFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	var sess Session
	if _, err := toml.DecodeFile(path, &sess); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &sess, nil
}

// SaveSession writes state.toml atomically (temp file + rename), per spec §5.
func (st *Store) SaveSession(sess *Session) error {
	dir := SessionDir(st.projectRoot, sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(sess); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return atomicWrite(filepath.Join(dir, stateFileName), buf.Bytes())
}

// atomicWrite writes data to a temp file in the same directory then renames
// it over path, so readers never observe a half-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

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

// SaveResult atomically writes result.toml.
func (st *Store) SaveResult(sessionID string, res *Result) error {
	dir := SessionDir(st.projectRoot, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return atomicWrite(filepath.Join(dir, resultFileName), buf.Bytes())
}

// LoadResult reads result.toml, if present.
func (st *Store) LoadResult(sessionID string) (*Result, error) {
	path := filepath.Join(SessionDir(st.projectRoot, sessionID), resultFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var res Result
	if _, err := toml.DecodeFile(path, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &res, nil
}

// DeleteSession removes a session directory entirely.
func (st *Store) DeleteSession(id string) error {
	dir := SessionDir(st.projectRoot, id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return os.RemoveAll(dir)
}

// ResumeHandle is the outcome of resolving a resume request (spec §4.1).
type ResumeHandle struct {
	MetaSessionID     string
	ProviderSessionID string
}

// ResolveResumeSession returns the stored provider_session_id for tool, if any.
func (st *Store) ResolveResumeSession(id, tool string) (*ResumeHandle, error) {
	sess, err := st.LoadSession(id)
	if err != nil {
		return nil, err
	}
	handle := &ResumeHandle{MetaSessionID: sess.ID}
	if ts, ok := sess.Tools[tool]; ok {
		handle.ProviderSessionID = ts.ProviderSessionID
	}
	return handle, nil
}

// ListSessions returns every session under the project root.
// readOnly=true never repairs half-written state.toml files (required for
// GC dry-run per spec §4.8); readOnly=false may rewrite a corrupt file it
// can partially recover (e.g. missing fields defaulted) during the scan.
func (st *Store) ListSessions(readOnly bool) ([]*Session, error) {
	dir := SessionsDir(st.projectRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.IsDir() || !ValidULID(e.Name()) {
			continue
		}
		sess, err := st.LoadSession(e.Name())
		if err != nil {
			continue // skip corrupt/missing — GC's orphan sweep handles these
		}
		if !readOnly {
			// Best-effort repair: re-save to normalize any missing defaults
			// (e.g. nil Tools map) so later writers don't panic.
			if sess.Tools == nil {
				sess.Tools = map[string]ToolState{}
				_ = st.SaveSession(sess)
			}
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastAccessed.After(sessions[j].LastAccessed)
	})
	return sessions, nil
}

// SoftForkContext builds the bounded textual recap used as a context prefix
// for a soft-forked child: the parent's last result summary plus a tail of
// its output.log (spec §4.1, §4.5).
func (st *Store) SoftForkContext(parentID string) (string, error) {
	dir := SessionDir(st.projectRoot, parentID)

	var b strings.Builder
	if res, err := st.LoadResult(parentID); err == nil && res != nil {
		fmt.Fprintf(&b, "Prior session summary: %s\n", res.Summary)
	}

	tail, err := tailLines(filepath.Join(dir, outputLogName), softForkOutputTailLines)
	if err == nil && tail != "" {
		b.WriteString("Recent output:\n")
		b.WriteString(tail)
		b.WriteString("\n")
	}

	out := b.String()
	if len(out) > softForkRecapMaxChars {
		out = out[:softForkRecapMaxChars]
	}
	return out, nil
}

// tailLines returns up to n trailing lines of the file at path.
func tailLines(path string, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
