package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/csa-project/csa/internal/config"
	"github.com/csa-project/csa/internal/obslog"
	"github.com/csa-project/csa/internal/outputparser"
	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/slotpool"
	"github.com/csa-project/csa/internal/transport"
)

var errRunFailed = errors.New("spawn failed")

// fakeTransport returns a scripted sequence of results, one per call, so
// tests can drive failover without spawning a real subprocess.
type fakeTransport struct {
	results []transport.Result
	errs    []error
	calls   int
}

func (f *fakeTransport) Execute(ctx context.Context, req transport.Request, opts transport.Options) (transport.Result, error) {
	i := f.calls
	f.calls++
	var res transport.Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func newTestPipeline(t *testing.T, tools map[string]ToolRuntime) *Pipeline {
	t.Helper()
	stateRoot := t.TempDir()
	slotsRoot := t.TempDir()
	cfg := config.Default()
	for name := range tools {
		cfg.Tools[name] = config.ToolConfig{Enabled: true, MaxConcurrent: 1}
	}
	return &Pipeline{
		Cfg:       cfg,
		Store:     session.NewStore(stateRoot),
		StateRoot: stateRoot,
		SlotsRoot: slotsRoot,
		Tools:     tools,
		Obs:       obslog.Nop(),
	}
}

func successResult(output string) transport.Result {
	return transport.Result{
		Execution:         transport.Execution{Output: output, ExitCode: 0, Summary: "done"},
		ProviderSessionID: "prov-123",
	}
}

func TestRun_SuccessPersistsStateAndResult(t *testing.T) {
	ft := &fakeTransport{results: []transport.Result{successResult("plain output, no markers")}}
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: ft}})

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude"},
		Prompt:      "do the thing",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Result.Status != "success" {
		t.Errorf("Status = %q, want success", res.Result.Status)
	}

	dir := session.SessionDir(p.StateRoot, res.Session.ID)
	if _, err := os.Stat(filepath.Join(dir, "state.toml")); err != nil {
		t.Errorf("state.toml missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "result.toml")); err != nil {
		t.Errorf("result.toml missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "output", "index.toml")); err != nil {
		t.Errorf("output/index.toml missing: %v", err)
	}
}

func TestRun_ForkCallParsesReturnPacketOntoParent(t *testing.T) {
	output := "<!-- CSA:SECTION:return-packet -->\n" +
		"status = \"Success\"\nexit_code = 0\nsummary = \"did the work\"\n" +
		"<!-- CSA:SECTION:return-packet:END -->\n"
	ft := &fakeTransport{results: []transport.Result{successResult(output)}}
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: ft}})

	parent, err := p.Store.CreateSession("/tmp/proj", "parent task", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude"},
		Prompt:      "delegate this",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
		ParentID:    parent.ID,
		ForkCall:    true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ReturnPacket == nil {
		t.Fatal("expected a parsed return packet")
	}
	if res.ReturnPacket.Status != outputparser.StatusSuccess {
		t.Errorf("Status = %q, want Success", res.ReturnPacket.Status)
	}

	reloadedParent, err := p.Store.LoadSession(parent.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if reloadedParent.LastReturnPacket == nil {
		t.Fatal("expected parent.LastReturnPacket to be set")
	}
	if reloadedParent.LastReturnPacket.ChildSessionID != res.Session.ID {
		t.Errorf("ChildSessionID = %q, want %q", reloadedParent.LastReturnPacket.ChildSessionID, res.Session.ID)
	}
}

func TestRun_SlotExhaustionFailsOverToNextCandidate(t *testing.T) {
	ftPrimary := &fakeTransport{results: []transport.Result{successResult("unused")}}
	ftSecondary := &fakeTransport{results: []transport.Result{successResult("from secondary")}}
	p := newTestPipeline(t, map[string]ToolRuntime{
		"claude": {Transport: ftPrimary},
		"codex":  {Transport: ftSecondary},
	})

	pool := slotpool.New(p.SlotsRoot, "claude", p.Cfg.MaxConcurrent("claude"))
	guard, err := pool.TryAcquire("someone-else")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer guard.Release()

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude", "codex"},
		Prompt:      "do it",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tool != "codex" {
		t.Errorf("Tool = %q, want codex (failed over)", res.Tool)
	}
	if ftPrimary.calls != 0 {
		t.Errorf("primary transport should never have been invoked, got %d calls", ftPrimary.calls)
	}
}

func TestRun_RateLimitSignalFailsOver(t *testing.T) {
	ftPrimary := &fakeTransport{results: []transport.Result{
		{Execution: transport.Execution{Output: "error: rate limit exceeded", ExitCode: 1}},
	}}
	ftSecondary := &fakeTransport{results: []transport.Result{successResult("from secondary")}}
	p := newTestPipeline(t, map[string]ToolRuntime{
		"claude": {Transport: ftPrimary, RateLimitMarkers: []string{"rate limit exceeded"}},
		"codex":  {Transport: ftSecondary},
	})

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude", "codex"},
		Prompt:      "do it",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tool != "codex" {
		t.Errorf("Tool = %q, want codex (failed over on rate limit)", res.Tool)
	}
}

func TestRun_PreExecFailureLeavesSessionWithFailureResult(t *testing.T) {
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: &fakeTransport{}}})

	req := RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude"},
		Prompt:      "do it",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
	}
	// force recursion-depth failure by resuming a session already past the
	// configured max depth
	child, err := p.Store.CreateSession("/tmp/proj", "child", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	child.Genealogy.Depth = p.Cfg.Project.MaxRecursionDepth + 1
	if err := p.Store.SaveSession(child); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	req.SessionID = child.ID

	_, err = p.Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected recursion-depth pre-exec failure")
	}

	result, rerr := p.Store.LoadResult(child.ID)
	if rerr != nil || result == nil {
		t.Fatalf("LoadResult: %v", rerr)
	}
	if result.Status != "failure" {
		t.Errorf("Status = %q, want failure", result.Status)
	}

	if _, err := p.Store.LoadSession(child.ID); err != nil {
		t.Errorf("session should survive a pre-exec failure: %v", err)
	}
}

func TestRun_ForkFromSetsForkGenealogy(t *testing.T) {
	ft := &fakeTransport{results: []transport.Result{successResult("forked output")}}
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: ft}})

	parent, err := p.Store.CreateSession("/tmp/proj", "parent task", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude"},
		Prompt:      "continue from the parent",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
		ForkFrom:    parent.ID,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Session.Genealogy.IsFork() {
		t.Error("IsFork() = false, want true for a forked session")
	}
	if res.Session.Genealogy.ForkOfSessionID != parent.ID {
		t.Errorf("ForkOfSessionID = %q, want %q", res.Session.Genealogy.ForkOfSessionID, parent.ID)
	}
}

func TestRun_FailedForkFailoverExhaustionDeletesHalfConstructedSession(t *testing.T) {
	ft := &fakeTransport{errs: []error{errRunFailed}}
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: ft}})

	parent, err := p.Store.CreateSession("/tmp/proj", "parent task", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = p.Run(context.Background(), RunRequest{
		Tool:               "claude",
		Candidates:         []string{"claude"},
		Prompt:             "continue from the parent",
		ProjectPath:        "/tmp/proj",
		ProjectRoot:        t.TempDir(),
		ForkFrom:           parent.ID,
		HeterogeneousRetry: true,
	})
	if err == nil {
		t.Fatal("expected Run to fail")
	}

	sessions, err := p.Store.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	for _, s := range sessions {
		if s.ID != parent.ID {
			t.Errorf("half-constructed fork session %q should have been deleted, found in listing", s.ID)
		}
	}
}

func TestRun_EphemeralSessionDeletedAfterSuccess(t *testing.T) {
	ft := &fakeTransport{results: []transport.Result{successResult("ok")}}
	p := newTestPipeline(t, map[string]ToolRuntime{"claude": {Transport: ft}})

	res, err := p.Run(context.Background(), RunRequest{
		Tool:        "claude",
		Candidates:  []string{"claude"},
		Prompt:      "do it",
		ProjectPath: "/tmp/proj",
		ProjectRoot: t.TempDir(),
		Ephemeral:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := p.Store.LoadSession(res.Session.ID); err == nil {
		t.Error("expected ephemeral session to be deleted after the run")
	}
}
