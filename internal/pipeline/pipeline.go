// Package pipeline implements the Execution Pipeline (spec §4.7): the
// top-level coordinator that resolves a session, acquires the session lock
// and tool slot, resolves any fork, assembles the effective prompt, runs
// PreRun hooks, spawns the tool through its transport, and persists the
// structured result — retrying across a failover candidate list on slot
// exhaustion, a heterogeneous-preferred runtime failure, or a recognized
// rate-limit signal (spec §4.6, §4.7, §8 scenarios S6/S7).
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/csa-project/csa/internal/config"
	"github.com/csa-project/csa/internal/csaerr"
	"github.com/csa-project/csa/internal/hooks"
	"github.com/csa-project/csa/internal/obslog"
	"github.com/csa-project/csa/internal/outputparser"
	"github.com/csa-project/csa/internal/promptctx"
	"github.com/csa-project/csa/internal/sandbox"
	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/slotpool"
	"github.com/csa-project/csa/internal/transport"
)

// ToolRuntime bundles everything the pipeline needs to drive one tool:
// its transport, an optional native-fork capability, whether it can edit
// files, and the substrings that identify a rate-limit signal in its
// output (spec §4.5, §4.6 rate-limit failover).
type ToolRuntime struct {
	Transport        transport.Transport
	NativeForker     transport.NativeForker
	ReadOnly         bool
	RateLimitMarkers []string
}

// Pipeline is the top-level execution coordinator (spec §4.7).
type Pipeline struct {
	Cfg       *config.Config
	Store     *session.Store
	StateRoot string // "<state_root>/<encoded-project-path>/" this Store is rooted at
	SlotsRoot string
	Tools     map[string]ToolRuntime
	Hooks     []hooks.Spec
	Waivers   []hooks.Waiver
	Memory    promptctx.MemoryStore
	Obs       *obslog.Logger
}

func (p *Pipeline) sessionsRoot() string { return session.SessionsDir(p.StateRoot) }

// RunRequest is one execution request (spec §4.7).
type RunRequest struct {
	Tool       string   // first-choice tool
	Candidates []string // full failover order; defaults to []string{Tool}

	Prompt      string
	ProjectPath string // canonical project identity, used for the state root
	ProjectRoot string // cwd searched for CLAUDE.md/AGENTS.md context files

	SessionID   string // resume target; empty creates a new session
	Description string
	ParentID    string // parent session id, for a delegated (non-fork) child

	ForkFrom string // parent session id to fork from
	ForkCall bool
	Ephemeral bool

	ReadOnlyOverride *bool
	NoMemory         bool
	TaskType         string // "review" | "debate" | ""

	Wait                bool
	WaitTimeout         time.Duration
	NoFailover          bool
	HeterogeneousRetry  bool
	MaxFailoverAttempts int

	StreamMode          transport.StreamMode
	IdleTimeout         time.Duration
	LivenessDeadTimeout time.Duration
	TerminationGrace    time.Duration

	GuardReminders   []string
	StructuredOutput bool

	// ParentSlotRelease, when set, is called once before the child's slot
	// is acquired (fork-call handoff, spec §4.2 "releases the parent's
	// held slot before the child begins").
	ParentSlotRelease func() error
}

// RunResult is what a successful Run produces.
type RunResult struct {
	Session      *session.Session
	Result       *session.Result
	Tool         string
	OutputIndex  *outputparser.OutputIndex
	ReturnPacket *outputparser.ReturnPacket
}

// Run executes req through phases 1-10 of spec §4.7, failing over across
// req.Candidates per the failover controller (spec §4.7 "top-level loop
// around phases 5-9").
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates = []string{req.Tool}
	}
	maxAttempts := req.MaxFailoverAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	sess, sessionDir, guard, isNew, err := p.resolveSession(req)
	if err != nil {
		return nil, err
	}
	defer guard.Fire()
	defer func() {
		if req.Ephemeral {
			_ = p.Store.DeleteSession(sess.ID)
		}
	}()

	if err := checkRecursionDepth(sess.Genealogy.Depth, p.Cfg.Project.MaxRecursionDepth); err != nil {
		return nil, p.failPreExec(sess, guard, "recursion depth exceeded: "+err.Error())
	}
	if err := checkChildOfSelf(req.SessionID); err != nil {
		return nil, p.failPreExec(sess, guard, "refusing child-of-self: "+err.Error())
	}
	if ok, free, _ := checkMinFreeMemory(p.Cfg.Resources.MinFreeMemoryMB); !ok {
		return nil, p.failPreExec(sess, guard, fmt.Sprintf("insufficient free memory (%d MB free)", free))
	}

	tried := map[string]bool{}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tool := nextCandidate(candidates, tried)
		if tool == "" {
			break
		}
		tried[tool] = true

		res, retryable, forked, err := p.attempt(ctx, req, sess, sessionDir, isNew, tool)
		if err == nil {
			guard.Defuse()
			return res, nil
		}
		lastErr = err
		if forked {
			// Forks are tool-specific and do not transfer to the next
			// candidate, so the provider-session id this attempt
			// pre-created for tool is dead weight once we fail over
			// (spec §4.7, §5 "pre-created fork session ids are tracked
			// so that a failed failover deletes the half-constructed
			// session directory").
			p.clearForkAttempt(sess, tool)
		}
		if req.NoFailover || !retryable {
			break
		}
		p.Obs.Warn("attempt failed, failing over", zap.Error(err), zap.String("tool", tool))
	}

	if lastErr == nil {
		lastErr = csaerr.New(csaerr.KindConfiguration, "no candidate tools to run")
	}
	if isNew && req.ForkFrom != "" {
		// This session exists only to host the fork attempt; with every
		// candidate exhausted there's no real work to preserve, so leave
		// the cleanup guard armed and let the deferred Fire() above
		// delete the half-constructed session directory instead of
		// persisting a failure record for it.
		return nil, lastErr
	}
	_ = p.failPreExec(sess, guard, "all candidates exhausted: "+lastErr.Error())
	return nil, lastErr
}

// clearForkAttempt undoes the per-tool native-fork metadata phase 6 wrote
// for a failed, retried attempt (spec §4.7 "clears fork metadata ...
// and retries with the next tool").
func (p *Pipeline) clearForkAttempt(sess *session.Session, tool string) {
	delete(sess.Tools, tool)
	sess.Genealogy.ForkProviderSessionID = ""
	_ = p.Store.SaveSession(sess)
}

// nextCandidate returns the first candidate not yet tried.
func nextCandidate(candidates []string, tried map[string]bool) string {
	for _, c := range candidates {
		if !tried[c] {
			return c
		}
	}
	return ""
}

// resolveSession implements spec §4.7 step 2: resume an existing session
// (transitioning Available->Active) or create a new one, arming a cleanup
// guard only in the latter case.
func (p *Pipeline) resolveSession(req RunRequest) (*session.Session, string, *cleanupGuard, bool, error) {
	if req.SessionID != "" {
		sess, err := p.Store.LoadSession(req.SessionID)
		if err != nil {
			return nil, "", nil, false, err
		}
		if sess.Phase == session.PhaseAvailable {
			newPhase, err := sess.Phase.Transition(session.EventResumed)
			if err != nil {
				return nil, "", nil, false, err
			}
			sess.Phase = newPhase
		}
		sess.LastAccessed = time.Now().UTC()
		if err := p.Store.SaveSession(sess); err != nil {
			return nil, "", nil, false, err
		}
		return sess, session.SessionDir(p.StateRoot, sess.ID), nil, false, nil
	}

	var sess *session.Session
	var err error
	if req.ForkFrom != "" {
		var forkOf *session.Session
		forkOf, err = p.Store.LoadSession(req.ForkFrom)
		if err != nil {
			return nil, "", nil, false, err
		}
		sess, err = p.Store.CreateForkSession(req.ProjectPath, req.Description, forkOf, "", req.Tool)
	} else {
		var parent *session.Session
		if req.ParentID != "" {
			parent, err = p.Store.LoadSession(req.ParentID)
			if err != nil {
				return nil, "", nil, false, err
			}
		}
		sess, err = p.Store.CreateSession(req.ProjectPath, req.Description, parent, req.Tool)
	}
	if err != nil {
		return nil, "", nil, false, err
	}
	guard := armCleanupGuard(p.Store, sess.ID)
	return sess, session.SessionDir(p.StateRoot, sess.ID), guard, true, nil
}

// failPreExec persists a pre-exec failure result and defuses the cleanup
// guard so the session survives with a failure record instead of being
// deleted as an orphan (spec §4.7 step 3, §7 "Propagation policy").
func (p *Pipeline) failPreExec(sess *session.Session, guard *cleanupGuard, summary string) error {
	now := time.Now().UTC()
	res := &session.Result{
		Status:      "failure",
		ExitCode:    1,
		Summary:     "pre-exec: " + summary,
		StartedAt:   now,
		CompletedAt: now,
	}
	_ = p.Store.SaveResult(sess.ID, res)
	guard.Defuse()
	return csaerr.New(csaerr.KindPreExec, summary)
}

// attempt runs phases 4-10 for one candidate tool. retryable reports
// whether the failover controller should try the next candidate; forked
// reports whether phase 6 wrote per-tool native-fork metadata onto sess,
// so the failover loop knows to clear it before trying the next tool
// (spec §4.7 "clears fork metadata ... and retries with the next tool").
func (p *Pipeline) attempt(ctx context.Context, req RunRequest, sess *session.Session, sessionDir string, isNewSession bool, tool string) (*RunResult, bool, bool, error) {
	rt, ok := p.Tools[tool]
	if !ok {
		return nil, true, false, csaerr.New(csaerr.KindConfiguration, fmt.Sprintf("tool %q has no configured runtime", tool))
	}

	// Phase 4: session lock.
	lockReason := truncate(req.Prompt, 200)
	lock, err := session.AcquireToolLock(sessionDir, tool, lockReason)
	if err != nil {
		return nil, true, false, csaerr.Wrap(csaerr.KindLock, fmt.Sprintf("lock tool %q", tool), err)
	}
	defer lock.Release()

	// Phase 5: slot.
	if req.ParentSlotRelease != nil {
		_ = req.ParentSlotRelease()
	}
	pool := slotpool.New(p.SlotsRoot, tool, p.Cfg.MaxConcurrent(tool))
	var slotGuard *slotpool.Guard
	slotGuard, err = pool.TryAcquire(sess.ID)
	if err != nil {
		if err != csaerr.ErrSlotExhausted {
			return nil, false, false, csaerr.Wrap(csaerr.KindResource, "acquire slot", err)
		}
		if req.Wait {
			timeout := req.WaitTimeout
			if timeout <= 0 {
				timeout = 5 * time.Minute
			}
			slotGuard, err = pool.AcquireBlocking(ctx, sess.ID, timeout)
			if err != nil {
				return nil, true, false, csaerr.Wrap(csaerr.KindResource, "wait for slot", err)
			}
		} else {
			return nil, true, false, csaerr.Wrap(csaerr.KindResource, fmt.Sprintf("tool %q slots exhausted", tool), csaerr.ErrSlotExhausted)
		}
	}
	defer slotGuard.Release()

	// Phase 6: fork resolution.
	var softForkContext string
	var forkedProviderSessionID string
	var forked bool
	if req.ForkFrom != "" {
		outcome, err := p.resolveForkFor(ctx, req, tool, rt)
		if err != nil {
			return nil, false, false, csaerr.Wrap(csaerr.KindRuntime, "resolve fork", err)
		}
		switch outcome.Kind {
		case transport.ForkNative:
			forkedProviderSessionID = outcome.ProviderSessionID
			ts := sess.Tools[tool]
			ts.ProviderSessionID = outcome.ProviderSessionID
			sess.Tools[tool] = ts
			sess.Genealogy.ForkProviderSessionID = outcome.ProviderSessionID
			if err := p.Store.SaveSession(sess); err != nil {
				return nil, false, false, err
			}
			forked = true
		case transport.ForkSoft:
			softForkContext = outcome.ContextSummary
		}
	}

	// Phase 7: prompt assembly.
	readOnly := rt.ReadOnly
	if req.ReadOnlyOverride != nil {
		readOnly = *req.ReadOnlyOverride
	}
	var memorySection string
	if !req.NoMemory && req.TaskType != "review" && req.TaskType != "debate" && p.Memory != nil {
		memorySection, _ = p.Memory.Load(req.ProjectPath)
	}
	effectivePrompt := promptctx.Assemble(promptctx.Options{
		SoftForkContext:  softForkContext,
		ProjectRoot:      req.ProjectRoot,
		MemorySection:    memorySection,
		TaskType:         req.TaskType,
		NoMemory:         req.NoMemory,
		ReadOnly:         readOnly,
		GuardReminders:   req.GuardReminders,
		StructuredOutput: req.StructuredOutput,
		ForkCall:         req.ForkCall,
		UserPrompt:       req.Prompt,
	})

	// Phase 8: PreRun hooks.
	hookVars := hooks.Vars{SessionID: sess.ID, SessionDir: sessionDir, SessionsRoot: p.sessionsRoot(), Tool: tool}
	if _, err := hooks.Run(ctx, hooks.FilterEvent(p.Hooks, hooks.EventPreRun), hookVars, p.Waivers); err != nil {
		return nil, false, forked, err
	}

	// Phase 9: spawn & wait.
	priorToolState := sess.Tools[tool].ProviderSessionID
	if forkedProviderSessionID != "" {
		priorToolState = forkedProviderSessionID
	}
	env := buildChildEnv(p.Cfg, tool, childEnvInputs{
		SessionID:       sess.ID,
		SessionDir:      sessionDir,
		Depth:           sess.Genealogy.Depth,
		ProjectRoot:     req.ProjectRoot,
		ParentSessionID: sess.Genealogy.ParentSessionID,
	})

	opts := transport.DefaultOptions()
	if req.StreamMode != "" {
		opts.StreamMode = req.StreamMode
	}
	if req.IdleTimeout > 0 {
		opts.IdleTimeout = req.IdleTimeout
	} else if p.Cfg.Resources.IdleTimeoutSeconds > 0 {
		opts.IdleTimeout = time.Duration(p.Cfg.Resources.IdleTimeoutSeconds) * time.Second
	}
	if req.LivenessDeadTimeout > 0 {
		opts.LivenessDeadTimeout = req.LivenessDeadTimeout
	} else if p.Cfg.Resources.LivenessDeadSeconds > 0 {
		opts.LivenessDeadTimeout = time.Duration(p.Cfg.Resources.LivenessDeadSeconds) * time.Second
	}
	if req.TerminationGrace > 0 {
		opts.TerminationGrace = req.TerminationGrace
	}
	opts.SpoolPath = sessionDir + "/output.log"
	opts.Sandbox = p.sandboxConfigFor(tool)

	res, execErr := rt.Transport.Execute(ctx, transport.Request{
		Prompt:         effectivePrompt,
		PriorToolState: priorToolState,
		SessionID:      sess.ID,
		ExtraEnv:       env,
		WorkDir:        req.ProjectRoot,
	}, opts)

	if execErr != nil {
		retryable := req.HeterogeneousRetry
		return nil, retryable, forked, csaerr.Wrap(csaerr.KindRuntime, fmt.Sprintf("spawn %q", tool), execErr)
	}

	if res.Execution.ExitCode != 0 && rateLimited(res.Execution.Output+res.Execution.StderrOutput, rt.RateLimitMarkers) {
		return nil, true, forked, csaerr.New(csaerr.KindRuntime, fmt.Sprintf("tool %q signaled rate limit", tool))
	}
	if res.Execution.ExitCode != 0 && req.HeterogeneousRetry {
		return nil, true, forked, csaerr.New(csaerr.KindRuntime, fmt.Sprintf("tool %q exited %d", tool, res.Execution.ExitCode))
	}

	// Phase 10: post-execution.
	result, retryable, err := p.postExecution(ctx, req, sess, sessionDir, tool, res, hookVars)
	return result, retryable, forked, err
}

// resolveForkFor loads the fork parent, retires its seed-candidate flag if
// the project's git HEAD has moved on since it was created, and resolves
// the fork — degrading to soft fork when that seed is stale (spec §4.6
// "the Tool Selector & Fork Resolver must fall back to soft fork in that
// case").
func (p *Pipeline) resolveForkFor(ctx context.Context, req RunRequest, tool string, rt ToolRuntime) (transport.ForkOutcome, error) {
	parent, err := p.Store.LoadSession(req.ForkFrom)
	if err != nil {
		return transport.ForkOutcome{}, err
	}
	currentHead := session.CurrentGitHead(req.ProjectRoot)
	seedStale := parent.GitHeadAtCreation != "" && currentHead != "" && parent.GitHeadAtCreation != currentHead
	if session.InvalidateStaleSeed(parent, currentHead) {
		if err := p.Store.SaveSession(parent); err != nil {
			return transport.ForkOutcome{}, err
		}
	}
	providerSessionID := parent.Tools[tool].ProviderSessionID
	return transport.ResolveFork(ctx, rt.NativeForker, providerSessionID, seedStale, p.Store.SoftForkContext, req.ForkFrom)
}

func (p *Pipeline) sandboxConfigFor(tool string) *sandbox.Config {
	res := p.Cfg.Resources
	if tc, ok := p.Cfg.Tools[tool]; ok && tc.SandboxOverride != nil {
		res = *tc.SandboxOverride
	}
	mode := sandbox.Mode(res.EnforcementMode)
	if mode == "" {
		mode = sandbox.ModeBestEffort
	}
	cfg := &sandbox.Config{Mode: mode}
	if res.MemoryMaxMB > 0 {
		v := res.MemoryMaxMB
		cfg.MemoryMaxMB = &v
	}
	if res.MemorySwapMaxMB > 0 {
		v := res.MemorySwapMaxMB
		cfg.MemorySwapMaxMB = &v
	}
	if res.PidsMax > 0 {
		v := int64(res.PidsMax)
		cfg.PidsMax = &v
	}
	return cfg
}

func rateLimited(output string, markers []string) bool {
	lower := strings.ToLower(output)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
