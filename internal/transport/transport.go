// Package transport drives heterogeneous coding-agent CLIs as
// subprocesses, in either of the two flavors spec §4.5 describes: a
// one-shot legacy spawn or a long-lived stdio JSON-RPC adapter.
package transport

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/csa-project/csa/internal/sandbox"
)

// envVarsNeverInherited are stripped from every spawned child regardless of
// what the parent process happens to have set, so a recursion-detection
// guard belonging to a different agent runtime can never leak into a
// child's subprocess tree (spec §6).
var envVarsNeverInherited = []string{"CLAUDECODE", "CLAUDE_CODE_ENTRYPOINT"}

// filteredEnviron returns os.Environ() with envVarsNeverInherited removed.
func filteredEnviron() []string {
	base := os.Environ()
	out := make([]string, 0, len(base))
	for _, kv := range base {
		stripped := false
		for _, name := range envVarsNeverInherited {
			if strings.HasPrefix(kv, name+"=") {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	return out
}

// StreamMode controls whether child stdout/stderr is echoed to the
// parent's stderr as it arrives, or only buffered for the final result.
type StreamMode string

const (
	StreamBufferOnly  StreamMode = "buffer-only"
	StreamTeeToStderr StreamMode = "tee-to-stderr"
)

// Options are the knobs shared by both transport flavors (spec §4.5).
type Options struct {
	StreamMode          StreamMode
	IdleTimeout         time.Duration
	LivenessDeadTimeout time.Duration
	TerminationGrace    time.Duration
	SpoolPath           string // if set, enables the liveness probe during idle escalation
	LockFilePath        string // lock file recording the child's PID, for the liveness probe
	Sandbox             *sandbox.Config
	ACPSettingSources   []string
}

// DefaultOptions fills in the spec's default timeouts (spec §4.5.1).
func DefaultOptions() Options {
	return Options{
		StreamMode:          StreamBufferOnly,
		IdleTimeout:         2 * time.Minute,
		LivenessDeadTimeout: 600 * time.Second,
		TerminationGrace:    10 * time.Second,
	}
}

// Execution is the result of running one prompt through a transport.
type Execution struct {
	Output       string
	StderrOutput string
	ExitCode     int
	Summary      string
}

// Event is one streamed unit from the RPC-adapter transport (agent
// message, thought, tool call, plan update, ...); Legacy transports never
// emit any.
type Event struct {
	Kind string
	Data map[string]any
}

// Result is what Execute returns: the captured execution plus, for
// transports that support resumable sessions, the provider-assigned
// session id.
type Result struct {
	Execution         Execution
	ProviderSessionID string
	Events            []Event
}

// Request is one prompt turn to run through a transport.
type Request struct {
	Prompt          string
	PriorToolState  string // provider_session_id to resume, if any
	SessionID       string
	ExtraEnv        map[string]string
	WorkDir         string
}

// Transport is the shared contract both flavors implement (spec §4.5).
type Transport interface {
	Execute(ctx context.Context, req Request, opts Options) (Result, error)
}
