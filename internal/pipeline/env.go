package pipeline

import (
	"fmt"

	"github.com/csa-project/csa/internal/config"
)

// recursionEnvVar is read to detect the invoker's own meta-session id for
// the child-of-self guard (spec §4.7 step 1).
const recursionEnvVar = "CSA_SESSION_ID"

// strippedEnvVars are never inherited by children regardless of parent,
// so recursion-detection guards belonging to a *different* agent runtime
// can't leak into this one's subprocess tree (spec §6).
var strippedEnvVars = []string{"CLAUDECODE", "CLAUDE_CODE_ENTRYPOINT"}

// buildChildEnv assembles the env vars injected into every spawned child
// (spec §6), plus any tool-specific extras from config.
func buildChildEnv(cfg *config.Config, tool string, sess childEnvInputs) map[string]string {
	env := map[string]string{
		"CSA_SESSION_ID":   sess.SessionID,
		"CSA_SESSION_DIR":  sess.SessionDir,
		"CSA_DEPTH":        fmt.Sprintf("%d", sess.Depth),
		"CSA_PROJECT_ROOT": sess.ProjectRoot,
		"CSA_TOOL":         tool,
	}
	if sess.ParentSessionID != "" {
		env["CSA_PARENT_SESSION"] = sess.ParentSessionID
	}

	if tc, ok := cfg.Tools[tool]; ok {
		if tc.SuppressNotify {
			env["CSA_SUPPRESS_NOTIFY"] = "1"
		}
		for k, v := range tc.Env {
			env[k] = v
		}
	}

	if cfg.Resources.NodeHeapLimitMB > 0 {
		env["NODE_OPTIONS"] = fmt.Sprintf("--max-old-space-size=%d", cfg.Resources.NodeHeapLimitMB)
	}

	for _, k := range strippedEnvVars {
		delete(env, k)
	}

	return env
}

// childEnvInputs is the subset of run state buildChildEnv needs.
type childEnvInputs struct {
	SessionID       string
	SessionDir      string
	Depth           int
	ProjectRoot     string
	ParentSessionID string
}
