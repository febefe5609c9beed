// Package toolselect implements the Tool Selector & Fork Resolver (spec
// §4.6): picks which tool a review/debate/fork call runs with, enforces
// tier whitelists and thinking-budget locks, and drives the heterogeneous
// runtime and rate-limit failover policies.
package toolselect

import (
	"fmt"
	"strings"

	"github.com/csa-project/csa/internal/config"
	"github.com/csa-project/csa/internal/csaerr"
)

// ModelSpec is the CLI's tool/provider/model/budget quartet (spec §4.6).
type ModelSpec struct {
	Tool     string
	Provider string
	Model    string
	Budget   string
}

// heterogeneousPairs is the hard-coded fallback mapping (spec §4.6 rule 4).
var heterogeneousPairs = map[string]string{
	"claude-code": "codex",
	"codex":       "claude-code",
}

// Request carries every input the selector rules read (spec §4.6).
type Request struct {
	CLIToolOverride         string
	CLIModelSpec            *ModelSpec
	ForceOverrideUserConfig bool
	ParentTool              string
	Block                   string // "review" | "debate" | ""; selects cfg.Review/cfg.Debate
	EnforceTier             bool
}

// Decision is the selector's chosen tool and, if present, its model spec.
type Decision struct {
	Tool      string
	ModelSpec *ModelSpec
}

// Select runs the first-match-wins rule chain (spec §4.6).
func Select(cfg *config.Config, req Request) (Decision, error) {
	if req.CLIToolOverride != "" {
		if !req.ForceOverrideUserConfig && !cfg.IsToolEnabled(req.CLIToolOverride) {
			return Decision{}, csaerr.New(csaerr.KindConfiguration, fmt.Sprintf("tool %q is disabled; pass --force-override-user-config to bypass", req.CLIToolOverride))
		}
		return applyTierAndLock(cfg, req, Decision{Tool: req.CLIToolOverride, ModelSpec: req.CLIModelSpec})
	}

	if block := blockConfig(cfg, req.Block); block != nil && block.Tool != "" {
		tool := block.Tool
		if tool == "auto" {
			tool = heterogeneousPairs[req.ParentTool]
			if tool == "" {
				return Decision{}, configureExplicitlyError(req)
			}
		}
		return applyTierAndLock(cfg, req, Decision{Tool: tool})
	}

	if tool := priorityPick(cfg, req.ParentTool); tool != "" {
		return applyTierAndLock(cfg, req, Decision{Tool: tool})
	}

	if tool := heterogeneousPairs[req.ParentTool]; tool != "" && cfg.IsToolEnabled(tool) {
		return applyTierAndLock(cfg, req, Decision{Tool: tool})
	}

	return Decision{}, configureExplicitlyError(req)
}

func blockConfig(cfg *config.Config, block string) *config.ReviewDebateConfig {
	switch block {
	case "review":
		return &cfg.Review
	case "debate":
		return &cfg.Debate
	default:
		return nil
	}
}

// priorityPick enumerates enabled tools sorted by tool_priority and picks
// the first that isn't the parent tool (spec §4.6 rule 3).
func priorityPick(cfg *config.Config, parentTool string) string {
	for _, tool := range cfg.Preferences.ToolPriority {
		if tool == parentTool {
			continue
		}
		if cfg.IsToolEnabled(tool) {
			return tool
		}
	}
	return ""
}

func configureExplicitlyError(req Request) error {
	return csaerr.New(csaerr.KindConfiguration, fmt.Sprintf(
		"no tool selection rule matched for parent tool %q; configure tool_priority or [%s] explicitly in the global or project config",
		req.ParentTool, defaultString(req.Block, "review"),
	))
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// applyTierAndLock enforces the tier whitelist (unless EnforceTier is
// false, used by review/debate cross-checks) and silently overrides any
// CLI thinking budget with a configured thinking_lock (spec §4.6).
func applyTierAndLock(cfg *config.Config, req Request, d Decision) (Decision, error) {
	if req.EnforceTier {
		if err := checkTierWhitelist(cfg, d); err != nil {
			return Decision{}, err
		}
	}

	if lock := thinkingLock(cfg, d.Tool); lock != "" {
		if d.ModelSpec == nil {
			d.ModelSpec = &ModelSpec{Tool: d.Tool}
		}
		d.ModelSpec.Budget = lock
	}
	return d, nil
}

func thinkingLock(cfg *config.Config, tool string) string {
	if tc, ok := cfg.Tools[tool]; ok && tc.ThinkingLock != "" {
		return tc.ThinkingLock
	}
	return ""
}

// checkTierWhitelist requires the chosen tool (and model, if specified)
// to appear in some configured tier, when tiers are configured at all.
func checkTierWhitelist(cfg *config.Config, d Decision) error {
	if len(cfg.Tiers) == 0 {
		return nil
	}
	want := d.Tool
	if d.ModelSpec != nil && d.ModelSpec.Model != "" {
		want = d.Tool + "/" + d.ModelSpec.Model
	}
	for _, tier := range cfg.Tiers {
		for _, m := range tier.Models {
			if m == d.Tool || m == want || (want == d.Tool && strings.HasPrefix(m, d.Tool+"/")) {
				return nil
			}
		}
	}
	return csaerr.New(csaerr.KindConfiguration, fmt.Sprintf("tool %q is not whitelisted under any configured tier", d.Tool))
}
