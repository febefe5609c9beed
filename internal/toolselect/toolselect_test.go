package toolselect

import (
	"strings"
	"testing"

	"github.com/csa-project/csa/internal/config"
)

func enabledConfig(tools ...string) *config.Config {
	cfg := config.Default()
	for _, t := range tools {
		cfg.Tools[t] = config.ToolConfig{Enabled: true}
	}
	return cfg
}

func TestSelect_CLIOverrideWins(t *testing.T) {
	cfg := enabledConfig("codex")
	d, err := Select(cfg, Request{CLIToolOverride: "codex"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex", d.Tool)
	}
}

func TestSelect_CLIOverrideDisabledRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Tools["codex"] = config.ToolConfig{Enabled: false}
	_, err := Select(cfg, Request{CLIToolOverride: "codex"})
	if err == nil {
		t.Fatalf("expected error for disabled tool override")
	}
}

func TestSelect_CLIOverrideForceBypassesDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Tools["codex"] = config.ToolConfig{Enabled: false}
	d, err := Select(cfg, Request{CLIToolOverride: "codex", ForceOverrideUserConfig: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex", d.Tool)
	}
}

func TestSelect_ReviewBlockAuto(t *testing.T) {
	cfg := enabledConfig("claude-code", "codex")
	cfg.Review = config.ReviewDebateConfig{Tool: "auto"}
	d, err := Select(cfg, Request{Block: "review", ParentTool: "claude-code"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex (heterogeneous to claude-code)", d.Tool)
	}
}

func TestSelect_ReviewBlockAutoNoMappingErrors(t *testing.T) {
	cfg := enabledConfig("gemini")
	cfg.Review = config.ReviewDebateConfig{Tool: "auto"}
	_, err := Select(cfg, Request{Block: "review", ParentTool: "gemini"})
	if err == nil {
		t.Fatalf("expected configure-explicitly error")
	}
	if !strings.Contains(err.Error(), "tool_priority") {
		t.Errorf("error should name config paths to fix: %v", err)
	}
}

func TestSelect_PriorityPickSkipsParent(t *testing.T) {
	cfg := enabledConfig("claude-code", "codex", "gemini")
	cfg.Preferences.ToolPriority = []string{"claude-code", "codex", "gemini"}
	d, err := Select(cfg, Request{ParentTool: "claude-code"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex (first priority entry != parent)", d.Tool)
	}
}

func TestSelect_HardcodedHeterogeneousFallback(t *testing.T) {
	cfg := enabledConfig("codex")
	d, err := Select(cfg, Request{ParentTool: "claude-code"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex", d.Tool)
	}
}

func TestSelect_AllRulesFailErrorsExplicitly(t *testing.T) {
	cfg := config.Default()
	_, err := Select(cfg, Request{ParentTool: "claude-code"})
	if err == nil {
		t.Fatalf("expected configure-explicitly error")
	}
}

func TestSelect_TierWhitelistEnforced(t *testing.T) {
	cfg := enabledConfig("codex")
	cfg.Tiers["default"] = config.TierConfig{Models: []string{"claude-code/sonnet-4-5"}}
	_, err := Select(cfg, Request{CLIToolOverride: "codex", EnforceTier: true})
	if err == nil {
		t.Fatalf("expected tier-whitelist rejection")
	}
}

func TestSelect_TierWhitelistSkippedWhenNotEnforced(t *testing.T) {
	cfg := enabledConfig("codex")
	cfg.Tiers["default"] = config.TierConfig{Models: []string{"claude-code/sonnet-4-5"}}
	d, err := Select(cfg, Request{CLIToolOverride: "codex", EnforceTier: false})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Tool != "codex" {
		t.Errorf("Tool = %q, want codex", d.Tool)
	}
}

func TestSelect_ThinkingLockOverridesCLIBudget(t *testing.T) {
	cfg := enabledConfig("codex")
	cfg.Tools["codex"] = config.ToolConfig{Enabled: true, ThinkingLock: "high"}
	d, err := Select(cfg, Request{CLIToolOverride: "codex", CLIModelSpec: &ModelSpec{Tool: "codex", Budget: "low"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.ModelSpec == nil || d.ModelSpec.Budget != "high" {
		t.Errorf("ModelSpec.Budget = %+v, want locked to high", d.ModelSpec)
	}
}
