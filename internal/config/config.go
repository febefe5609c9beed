// Package config defines the merged configuration shapes the core consumes
// (spec §6). Full TOML schema validation and CLI-driven config editing are
// out of scope for the core (spec §1); this package only loads and merges
// the keys the pipeline, selector, and sandbox actually read.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ResourceConfig holds [resources] keys.
type ResourceConfig struct {
	MinFreeMemoryMB    uint64 `toml:"min_free_memory_mb"`
	IdleTimeoutSeconds uint64 `toml:"idle_timeout_seconds"`
	LivenessDeadSeconds uint64 `toml:"liveness_dead_seconds"`
	EnforcementMode    string `toml:"enforcement_mode"` // required|best_effort|off
	MemoryMaxMB        uint64 `toml:"memory_max_mb"`
	MemorySwapMaxMB    uint64 `toml:"memory_swap_max_mb"`
	NodeHeapLimitMB    uint64 `toml:"node_heap_limit_mb"`
	PidsMax            uint64 `toml:"pids_max"`
}

// ToolConfig holds [tools.<name>] keys.
type ToolConfig struct {
	Enabled          bool              `toml:"enabled"`
	SuppressNotify   bool              `toml:"suppress_notify"`
	Restrictions     []string          `toml:"restrictions"`
	SandboxOverride  *ResourceConfig   `toml:"sandbox"`
	SettingSources   []string          `toml:"setting_sources"`
	ThinkingLock     string            `toml:"thinking_lock"`
	MaxConcurrent    int               `toml:"max_concurrent"`
	Transport        string            `toml:"transport"` // "legacy" | "rpc-adapter"
	Env              map[string]string `toml:"env"`
}

// TierConfig holds a [tiers.<name>] whitelist of model specs.
type TierConfig struct {
	Models []string `toml:"models"`
}

// ReviewDebateConfig holds [review] / [debate] blocks.
type ReviewDebateConfig struct {
	Tool string `toml:"tool"` // "auto" means heterogeneous-to-parent
}

// SessionConfig holds [session] keys.
type SessionConfig struct {
	RetentionDays     int `toml:"retention_days"`
	MaxRecursionDepth int `toml:"max_recursion_depth"`
}

// GcConfig holds [gc] keys.
type GcConfig struct {
	MaxAgeDays          *uint64 `toml:"max_age_days"`
	TranscriptMaxAgeDays uint64 `toml:"transcript_max_age_days"`
	TranscriptMaxSizeMB uint64 `toml:"transcript_max_size_mb"`
}

// ProjectConfig is the [project] block.
type ProjectConfig struct {
	MaxRecursionDepth int `toml:"max_recursion_depth"`
}

// Config is the merged user+project configuration consumed by the core.
type Config struct {
	Project      ProjectConfig                 `toml:"project"`
	Resources    ResourceConfig                `toml:"resources"`
	Tools        map[string]ToolConfig         `toml:"tools"`
	Tiers        map[string]TierConfig         `toml:"tiers"`
	TierMapping  map[string]string             `toml:"tier_mapping"`
	Aliases      map[string]string             `toml:"aliases"`
	Review       ReviewDebateConfig            `toml:"review"`
	Debate       ReviewDebateConfig            `toml:"debate"`
	Preferences  struct {
		ToolPriority []string `toml:"tool_priority"`
	} `toml:"preferences"`
	Session SessionConfig `toml:"session"`
	Gc      GcConfig      `toml:"gc"`

	// globalDisabled tracks tools the user (global) config force-disabled;
	// project config can never re-enable them (spec §6).
	globalDisabled map[string]bool
}

// Default returns baseline defaults matching spec §3/§4 fallbacks.
func Default() *Config {
	return &Config{
		Project:   ProjectConfig{MaxRecursionDepth: 5},
		Resources: ResourceConfig{IdleTimeoutSeconds: 120, LivenessDeadSeconds: 600, EnforcementMode: "best_effort"},
		Tools:     map[string]ToolConfig{},
		Tiers:     map[string]TierConfig{},
		Session:   SessionConfig{RetentionDays: 7, MaxRecursionDepth: 5},
		Gc:        GcConfig{TranscriptMaxAgeDays: 30},
	}
}

// Load reads and merges TOML config files in order, tracking which tools
// the first (global) file disabled so a later project file cannot
// re-enable them. Merging is per block, not per key: a later file's
// [tools.<name>], [tiers.<name>] and map entries replace earlier ones
// whole, and its [resources], [session] and [gc] blocks replace the
// earlier block whole only when they set idle_timeout_seconds,
// retention_days, or transcript_max_age_days/max_age_days respectively;
// otherwise the later block is ignored.
func Load(paths ...string) (*Config, error) {
	merged := Default()
	merged.globalDisabled = map[string]bool{}

	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat config %s: %w", p, err)
		}
		var layer Config
		if _, err := toml.DecodeFile(p, &layer); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
		if i == 0 {
			for name, tc := range layer.Tools {
				if !tc.Enabled {
					merged.globalDisabled[name] = true
				}
			}
		}
		merged.mergeFrom(&layer)
	}
	return merged, nil
}

func (c *Config) mergeFrom(layer *Config) {
	if layer.Project.MaxRecursionDepth != 0 {
		c.Project.MaxRecursionDepth = layer.Project.MaxRecursionDepth
	}
	if layer.Resources.IdleTimeoutSeconds != 0 {
		c.Resources = layer.Resources
	}
	for name, tc := range layer.Tools {
		if c.Tools == nil {
			c.Tools = map[string]ToolConfig{}
		}
		c.Tools[name] = tc
	}
	for name, tier := range layer.Tiers {
		if c.Tiers == nil {
			c.Tiers = map[string]TierConfig{}
		}
		c.Tiers[name] = tier
	}
	for k, v := range layer.TierMapping {
		if c.TierMapping == nil {
			c.TierMapping = map[string]string{}
		}
		c.TierMapping[k] = v
	}
	for k, v := range layer.Aliases {
		if c.Aliases == nil {
			c.Aliases = map[string]string{}
		}
		c.Aliases[k] = v
	}
	if layer.Review.Tool != "" {
		c.Review = layer.Review
	}
	if layer.Debate.Tool != "" {
		c.Debate = layer.Debate
	}
	if len(layer.Preferences.ToolPriority) > 0 {
		c.Preferences.ToolPriority = layer.Preferences.ToolPriority
	}
	if layer.Session.RetentionDays != 0 {
		c.Session = layer.Session
	}
	if layer.Gc.TranscriptMaxAgeDays != 0 || layer.Gc.MaxAgeDays != nil {
		c.Gc = layer.Gc
	}
}

// IsToolEnabled reports whether a tool is enabled, honoring the
// global-disabled hard override (spec §6, §8 property 12).
func (c *Config) IsToolEnabled(name string) bool {
	if c.globalDisabled != nil && c.globalDisabled[name] {
		return false
	}
	tc, ok := c.Tools[name]
	if !ok {
		return false
	}
	return tc.Enabled
}

// MaxConcurrent returns the configured slot count for a tool, defaulting to 1.
func (c *Config) MaxConcurrent(tool string) int {
	if tc, ok := c.Tools[tool]; ok && tc.MaxConcurrent > 0 {
		return tc.MaxConcurrent
	}
	return 1
}
