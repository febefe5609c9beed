package main

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/csa-project/csa/internal/config"
	"github.com/csa-project/csa/internal/obslog"
	"github.com/csa-project/csa/internal/pipeline"
	"github.com/csa-project/csa/internal/promptctx"
	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/transport"
)

// projectRoot resolves the directory a command runs against, honoring
// --cd (spec §6 CLI surface).
func projectRoot() (string, error) {
	if flagCd != "" {
		return flagCd, nil
	}
	return os.Getwd()
}

// loadConfig merges the global then project TOML layers (spec §6
// "Configuration. Two TOML files are merged (user + project)").
func loadConfig() (*config.Config, error) {
	return config.Load(flagGlobalCfg, flagProjectCfg)
}

// buildPipeline wires a Pipeline against the given project root, using the
// per-tool ArgvBuilder/RPC-command conventions below for the tool names the
// spec names throughout (claude-code, codex, gemini, ...).
func buildPipeline(cfg *config.Config, root string) (*pipeline.Pipeline, error) {
	obs, err := obslog.New(zapcore.InfoLevel, "console")
	if err != nil {
		return nil, err
	}

	stateRoot := flagStateRoot
	if stateRoot == "" {
		stateRoot = session.DefaultStateRoot()
	}
	projStateRoot := session.ProjectStateRoot(stateRoot, root)
	slotsRoot := stateRoot + "/slots"

	tools := map[string]pipeline.ToolRuntime{}
	for name, tc := range cfg.Tools {
		if !tc.Enabled {
			continue
		}
		tools[name] = toolRuntimeFor(name, tc)
	}

	return &pipeline.Pipeline{
		Cfg:       cfg,
		Store:     session.NewStore(projStateRoot),
		StateRoot: projStateRoot,
		SlotsRoot: slotsRoot,
		Tools:     tools,
		Memory:    promptctx.FileMemoryStore{},
		Obs:       obs,
	}, nil
}

// toolRuntimeFor builds the Transport + fork/rate-limit metadata for one
// named tool. claude-code and codex drive a long-lived RPC-adapter session
// (spec §4.5 "native-binary tools use legacy, claude-code and codex use
// RPC-adapter"); every other configured name gets the legacy one-shot
// transport with a generic `<tool> --prompt - [--resume <id>]` argv
// layout (the prompt itself goes on stdin), since individual tools' exact flag conventions are themselves an
// out-of-scope collaborator interface (spec §1).
func toolRuntimeFor(name string, tc config.ToolConfig) pipeline.ToolRuntime {
	rt := pipeline.ToolRuntime{
		ReadOnly:         hasRestriction(tc.Restrictions, "read-only"),
		RateLimitMarkers: []string{"rate limit", "429", "quota exceeded"},
	}

	transportKind := tc.Transport
	if transportKind == "" {
		if name == "claude-code" || name == "codex" {
			transportKind = "rpc-adapter"
		} else {
			transportKind = "legacy"
		}
	}

	switch transportKind {
	case "rpc-adapter":
		rpc := transport.NewRPCAdapterTransport(name, []string{"--acp"})
		rt.Transport = rpc
		rt.NativeForker = rpc
	default:
		rt.Transport = transport.NewLegacyTransport(legacyArgvFor(name))
	}
	return rt
}

func legacyArgvFor(name string) transport.ArgvBuilder {
	return func(req transport.Request) (string, []string, string) {
		args := []string{"--prompt", "-"}
		if req.PriorToolState != "" {
			args = append(args, "--resume", req.PriorToolState)
		}
		return name, args, req.Prompt
	}
}

func hasRestriction(restrictions []string, want string) bool {
	for _, r := range restrictions {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}
