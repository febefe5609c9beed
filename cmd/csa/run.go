package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/csa-project/csa/internal/pipeline"
	"github.com/csa-project/csa/internal/toolselect"
	"github.com/csa-project/csa/internal/transport"
)

var (
	runFlagTool               string
	runFlagSession            string
	runFlagForkFrom           string
	runFlagForkCall           bool
	runFlagParent             string
	runFlagEphemeral          bool
	runFlagForce              bool
	runFlagForceOverrideUser  bool
	runFlagNoFailover         bool
	runFlagWait               bool
	runFlagIdleTimeout        time.Duration
	runFlagNoIdleTimeout      bool
	runFlagTimeout            time.Duration
	runFlagNoMemory           bool
	runFlagStreamStdout       bool
	runFlagOutputFormat       string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a natural-language request against a resolved tool and session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlagTool, "tool", "", "explicit tool override (spec §4.6 rule 1)")
	f.StringVar(&runFlagSession, "session", "", "resume this session id")
	f.StringVar(&runFlagForkFrom, "fork-from", "", "fork a new session from this parent session id")
	f.BoolVar(&runFlagForkCall, "fork-call", false, "run as a fork-call child emitting a return packet")
	f.StringVar(&runFlagParent, "parent", "", "parent session id for a delegated (non-fork) child")
	f.BoolVar(&runFlagEphemeral, "ephemeral", false, "delete the session directory after the run completes")
	f.BoolVar(&runFlagForce, "force", false, "accepted but has no effect on the run")
	f.BoolVar(&runFlagForceOverrideUser, "force-override-user-config", false, "bypass the tool-enabled gate for --tool")
	f.BoolVar(&runFlagNoFailover, "no-failover", false, "disable failover across candidate tools")
	f.BoolVar(&runFlagWait, "wait", false, "wait for a free slot instead of failing over")
	f.DurationVar(&runFlagIdleTimeout, "idle-timeout", 0, "override the idle timeout")
	f.BoolVar(&runFlagNoIdleTimeout, "no-idle-timeout", false, "accepted; the configured idle timeout still applies")
	f.DurationVar(&runFlagTimeout, "timeout", 0, "wall-clock timeout for the whole run")
	f.BoolVar(&runFlagNoMemory, "no-memory", false, "suppress memory-injection")
	f.BoolVar(&runFlagStreamStdout, "stream-stdout", false, "tee child output to stderr as it arrives")
	f.StringVar(&runFlagOutputFormat, "output-format", "text", "text|json")
}

func readPrompt(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg, root)
	if err != nil {
		return err
	}

	decision, err := toolselect.Select(cfg, toolselect.Request{
		CLIToolOverride:         runFlagTool,
		ForceOverrideUserConfig: runFlagForceOverrideUser,
		EnforceTier:             true,
	})
	if err != nil {
		return err
	}

	streamMode := transport.StreamBufferOnly
	if runFlagStreamStdout {
		streamMode = transport.StreamTeeToStderr
	}

	req := pipeline.RunRequest{
		Tool:                decision.Tool,
		Prompt:              prompt,
		ProjectPath:         root,
		ProjectRoot:         root,
		SessionID:           runFlagSession,
		ParentID:            runFlagParent,
		ForkFrom:            runFlagForkFrom,
		ForkCall:            runFlagForkCall,
		Ephemeral:           runFlagEphemeral,
		NoMemory:            runFlagNoMemory,
		NoFailover:          runFlagNoFailover,
		Wait:                runFlagWait,
		StreamMode:          streamMode,
		IdleTimeout:         runFlagIdleTimeout,
		StructuredOutput:    runFlagForkCall,
	}
	if runFlagNoIdleTimeout {
		req.IdleTimeout = 0
	}

	ctx := context.Background()
	if runFlagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFlagTimeout)
		defer cancel()
	}

	res, runErr := p.Run(ctx, req)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(exitCodeFor(runErr))
	}

	if runFlagOutputFormat == "json" {
		printRunResultJSON(res)
	} else {
		printRunResultText(res)
	}
	os.Exit(exitCodeForResult(res))
	return nil
}
