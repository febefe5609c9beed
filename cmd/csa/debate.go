package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csa-project/csa/internal/pipeline"
	"github.com/csa-project/csa/internal/toolselect"
)

var (
	debateFlagParentTool string
	debateFlagRounds     int
)

var debateCmd = &cobra.Command{
	Use:   "debate [prompt]",
	Short: "Run a multi-round debate between a tool and its heterogeneous counterpart",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDebate,
}

func init() {
	f := debateCmd.Flags()
	f.StringVar(&debateFlagParentTool, "parent-tool", "", "the tool starting the debate")
	f.IntVar(&debateFlagRounds, "rounds", 2, "number of debate rounds")
}

func runDebate(cmd *cobra.Command, args []string) error {
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

	decision, err := toolselect.Select(cfg, toolselect.Request{Block: "debate", ParentTool: debateFlagParentTool})
	if err != nil {
		return err
	}

	currentTool := decision.Tool
	parentTool := debateFlagParentTool
	turnPrompt := prompt
	var sessionID string

	for round := 0; round < debateFlagRounds; round++ {
		res, err := p.Run(context.Background(), pipeline.RunRequest{
			Tool:             currentTool,
			Prompt:           turnPrompt,
			ProjectPath:      root,
			ProjectRoot:      root,
			SessionID:        sessionID,
			TaskType:         "debate",
			StructuredOutput: true,
		})
		if err != nil {
			return err
		}
		sessionID = res.Session.ID
		fmt.Printf("--- round %d: %s ---\n", round+1, currentTool)
		printRunResultText(res)

		if res.Result != nil {
			turnPrompt = "Respond to the following counterpoint:\n\n" + res.Result.Summary
		}

		next, err := toolselect.Select(cfg, toolselect.Request{Block: "debate", ParentTool: currentTool})
		if err != nil {
			break
		}
		parentTool, currentTool = currentTool, next.Tool
	}
	_ = parentTool
	return nil
}
