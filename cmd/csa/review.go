package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-project/csa/internal/pipeline"
	"github.com/csa-project/csa/internal/toolselect"
)

var (
	reviewFlagParentTool    string
	reviewFlagReviewers     int
	reviewFlagConsensus     string
	reviewFlagAllowFallback bool
)

var reviewCmd = &cobra.Command{
	Use:   "review [prompt]",
	Short: "Cross-check a prompt with one or more heterogeneous reviewer tools",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.StringVar(&reviewFlagParentTool, "parent-tool", "", "the tool requesting review, for heterogeneous selection")
	f.IntVar(&reviewFlagReviewers, "reviewers", 1, "upper bound on reviewer runs; every pass selects the same tool, so at most one runs")
	f.StringVar(&reviewFlagConsensus, "consensus", "majority", "majority|weighted|unanimous (advisory; reported in output)")
	f.BoolVar(&reviewFlagAllowFallback, "allow-fallback", false, "allow non-tier-whitelisted tools for review")
}

func runReview(cmd *cobra.Command, args []string) error {
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

	results := make([]*pipeline.RunResult, 0, reviewFlagReviewers)
	tried := map[string]bool{}
	for i := 0; i < reviewFlagReviewers; i++ {
		decision, err := toolselect.Select(cfg, toolselect.Request{
			Block:       "review",
			ParentTool:  reviewFlagParentTool,
			EnforceTier: !reviewFlagAllowFallback,
		})
		if err != nil {
			return err
		}
		if tried[decision.Tool] {
			// Select gets the same request on every pass and returns the
			// same tool, so the loop stops here on the second pass: at most
			// one reviewer runs.
			break
		}
		tried[decision.Tool] = true

		res, err := p.Run(context.Background(), pipeline.RunRequest{
			Tool:             decision.Tool,
			Prompt:           prompt,
			ProjectPath:      root,
			ProjectRoot:      root,
			TaskType:         "review",
			StructuredOutput: true,
		})
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	fmt.Printf("consensus: %s across %d reviewer(s)\n", reviewFlagConsensus, len(results))
	for _, r := range results {
		printRunResultText(r)
	}
	if len(results) == 0 {
		os.Exit(1)
	}
	return nil
}
