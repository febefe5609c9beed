package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/csa-project/csa/internal/pipeline"
)

func printRunResultText(res *pipeline.RunResult) {
	if res == nil {
		return
	}
	fmt.Printf("session: %s\n", res.Session.ID)
	fmt.Printf("tool: %s\n", res.Tool)
	if res.Result != nil {
		fmt.Printf("status: %s (exit %d)\n", res.Result.Status, res.Result.ExitCode)
		fmt.Printf("summary: %s\n", res.Result.Summary)
	}
	if res.OutputIndex != nil {
		fmt.Printf("sections: %d (%d tokens)\n", len(res.OutputIndex.Sections), res.OutputIndex.TotalTokens)
	}
	if res.ReturnPacket != nil {
		fmt.Printf("return-packet status: %s\n", res.ReturnPacket.Status)
	}
}

func printRunResultJSON(res *pipeline.RunResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}
