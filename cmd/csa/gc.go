package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-project/csa/internal/gc"
	"github.com/csa-project/csa/internal/session"
)

var (
	gcFlagDryRun     bool
	gcFlagMaxAgeDays uint64
	gcFlagGlobal     bool
	gcFlagOutput     string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep stale locks, orphan sessions, and aged state (spec §4.8)",
	RunE:  runGC,
}

func init() {
	f := gcCmd.Flags()
	f.BoolVar(&gcFlagDryRun, "dry-run", false, "report what would be removed without writing")
	f.Uint64Var(&gcFlagMaxAgeDays, "max-age-days", 0, "delete sessions older than this many days (0 = unset)")
	f.BoolVar(&gcFlagGlobal, "global", false, "sweep every project discovered under the base state root")
	f.StringVar(&gcFlagOutput, "output-format", "text", "text|json")
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gcCfg := gc.FromAppConfig(cfg, gcFlagDryRun)
	if gcFlagMaxAgeDays > 0 {
		gcCfg.MaxAgeDays = &gcFlagMaxAgeDays
	}

	stateRoot := flagStateRoot
	if stateRoot == "" {
		stateRoot = session.DefaultStateRoot()
	}

	var sum *gc.Summary
	if gcFlagGlobal {
		sum, err = gc.RunGlobal(stateRoot, stateRoot+"/slots", gcCfg)
	} else {
		var root string
		root, err = projectRoot()
		if err == nil {
			projStateRoot := session.ProjectStateRoot(stateRoot, root)
			sum, err = gc.RunProject(projStateRoot, gcCfg)
		}
	}
	if err != nil {
		return err
	}

	if gcFlagOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	for _, l := range sum.Lines() {
		fmt.Println(l)
	}
	return nil
}
