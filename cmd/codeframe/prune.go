package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
)

var (
	pruneKeepCompleted int
	pruneKeepFailed    int
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old settled cluster jobs beyond the retention limits",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().IntVar(&pruneKeepCompleted, "keep-completed", 0, "Completed jobs to keep (default: worker.keep_completed)")
	pruneCmd.Flags().IntVar(&pruneKeepFailed, "keep-failed", 0, "Failed jobs to keep (default: worker.keep_failed)")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	keepCompleted := pruneKeepCompleted
	if keepCompleted <= 0 {
		keepCompleted = a.Cfg.Worker.KeepCompleted
	}
	keepFailed := pruneKeepFailed
	if keepFailed <= 0 {
		keepFailed = a.Cfg.Worker.KeepFailed
	}
	completed, failed, err := a.Queue.Prune(dbctx.Context{Ctx: cmd.Context()}, keepCompleted, keepFailed)
	if err != nil {
		return err
	}
	a.Log.Info("Pruned cluster jobs", "completed", completed, "failed", failed)
	return nil
}
