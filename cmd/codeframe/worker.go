package main

import (
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the cluster-label worker pool without the HTTP API",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Services.Worker.Start(ctx)
	<-ctx.Done()
	a.Log.Info("Shutting down worker pool")
	a.Services.Worker.Wait()
	return nil
}
