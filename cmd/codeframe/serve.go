package main

import (
	"context"

	"github.com/spf13/cobra"
)

var serveNoWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the worker pool unless --no-worker)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "Do not start the in-process worker pool")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Log.Info("Server listening", "address", a.Cfg.Server.Addr)
	serve := func(ctx context.Context) error { return a.Server().Run(ctx, a.Cfg.Server.Addr) }
	if serveNoWorker {
		return serve(ctx)
	}
	return serveWithWorker(ctx, a.Services.Worker, serve)
}

type backgroundWorker interface {
	Start(ctx context.Context)
	Wait()
}

// serveWithWorker runs serve alongside w. The worker context is cancelled
// on any return from serve, so a server that fails to start does not leave
// Wait blocked.
func serveWithWorker(parent context.Context, w backgroundWorker, serve func(context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	w.Start(ctx)
	defer func() {
		cancel()
		w.Wait()
	}()
	return serve(ctx)
}
