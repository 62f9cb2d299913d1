// Package main is the codeframe command: the HTTP API, the cluster-label
// worker pool and maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/codeframe-backend/internal/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "codeframe",
	Short:         "Codeframe generation backend",
	Long:          "Builds hierarchical codeframes from open-ended survey answers: embeddings, clustering, LLM labeling and tree editing.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (default: codeframe.yaml search path)")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap opens the database; wire additionally builds clients and
// services.
func bootstrap(ctx context.Context, wire bool) (*app.App, error) {
	a, err := app.New(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if wire {
		if err := a.Wire(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}
