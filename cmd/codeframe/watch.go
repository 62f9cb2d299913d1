package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/codeframe-backend/internal/clients/redis"
	types "github.com/yungbote/codeframe-backend/internal/domain"
)

var watchCmd = &cobra.Command{
	Use:   "watch [generation-id]",
	Short: "Print generation progress events as JSON lines (requires redis)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var only uuid.UUID
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid generation id: %w", err)
		}
		only = id
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	a, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Cfg.Redis.Addr == "" {
		return fmt.Errorf("watch requires redis.addr")
	}
	rdb, err := redis.NewClient(redis.Config{
		Addr:     a.Cfg.Redis.Addr,
		Password: a.Cfg.Redis.Password,
		DB:       a.Cfg.Redis.DB,
		Prefix:   a.Cfg.Redis.Prefix,
	}, a.Log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	out := json.NewEncoder(cmd.OutOrStdout())
	bus := redis.NewProgressBus(rdb, a.Cfg.Redis.Prefix, a.Log)
	err = bus.Subscribe(ctx, func(ev redis.ProgressEvent) {
		if only != uuid.Nil && ev.GenerationID != only {
			return
		}
		_ = out.Encode(ev)
		// A single watched generation ends the command once it settles.
		if only != uuid.Nil && types.GenerationStatus(ev.Status).Terminal() {
			cancel()
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
