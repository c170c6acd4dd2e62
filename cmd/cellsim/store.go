package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/store"
)

// addSinkFlags registers the flags selecting the lineage store.
func addSinkFlags(cmd *cobra.Command) {
	cmd.Flags().String("sink", "", "Lineage store: memory, sqlite or redis (default from config)")
	cmd.Flags().String("redis-addr", "", "Redis address host:port (default from config)")
	cmd.Flags().String("namespace", "", "Redis key namespace (default: new UUID for run)")
}

// applySinkFlags copies explicitly set sink flags into cfg.
func applySinkFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("sink") {
		cfg.Sink.Type, _ = cmd.Flags().GetString("sink")
	}
	if cmd.Flags().Changed("redis-addr") {
		cfg.Sink.RedisAddr, _ = cmd.Flags().GetString("redis-addr")
	}
	if cmd.Flags().Changed("namespace") {
		cfg.Sink.Namespace, _ = cmd.Flags().GetString("namespace")
	}
}

// openStore opens the lineage store selected by cfg.Sink.
func openStore(ctx context.Context, cfg *config.Config, root string) (store.LineageStore, error) {
	switch cfg.Sink.Type {
	case config.SinkMemory:
		return store.NewInMemoryLineageStore(), nil
	case config.SinkSQLite:
		s, err := store.NewSQLiteLineageStore(root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkRedis:
		s, err := store.NewRedisLineageStore(ctx, &redis.Options{
			Addr:     cfg.Sink.RedisAddr,
			Password: cfg.Sink.RedisPassword,
		}, cfg.Sink.Namespace)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("invalid sink: %s (valid: memory, sqlite, redis)", cfg.Sink.Type)
	}
}

// openExistingStore opens a store for reading. The memory sink never has
// anything to read and Redis needs an explicit namespace.
func openExistingStore(ctx context.Context, cmd *cobra.Command) (store.LineageStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	applySinkFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch {
	case cfg.Sink.Type == config.SinkMemory:
		return nil, fmt.Errorf("the memory sink keeps nothing between runs; use --sink sqlite or redis")
	case cfg.Sink.Type == config.SinkRedis && cfg.Sink.Namespace == "":
		return nil, fmt.Errorf("--namespace is required to read from Redis")
	}

	root, _ := cmd.Flags().GetString("root")
	ls, err := openStore(ctx, cfg, root)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return ls, nil
}
