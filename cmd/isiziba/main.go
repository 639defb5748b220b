// isiziba runs the marketplace protocol hub: the REST and WebSocket surface,
// the negotiation engine, the Redis event feed and the post-negotiation
// coach. Configuration comes from MARKET_* environment variables; flags
// override the most commonly tuned values.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	isiziba "github.com/CodeUnit7/Isiziba"
	"github.com/CodeUnit7/Isiziba/config"
	"github.com/CodeUnit7/Isiziba/logging"
	"github.com/CodeUnit7/Isiziba/model"
	anthropicmodel "github.com/CodeUnit7/Isiziba/model/anthropic"
	openaimodel "github.com/CodeUnit7/Isiziba/model/openai"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()

	flags := pflag.NewFlagSet("isiziba", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (empty for in-memory)")
	flags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the event feed (empty to disable)")
	flags.StringVar(&cfg.Model, "model", cfg.Model, "coach backend: anthropic, openai or empty to disable")
	flags.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "negotiation step limit")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := logging.LogLevelInfo
	if *debug {
		level = logging.LogLevelDebug
	}
	logger := logging.NewSlogLogger(level, "json", false)

	coachModel, err := selectModel(cfg.Model)
	if err != nil {
		return err
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	market, err := isiziba.New(func(o *isiziba.Options) {
		o.Config = cfg
		o.Model = coachModel
		o.Redis = rdb
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting marketplace hub",
		"addr", cfg.Addr,
		"db", cfg.DBPath,
		"redis", cfg.RedisAddr,
		"model", cfg.Model,
		"max_steps", cfg.MaxSteps,
	)
	return market.Run(ctx)
}

func selectModel(name string) (model.Model, error) {
	switch name {
	case "":
		return nil, nil
	case "anthropic":
		return anthropicmodel.NewModel(), nil
	case "openai":
		return openaimodel.NewModel(), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", name)
	}
}
