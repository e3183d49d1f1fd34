package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/ladder/internal/simulate"
	"github.com/okian/ladder/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &simulate.Config{}
	var logFormat string

	flagSet := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	flagSet.IntVarP(&cfg.Users, "users", "n", 50, "number of simulated players")
	flagSet.DurationVarP(&cfg.Duration, "duration", "d", time.Minute, "how long players keep playing")
	flagSet.DurationVar(&cfg.UpdateInterval, "interval", time.Second, "mean delay between one player's submissions")
	flagSet.Int64Var(&cfg.MaxScore, "max-score", 10_000, "scores are drawn from [0, max-score]")
	flagSet.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "HTTP request timeout")
	flagSet.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every notification")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if err := logger.Init(logger.WithFormat(logFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if cfg.Verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err := simulate.Run(ctx, cfg)
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Leaderboard simulator: connects players over websocket, answers
heartbeats, and submits random scores to a running service.

Usage:
  simulate [flags]

Flags:
%s`, flagSet.FlagUsages())
}
