package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/evewatch/internal/app"
	"github.com/xoelrdgz/evewatch/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE...",
	Short: "Send recorded URL samples to a target host",
	Long: `Send one GET request per sample row to the target host, so the sensor
watching that host produces EVE traffic. Sample files are CSV with "query" and
"label" columns, optionally gzip-compressed (.gz). Rows from all files are
shuffled with a fixed seed before sending.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	flags := replayCmd.Flags()
	flags.StringP("target", "t", "", "target base URL")
	flags.Duration("delay", 0, "pause between requests")
	flags.Duration("timeout", 0, "per-request timeout")
	flags.Int("limit", 0, "send at most this many requests (0 sends all)")
	flags.Int64("seed", 0, "shuffle seed")

	viper.BindPFlag("replay.target", flags.Lookup("target"))
	viper.BindPFlag("replay.delay", flags.Lookup("delay"))
	viper.BindPFlag("replay.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("replay.limit", flags.Lookup("limit"))
	viper.BindPFlag("replay.seed", flags.Lookup("seed"))
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := app.LoadConfig(viper.GetViper())
	setupLogging(cfg.Logging)

	if err := cfg.ValidateReplay(); err != nil {
		return err
	}

	samples, err := replay.LoadSamples(args...)
	if err != nil {
		return err
	}
	replay.Shuffle(samples, cfg.Replay.Seed)

	runner, err := replay.NewRunner(replay.RunnerConfig{
		Target:  cfg.Replay.Target,
		Delay:   cfg.Replay.Delay,
		Timeout: cfg.Replay.Timeout,
		Limit:   cfg.Replay.Limit,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(ctx, samples)
	if errors.Is(err, context.Canceled) {
		log.Info().Int("sent", summary.Sent).Msg("Replay interrupted")
		return nil
	}
	if err != nil {
		return err
	}

	for status, n := range summary.ByStatus {
		log.Debug().Int("status", status).Int("count", n).Msg("Replay status")
	}
	return nil
}
