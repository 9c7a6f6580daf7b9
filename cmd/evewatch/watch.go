package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/xoelrdgz/evewatch/internal/adapters/classifier"
	"github.com/xoelrdgz/evewatch/internal/adapters/input"
	"github.com/xoelrdgz/evewatch/internal/adapters/output"
	"github.com/xoelrdgz/evewatch/internal/adapters/storage"
	"github.com/xoelrdgz/evewatch/internal/app"
	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the EVE log and classify HTTP URLs",
	Long: `Follow the EVE log from its current end. Lines written before startup are
never read. Stops on SIGINT or SIGTERM.`,
	RunE: runWatch,
}

func init() {
	flags := watchCmd.Flags()
	flags.StringP("eve", "e", "", "EVE JSON log to follow")
	flags.String("mode", "", "follow mode: notify or poll")
	flags.StringP("output", "o", "", "CSV result file")
	flags.String("jsonl", "", "optional JSON-lines mirror of every result")
	flags.String("vectorizer", "", "vectorizer artifact")
	flags.String("model", "", "model weights artifact")
	flags.String("remote-model", "", "remote inference endpoint, replaces --model")
	flags.Int("max-seen", 0, "cap the dedup seen-set (0 keeps every key)")
	flags.String("state", "", "persist the dedup seen-set in this bbolt file (delete it when Suricata restarts)")
	flags.String("quarantine", "", "append malformed lines to this file")
	flags.Bool("metrics", true, "serve Prometheus metrics and readiness")
	flags.String("metrics-port", "", "metrics listen address")

	viper.BindPFlag("eve.path", flags.Lookup("eve"))
	viper.BindPFlag("eve.mode", flags.Lookup("mode"))
	viper.BindPFlag("output.csv_path", flags.Lookup("output"))
	viper.BindPFlag("output.jsonl_path", flags.Lookup("jsonl"))
	viper.BindPFlag("model.vectorizer_path", flags.Lookup("vectorizer"))
	viper.BindPFlag("model.weights_path", flags.Lookup("model"))
	viper.BindPFlag("model.remote_url", flags.Lookup("remote-model"))
	viper.BindPFlag("dedup.max_seen", flags.Lookup("max-seen"))
	viper.BindPFlag("dedup.state_path", flags.Lookup("state"))
	viper.BindPFlag("quarantine.path", flags.Lookup("quarantine"))
	viper.BindPFlag("output.metrics.enabled", flags.Lookup("metrics"))
	viper.BindPFlag("output.metrics.port", flags.Lookup("metrics-port"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := app.LoadConfig(viper.GetViper())
	setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("eve", cfg.EVE.Path).
		Str("mode", cfg.EVE.Mode).
		Str("output", cfg.Output.CSVPath).
		Msg("evewatch started")

	clf, err := classifier.Load(classifier.Options{
		VectorizerPath: cfg.Model.VectorizerPath,
		WeightsPath:    cfg.Model.WeightsPath,
		RemoteURL:      cfg.Model.RemoteURL,
		RemoteTimeout:  cfg.Model.RemoteTimeout,
	})
	if err != nil {
		return err
	}

	counters := domain.NewCounters()
	var observer ports.RecordObserver
	var metrics *output.PrometheusMetrics
	if cfg.Output.MetricsEnabled {
		metrics = output.NewPrometheusMetrics("evewatch", counters)
		observer = metrics
	}

	seen, err := openSeenSet(cfg.Dedup)
	if err != nil {
		return err
	}
	if bolt, ok := seen.(*storage.BoltSeenSet); ok && metrics != nil {
		metrics.TrackBloomFillRatio(bolt.BloomFillRatio)
	}
	dedup := app.NewDedupStore(seen)

	sink, err := openSinks(cfg.Output, metrics)
	if err != nil {
		dedup.Close()
		return err
	}
	defer sink.Close()

	quarantine, err := app.NewQuarantineWriter(cfg.Quarantine.Path)
	if err != nil {
		dedup.Close()
		return fmt.Errorf("failed to open quarantine file: %w", err)
	}
	if metrics != nil {
		metrics.TrackQuarantined(quarantine.Count)
	}

	source, err := openSource(cfg.EVE)
	if err != nil {
		dedup.Close()
		quarantine.Close()
		return err
	}

	pipeline := app.NewPipeline(app.PipelineDeps{
		Source:     source,
		Decoder:    input.NewEVEDecoder(),
		Classifier: clf,
		Sink:       sink,
		Reporter:   output.NewConsoleReporter(nil),
		Observer:   observer,
		Quarantine: quarantine,
		Dedup:      dedup,
		Counters:   counters,
	})

	configWatcher := app.NewConfigWatcher(viper.GetViper(), func(c *app.Config) {
		setLogLevel(c.Logging.Level)
	})
	configWatcher.Start()
	defer configWatcher.Stop()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The pipeline returns on a signal; that also ends the metrics server.
		defer cancel()
		return pipeline.Run(gctx)
	})
	if metrics != nil {
		metricsConfig := output.DefaultMetricsConfig()
		metricsConfig.Port = cfg.Output.MetricsPort
		health := output.NewHealthChecker(pipeline, output.DefaultHealthCheckerConfig())
		g.Go(func() error {
			if err := metrics.Serve(gctx, metricsConfig, health); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	pipeline.Stop()
	log.Info().Msg("Shutdown complete")
	return err
}

func openSeenSet(cfg app.DedupConfig) (ports.SeenSet, error) {
	switch {
	case cfg.StatePath != "":
		if cfg.MaxSeen > 0 {
			log.Warn().Msg("dedup.max_seen is ignored when dedup.state_path is set")
		}
		boltConfig := storage.DefaultBoltSeenConfig()
		boltConfig.Path = cfg.StatePath
		set, err := storage.NewBoltSeenSet(boltConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open seen-set state: %w", err)
		}
		return set, nil
	case cfg.MaxSeen > 0:
		log.Info().Int("max_seen", cfg.MaxSeen).Msg("Using bounded seen-set")
		return app.NewBoundedSeenSet(cfg.MaxSeen), nil
	default:
		return app.NewMemorySeenSet(), nil
	}
}

// openSinks returns the CSV sink, mirrored to JSON lines when configured. A
// failing mirror never costs a CSV row; it is counted as a sink error.
func openSinks(cfg app.OutputConfig, metrics *output.PrometheusMetrics) (ports.ResultSink, error) {
	csvSink, err := output.NewCSVSink(cfg.CSVPath)
	if err != nil {
		return nil, err
	}
	if cfg.JSONLPath == "" {
		return csvSink, nil
	}

	jsonlSink, err := output.NewJSONLSink(output.JSONLSinkConfig{FilePath: cfg.JSONLPath})
	if err != nil {
		csvSink.Close()
		return nil, fmt.Errorf("failed to open JSONL output: %w", err)
	}
	sink := output.NewMirroredSink(csvSink, jsonlSink)
	if metrics != nil {
		sink.OnMirrorError = func(error) { metrics.ObserveSinkError() }
	}
	return sink, nil
}

func openSource(cfg app.EVEConfig) (ports.LineSource, error) {
	if cfg.Mode == app.ModePoll {
		tailer, err := input.NewPollTailer(cfg.Path, 64)
		if err != nil {
			return nil, err
		}
		return tailer, nil
	}

	opts := input.DefaultWatchOptions()
	opts.PollInterval = cfg.PollInterval
	watcher, err := input.NewFileWatcher(cfg.Path, opts)
	if err != nil {
		return nil, err
	}
	return watcher, nil
}
