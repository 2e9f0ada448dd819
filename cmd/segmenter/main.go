package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Ocean-Moist/rholive/internal/audio"
	"github.com/Ocean-Moist/rholive/internal/config"
	"github.com/Ocean-Moist/rholive/internal/metrics"
	"github.com/Ocean-Moist/rholive/internal/recorder"
	"github.com/Ocean-Moist/rholive/internal/segment"
	"github.com/Ocean-Moist/rholive/internal/server"
	"github.com/Ocean-Moist/rholive/internal/session"
	"github.com/Ocean-Moist/rholive/internal/vad"
	"github.com/Ocean-Moist/rholive/internal/worker"
)

const (
	serviceName    = "rholive-segmenter"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	inputPath := flag.String("input", "", "Audio input path, - for stdin")
	format := flag.String("format", "", "Input format: pcm or wav")
	realtime := flag.Bool("realtime", false, "Pace input to real time")
	record := flag.Bool("record", false, "Write every turn to the recording directory")
	jsonOut := flag.Bool("json", false, "Write turns to stdout as JSON lines")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the file only when given explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Path = *inputPath
		case "format":
			cfg.Input.Format = *format
		case "realtime":
			cfg.Input.Realtime = *realtime
		case "record":
			cfg.Recorder.Enabled = *record
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	if err := run(cfg, logger, *jsonOut); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger, jsonOut bool) error {
	logger.Info("Configuration loaded",
		slog.Int("open_voiced_frames", cfg.Segmenter.OpenVoicedFrames),
		slog.Int("close_silence_ms", cfg.Segmenter.CloseSilenceMs),
		slog.Int("max_turn_ms", cfg.Segmenter.MaxTurnMs),
		slog.Int("min_clause_tokens", cfg.Segmenter.MinClauseTokens),
		slog.Int("whisper_poll_ms", cfg.Segmenter.WhisperPollMs),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.String("input", cfg.Input.Path),
		slog.Bool("realtime", cfg.Input.Realtime),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)

	segCfg, err := cfg.Segmenter.ToSegmentConfig()
	if err != nil {
		return fmt.Errorf("invalid segmenter config: %w", err)
	}

	classifier, err := vad.NewEnergyClassifier(cfg.VAD.EnergyThreshold, audio.SubFrameSamples)
	if err != nil {
		return fmt.Errorf("failed to create VAD classifier: %w", err)
	}

	// Offline replay runs on audio time, realtime input on the wall clock
	var manual *segment.ManualClock
	var clock segment.Clock = segment.SystemClock{}
	if !cfg.Input.Realtime {
		manual = segment.NewManualClock(time.Now())
		clock = manual
	}

	opts := []segment.Option{
		segment.WithClock(clock),
		segment.WithClassifier(classifier),
		segment.WithLogger(logger),
		segment.WithMetrics(appMetrics),
	}

	var pool *worker.Pool
	if cfg.Transcription.Enabled() {
		pool, err = worker.NewPool(cfg.Workers.Count, cfg.Transcription.Factory(),
			worker.WithLogger(logger),
			worker.WithMetrics(appMetrics),
			worker.WithQueueSize(cfg.Workers.QueueSize),
			worker.WithJobTimeout(cfg.Workers.GetJobTimeoutDuration()),
		)
		if err != nil {
			return fmt.Errorf("failed to start transcription workers: %w", err)
		}
		opts = append(opts, segment.WithDispatcher(pool))
	}

	seg, err := segment.New(segCfg, opts...)
	if err != nil {
		if pool != nil {
			pool.Close(segCfg.DrainTimeout)
		}
		return err
	}
	defer func() {
		if err := seg.Close(); err != nil {
			logger.Warn("Error closing segmenter", slog.String("error", err.Error()))
		}
	}()

	src, closeSrc, err := openSource(cfg.Input)
	if err != nil {
		return err
	}
	defer closeSrc()

	sinks := []session.Sink{session.LogSink{Logger: logger}}
	if jsonOut {
		sinks = append(sinks, session.NewJSONSink(os.Stdout))
	}
	if cfg.Recorder.Enabled {
		rec, err := recorder.New(cfg.Recorder.Dir, logger, appMetrics)
		if err != nil {
			return err
		}
		sinks = append(sinks, rec)
	}

	runner, err := session.NewRunner(seg,
		session.WithLogger(logger),
		session.WithRealtime(cfg.Input.Realtime),
		session.WithManualClock(manual),
		session.WithChunkSamples(cfg.Input.ChunkSamples),
		session.WithSinks(sinks...),
	)
	if err != nil {
		return fmt.Errorf("failed to create session runner: %w", err)
	}

	// The session ends at end of input or on a signal; either stops the API
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := new(errgroup.Group)

	g.Go(func() error {
		defer cancel()
		err := runner.Run(runCtx, src)
		if errors.Is(err, context.Canceled) {
			logger.Info("Session interrupted")
			return nil
		}
		return err
	})

	if cfg.HTTP.Enabled {
		sources := server.Sources{
			Segmenter: seg,
			Session:   runner,
			Gatherer:  registry,
		}
		if pool != nil {
			sources.Workers = pool
		}

		httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, sources, appMetrics)
		logger.Info("HTTP API server initialized", slog.String("address", httpServer.Addr()))

		g.Go(func() error {
			err := httpServer.ListenAndServe()
			if err != nil {
				cancel()
			}
			return err
		})
		g.Go(func() error {
			<-runCtx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats := seg.GetStats()
	logger.Info("Final segmenter statistics",
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("segments_opened", stats.SegmentsOpened),
		slog.Uint64("turns_emitted", stats.TurnsEmitted),
		slog.Uint64("jobs_submitted", stats.JobsSubmitted),
		slog.Uint64("stale_results", stats.StaleResults),
	)

	return nil
}

// openSource opens the configured audio input
func openSource(cfg config.InputConfig) (session.Source, func(), error) {
	var f *os.File
	closeFn := func() {}

	if cfg.Path == "-" {
		f = os.Stdin
	} else {
		file, err := os.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input: %w", err)
		}
		f = file
		closeFn = func() { file.Close() }
	}

	if cfg.ResolvedFormat() == config.FormatWAV {
		src, err := session.NewWAVSource(f)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return src, closeFn, nil
	}

	return session.NewPCMSource(f), closeFn, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Default to stderr so stdout stays free for -json output
	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
