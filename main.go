// Package main provides a noise-triggered audio recorder: it meters an
// input continuously, records when the level rises above an adaptive
// threshold and reports what it heard.
//
// Usage:
//
//	noisetrigger [-config path/to/config.json] [-log-level debug] [-log-format json] [-list-devices]
//
// If -config is not specified, the recorder looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/config"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/engine"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/notify"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/recording"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *listDevices {
		if err := printDevices(); err != nil {
			slog.Error("failed to list devices", "error", err)
			os.Exit(1)
		}
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("recorder stopped with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// newLogger builds the process logger writing to stderr.
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid -log-format %q", format)
	}
}

// printDevices writes the capture devices of the platform backend to stdout.
func printDevices() error {
	ctx, err := audio.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	return audio.PrintDevices(os.Stdout, ctx)
}

// run starts every component, waits for a shutdown signal and then stops
// them in reverse order.
func run(cfg *config.Config) error {
	snap := cfg.Snapshot()

	eventLogPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	eventLogger, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		// Events still reach the other channels without a log file.
		slog.Warn("event log disabled", "path", eventLogPath, "error", err)
		eventLogger, eventLogPath = nil, ""
	}

	audioCtx, err := audio.OpenContext(snap.SourceConfig())
	if err != nil {
		return util.JoinClose(func() error { return util.WrapError("open audio source", err) }, eventLogger.Close)
	}
	defer audioCtx.Close()

	sampleRate := snap.SampleRate
	if wav, ok := audioCtx.(*audio.WAVContext); ok {
		sampleRate = int(wav.SampleRate())
	}

	store, err := recording.NewStore(snap.RecordingConfig(sampleRate), eventLogger)
	if err != nil {
		return util.JoinClose(func() error { return util.WrapError("create recording store", err) }, eventLogger.Close)
	}

	notifier := notify.NewEventNotifier(cfg, eventLogger)
	store.OnUploadAbandoned(func(a recording.AbandonedUpload) {
		notifier.HandleUploadAbandoned(notify.UploadAbandonedParams(a))
	})
	store.Start()

	eng, err := engine.New(snap.EngineConfig(sampleRate), store, notifier.HandleEvent)
	if err != nil {
		return util.JoinClose(func() error { return util.WrapError("create engine", err) }, store.Close, eventLogger.Close)
	}

	capture, err := openCapture(audioCtx, snap.AudioInput, sampleRate)
	if err != nil {
		return util.JoinClose(func() error { return err }, store.Close, eventLogger.Close)
	}
	capture.SetCallback(eng.OnSamples)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(engineCtx) }()

	if err := capture.Start(); err != nil {
		stopEngine()
		capture.Close()
		return util.JoinClose(func() error { return util.WrapError("start capture", err) },
			func() error { return <-engineDone }, store.Close, eventLogger.Close)
	}
	slog.Info("capturing audio", "device", capture.DeviceName(), "sample_rate", sampleRate)

	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	publisher := notify.NewPublisher(cfg, eng.Snapshot)
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		if publisher.Enabled() {
			publisher.Run(publisherCtx)
		}
	}()

	version := NewVersionChecker()
	version.Start()

	srv := NewServer(cfg, ServerDeps{
		Status:       eng,
		Notifier:     notifier,
		Storage:      store,
		Version:      version,
		Input:        capture.DeviceName(),
		EventLogPath: eventLogPath,
	})
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)

	capture.Stop()
	capture.Close()

	stopEngine()
	errs := []error{<-engineDone}

	stopPublisher()
	<-publisherDone
	version.Stop()

	if err := srv.Shutdown(httpServer, shutdownTimeout); err != nil {
		errs = append(errs, util.WrapError("shut down HTTP server", err))
	}

	notifier.Wait()
	errs = append(errs, store.Close(), eventLogger.Close())
	return errors.Join(errs...)
}

// openCapture opens the configured input at sampleRate.
func openCapture(ctx audio.Context, input string, sampleRate int) (audio.CaptureDevice, error) {
	device, err := audio.ResolveDevice(ctx, input)
	if err != nil {
		return nil, util.WrapError("resolve audio input", err)
	}
	capture, err := ctx.NewCapture(device, audio.CaptureConfig{SampleRate: uint32(sampleRate)}) //nolint:gosec // Sample rate is validated by config
	if err != nil {
		return nil, util.WrapError("open audio input", err)
	}
	return capture, nil
}
