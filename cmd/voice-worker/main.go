// main package for the voice-worker
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/config"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/engine"
	"github.com/arjunchapagain/aasirbad/internal/objectstore"
	"github.com/arjunchapagain/aasirbad/internal/progress"
	"github.com/arjunchapagain/aasirbad/internal/registry"
	"github.com/arjunchapagain/aasirbad/internal/training"
	"github.com/arjunchapagain/aasirbad/internal/worker"
)

const storageBackendFS = "fs"

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-worker.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	store, err := buildObjectStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	engineClient := engine.NewClient(engine.Config{
		URL:     cfg.Engine.URL,
		Timeout: time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	})

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer healthCancel()

	healthErr := engineClient.Health(healthCtx)
	if healthErr != nil {
		// The sidecar may come up after the worker; jobs fail cleanly
		// until it does.
		log.Warn("Inference engine health check failed: %v", healthErr)
	}

	profiles := registry.NewMemoryRegistry()

	codec := audio.NewCodec(audio.NewGoMP3Decoder())
	analyzer := audio.NewAnalyzer()
	denoiser := audio.NewDenoiser(cfg.Audio.DenoiseStrength)
	preprocessor := audio.NewPreprocessor(
		codec, analyzer, denoiser,
		cfg.Audio.TargetSampleRate, cfg.Audio.TargetLoudnessDb, log,
	)

	sink := progress.NewNatsSink(natsConnection, cfg.NATS.TrainingProgressSubject)

	orchestrator := training.NewOrchestrator(
		preprocessor, codec, engineClient, store, profiles, profiles, sink,
		cfg.Training.MinRecordings, cfg.Training.PreprocessWorkers, log,
	)

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.TrainingRequestedSubject,
		orchestrator,
		profiles,
		time.Duration(cfg.Training.JobTimeoutSeconds)*time.Second,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.System(
		"Voice worker initialized. Listening for jobs on subject: %s",
		cfg.NATS.TrainingRequestedSubject,
	)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

func buildObjectStore(cfg *config.Config, natsConnection *nats.Conn) (core.ObjectStore, error) {
	if cfg.Storage.Backend == storageBackendFS {
		store, err := objectstore.NewFSObjectStore(cfg.Storage.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem object store: %w", err)
		}

		return store, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.NewNatsObjectStore(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	return store, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
