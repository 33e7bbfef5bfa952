// main package for the voice-cli, a local end-to-end driver: enrolls a
// directory of recordings into a profile, trains the voice model against the
// inference sidecar, and synthesizes speech, all on a filesystem object
// store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/engine"
	"github.com/arjunchapagain/aasirbad/internal/ingest"
	"github.com/arjunchapagain/aasirbad/internal/objectstore"
	"github.com/arjunchapagain/aasirbad/internal/registry"
	"github.com/arjunchapagain/aasirbad/internal/synthesis"
	"github.com/arjunchapagain/aasirbad/internal/training"
)

// Flag descriptions.
const (
	flagDirDesc     = "Directory of reference recordings to enroll"
	flagNameDesc    = "Voice profile name"
	flagTextDesc    = "Text to synthesize after training"
	flagOutputDesc  = "Output file path (.wav)"
	flagPresetDesc  = "Synthesis preset (ultra_fast, fast, standard, high_quality)"
	flagEngineDesc  = "Inference engine URL"
	flagDataDesc    = "Local artifact store directory"
	flagTimeoutDesc = "Overall pipeline timeout"
)

// Flag names.
const (
	flagDir     = "dir"
	flagName    = "name"
	flagText    = "text"
	flagOutput  = "output"
	flagPreset  = "preset"
	flagEngine  = "engine-url"
	flagData    = "data-dir"
	flagTimeout = "timeout"
)

// Defaults.
const (
	defaultProfileName = "My Voice"
	defaultOutputFile  = "output.wav"
	defaultEngineURL   = "http://127.0.0.1:8100"
	defaultDataDir     = "voice-data"
	defaultTimeout     = time.Hour
	logFileName        = "voice-cli.log"
)

var errNoRecordingsAdmitted = errors.New("no recordings were admitted")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	dir       string
	name      string
	text      string
	output    string
	preset    string
	engineURL string
	dataDir   string
	timeout   time.Duration
}

// stdoutSink prints progress events; the CLI has no NATS to publish to.
type stdoutSink struct{}

func (stdoutSink) Publish(_ context.Context, event core.TrainingProgressEvent) error {
	fmt.Printf("[%3.0f%%] %s\n", event.Progress*100, event.Step)

	return nil
}

func main() {
	err := run()
	if err != nil {
		// The logger might not be initialized yet, so use the standard
		// log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	if flags.dir == "" || flags.text == "" {
		flag.Usage()

		return errors.New("both --dir and --text must be provided")
	}

	cliLogger, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cliLogger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	return runPipeline(ctx, flags, cliLogger)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.dir, flagDir, "", flagDirDesc)
	flag.StringVar(&flags.name, flagName, defaultProfileName, flagNameDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flag.StringVar(&flags.preset, flagPreset, synthesis.DefaultPreset, flagPresetDesc)
	flag.StringVar(&flags.engineURL, flagEngine, defaultEngineURL, flagEngineDesc)
	flag.StringVar(&flags.dataDir, flagData, defaultDataDir, flagDataDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

func runPipeline(ctx context.Context, flags appFlags, cliLogger *logger.Logger) error {
	store, err := objectstore.NewFSObjectStore(flags.dataDir)
	if err != nil {
		return err
	}

	profiles := registry.NewMemoryRegistry()

	codec := audio.NewCodec(audio.NewGoMP3Decoder())
	analyzer := audio.NewAnalyzer()
	denoiser := audio.NewDenoiser(0)
	preprocessor := audio.NewPreprocessor(
		codec, analyzer, denoiser,
		audio.DefaultTargetSampleRate, audio.DefaultTargetLoudnessDb, cliLogger,
	)

	gate := ingest.NewGate(codec, analyzer, store, profiles, profiles, ingest.GateConfig{}, cliLogger)

	engineClient := engine.NewClient(engine.Config{URL: flags.engineURL, Timeout: flags.timeout})

	orchestrator := training.NewOrchestrator(
		preprocessor, codec, engineClient, store, profiles, profiles,
		stdoutSink{}, 0, 0, cliLogger,
	)

	adapter := synthesis.NewAdapter(engineClient, store, profiles, codec, cliLogger)

	profile, err := profiles.CreateProfile(ctx, "local", flags.name)
	if err != nil {
		return err
	}

	admitted, err := enrollDirectory(ctx, gate, profile.ID, flags.dir)
	if err != nil {
		return err
	}

	fmt.Printf("Enrolled %d recordings into profile %q\n", admitted, flags.name)

	_, trainErr := orchestrator.Train(ctx, profile.ID)
	if trainErr != nil {
		return fmt.Errorf("training failed: %w", trainErr)
	}

	result, synthErr := adapter.Synthesize(ctx, profile.ID, flags.text, flags.preset)
	if synthErr != nil {
		return fmt.Errorf("synthesis failed: %w", synthErr)
	}

	return writeOutput(ctx, store, result, flags.output)
}

// enrollDirectory admits every audio file in dir, in name order. Rejected
// recordings are reported but do not stop enrollment.
func enrollDirectory(ctx context.Context, gate *ingest.Gate, profileID, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	admitted := 0

	for i, name := range names {
		data, readErr := os.ReadFile(filepath.Join(dir, name))
		if readErr != nil {
			return admitted, fmt.Errorf("failed to read %s: %w", name, readErr)
		}

		record, admitErr := gate.Admit(ctx, profileID, i, data, name)
		if admitErr != nil {
			fmt.Printf("Skipping %s: %v\n", name, admitErr)

			continue
		}

		if record.Status == core.RecordingRejected {
			fmt.Printf("Rejected %s: %s\n", name, record.RejectionReason)

			continue
		}

		admitted++
	}

	if admitted == 0 {
		return 0, errNoRecordingsAdmitted
	}

	return admitted, nil
}

func writeOutput(ctx context.Context, store core.ObjectStore, result *synthesis.Result, outputPath string) error {
	data, err := store.Download(ctx, result.AudioRef)
	if err != nil {
		return fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".wav") {
		outputPath += ".wav"
	}

	writeErr := os.WriteFile(outputPath, data, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, writeErr)
	}

	fmt.Printf("Generated %.2fs of speech: %s\n", result.DurationSeconds, outputPath)

	return nil
}
