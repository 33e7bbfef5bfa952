// Package config provides the configuration structure for the voice worker.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TrainingRequestedSubject string `toml:"training_requested_subject"`
	TrainingProgressSubject  string `toml:"training_progress_subject"`
	ArtifactBucket           string `toml:"artifact_bucket"`
}

// AudioConfig holds the preprocessing targets.
type AudioConfig struct {
	TargetSampleRate int     `toml:"target_sample_rate"`
	TargetLoudnessDb float64 `toml:"target_loudness_db"`
	DenoiseStrength  float64 `toml:"denoise_strength"`
}

// QualityConfig holds the admission thresholds for uploaded recordings.
type QualityConfig struct {
	MinFileBytes       int64   `toml:"min_file_bytes"`
	MaxFileBytes       int64   `toml:"max_file_bytes"`
	MinDurationSeconds float64 `toml:"min_duration_seconds"`
	MaxDurationSeconds float64 `toml:"max_duration_seconds"`
	MaxRecordings      int     `toml:"max_recordings"`
	MinSNRDb           float64 `toml:"min_snr_db"`
	MinRMSDb           float64 `toml:"min_rms_db"`
	MaxSilenceRatio    float64 `toml:"max_silence_ratio"`
}

// TrainingConfig holds the training orchestration settings.
type TrainingConfig struct {
	MinRecordings     int `toml:"min_recordings"`
	PreprocessWorkers int `toml:"preprocess_workers"`
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
}

// EngineConfig holds the inference sidecar endpoint settings.
type EngineConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// StorageConfig selects the artifact storage backend. Backend is "nats" or
// "fs"; LocalRoot applies only to "fs".
type StorageConfig struct {
	Backend   string `toml:"backend"`
	LocalRoot string `toml:"local_root"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Audio    AudioConfig    `toml:"audio"`
	Quality  QualityConfig  `toml:"quality"`
	Training TrainingConfig `toml:"training"`
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the voice worker.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
