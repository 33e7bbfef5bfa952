// Package ingest implements the per-recording admission policy: format and
// duration validation, storage of the original bytes, quality scoring of the
// decoded signal, and the accept/reject decision with profile-level
// aggregation.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
)

// Admission limits and quality thresholds; zero values in GateConfig select
// these defaults.
const (
	DefaultMinFileBytes       = 1000
	DefaultMaxFileBytes       = 50 * 1024 * 1024
	DefaultMinDurationSeconds = 1.0
	DefaultMaxDurationSeconds = 30.0
	DefaultMaxRecordings      = 50
	DefaultMinSNRDb           = 10.0
	DefaultMinRMSDb           = -40.0
	DefaultMaxSilenceRatio    = 0.5
)

// GateConfig tunes the admission policy.
type GateConfig struct {
	MinFileBytes       int64
	MaxFileBytes       int64
	MinDurationSeconds float64
	MaxDurationSeconds float64
	MaxRecordings      int
	MinSNRDb           float64
	MinRMSDb           float64
	MaxSilenceRatio    float64
}

func (c GateConfig) withDefaults() GateConfig {
	if c.MinFileBytes <= 0 {
		c.MinFileBytes = DefaultMinFileBytes
	}

	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}

	if c.MinDurationSeconds <= 0 {
		c.MinDurationSeconds = DefaultMinDurationSeconds
	}

	if c.MaxDurationSeconds <= 0 {
		c.MaxDurationSeconds = DefaultMaxDurationSeconds
	}

	if c.MaxRecordings <= 0 {
		c.MaxRecordings = DefaultMaxRecordings
	}

	if c.MinSNRDb == 0 {
		c.MinSNRDb = DefaultMinSNRDb
	}

	if c.MinRMSDb == 0 {
		c.MinRMSDb = DefaultMinRMSDb
	}

	if c.MaxSilenceRatio == 0 {
		c.MaxSilenceRatio = DefaultMaxSilenceRatio
	}

	return c
}

// allowedExtensions are the upload formats the gate accepts for decoding.
var allowedExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".webm": {},
}

// Gate admits or rejects individual recordings for a profile.
type Gate struct {
	codec      *audio.Codec
	analyzer   *audio.Analyzer
	store      core.ObjectStore
	profiles   core.ProfileStore
	recordings core.RecordingStore
	config     GateConfig
	log        *logger.Logger
}

// NewGate creates an ingestion gate with its collaborators.
func NewGate(
	codec *audio.Codec,
	analyzer *audio.Analyzer,
	store core.ObjectStore,
	profiles core.ProfileStore,
	recordings core.RecordingStore,
	config GateConfig,
	log *logger.Logger,
) *Gate {
	return &Gate{
		codec:      codec,
		analyzer:   analyzer,
		store:      store,
		profiles:   profiles,
		recordings: recordings,
		config:     config.withDefaults(),
		log:        log,
	}
}

// Admit validates and scores one uploaded recording. Validation failures
// return before any storage write. A recording that decodes but fails the
// quality policy is persisted as Rejected with the first-failing rule as its
// reason; this is an outcome, not an error.
func (g *Gate) Admit(
	ctx context.Context,
	profileID string,
	ordinalIndex int,
	data []byte,
	filename string,
) (*core.RecordingRecord, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	waveform, err := g.validate(data, ext, ordinalIndex)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("recordings/%s/%s%s", profileID, uuid.NewString(), ext)

	uploadErr := g.store.Upload(ctx, key, data)
	if uploadErr != nil {
		return nil, fmt.Errorf("failed to store original recording: %w", uploadErr)
	}

	// Quality is measured on the decoded signal as uploaded, before any
	// preprocessing.
	metrics := g.analyzer.Analyze(waveform)

	status := core.RecordingUploaded

	reason := g.rejectionReason(metrics)
	if reason != "" {
		status = core.RecordingRejected

		g.log.Info("Rejected recording %d for profile %s: %s", ordinalIndex, profileID, reason)
	}

	record := &core.RecordingRecord{
		ID:              uuid.NewString(),
		ProfileID:       profileID,
		OrdinalIndex:    ordinalIndex,
		Status:          status,
		OriginalRef:     key,
		ProcessedRef:    "",
		FileSizeBytes:   int64(len(data)),
		DurationSeconds: waveform.Duration(),
		SampleRate:      waveform.SampleRate,
		Metrics:         &metrics,
		RejectionReason: reason,
		CreatedAt:       time.Now().UTC(),
	}

	addErr := g.recordings.AddRecording(ctx, record)
	if addErr != nil {
		return nil, fmt.Errorf("failed to persist recording record: %w", addErr)
	}

	statsErr := g.RefreshProfileStats(ctx, profileID)
	if statsErr != nil {
		return nil, statsErr
	}

	return record, nil
}

// validate applies the pre-storage checks in order: extension, byte size,
// decodability, duration, ordinal bounds.
func (g *Gate) validate(data []byte, ext string, ordinalIndex int) (*audio.Waveform, error) {
	_, allowed := allowedExtensions[ext]
	if !allowed {
		return nil, fmt.Errorf("%w: unsupported audio format '%s'", core.ErrValidation, ext)
	}

	if int64(len(data)) < g.config.MinFileBytes {
		return nil, fmt.Errorf(
			"%w: audio file is too small - likely empty or corrupted",
			core.ErrValidation,
		)
	}

	if int64(len(data)) > g.config.MaxFileBytes {
		return nil, fmt.Errorf(
			"%w: audio file exceeds %d byte size limit",
			core.ErrValidation, g.config.MaxFileBytes,
		)
	}

	waveform, decodeErr := g.codec.Decode(data, ext)
	if decodeErr != nil {
		return nil, decodeErr
	}

	duration := waveform.Duration()
	if duration < g.config.MinDurationSeconds {
		return nil, fmt.Errorf(
			"%w: recording too short - minimum %.1f seconds required",
			core.ErrValidation, g.config.MinDurationSeconds,
		)
	}

	if duration > g.config.MaxDurationSeconds {
		return nil, fmt.Errorf(
			"%w: recording too long - maximum %.0f seconds",
			core.ErrValidation, g.config.MaxDurationSeconds,
		)
	}

	if ordinalIndex < 0 || ordinalIndex >= g.config.MaxRecordings {
		return nil, fmt.Errorf(
			"%w: recording number %d is out of range",
			core.ErrValidation, ordinalIndex,
		)
	}

	return waveform, nil
}

// rejectionReason applies the quality policy and returns the first failing
// rule's message, or an empty string when the recording passes. First match
// wins; the rules never accumulate.
func (g *Gate) rejectionReason(metrics audio.QualityMetrics) string {
	if metrics.SNRDb < g.config.MinSNRDb {
		return fmt.Sprintf(
			"Low signal-to-noise ratio: %.2fdB (min: %.1fdB)",
			metrics.SNRDb, g.config.MinSNRDb,
		)
	}

	if metrics.RMSDb < g.config.MinRMSDb {
		return fmt.Sprintf("Volume too low: %.2fdB", metrics.RMSDb)
	}

	if metrics.SilenceRatio > g.config.MaxSilenceRatio {
		return fmt.Sprintf("Too much silence: %.0f%%", metrics.SilenceRatio*100)
	}

	if metrics.ClippingDetected {
		return "Audio clipping detected - volume too high"
	}

	return ""
}

// RefreshProfileStats recomputes the profile's aggregate recording count and
// total duration from the full recording set. Only Uploaded and Processed
// recordings count (the single counting rule). Recomputing from scratch
// keeps the aggregates consistent after rejections and retries, and makes
// the operation idempotent.
func (g *Gate) RefreshProfileStats(ctx context.Context, profileID string) error {
	records, err := g.recordings.ListRecordings(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to list recordings for profile %s: %w", profileID, err)
	}

	count := 0
	totalDuration := 0.0

	for _, record := range records {
		_, usable := core.UsableStatuses[record.Status]
		if usable {
			count++
			totalDuration += record.DurationSeconds
		}
	}

	profile, err := g.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to load profile %s: %w", profileID, err)
	}

	profile.TotalRecordings = count
	profile.TotalDurationSeconds = totalDuration

	if profile.Status == core.ProfilePending && count > 0 {
		profile.Status = core.ProfileRecording
	}

	updateErr := g.profiles.UpdateProfile(ctx, profile)
	if updateErr != nil {
		return fmt.Errorf("failed to update profile %s: %w", profileID, updateErr)
	}

	return nil
}
