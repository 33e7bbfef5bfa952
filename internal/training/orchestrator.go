// Package training drives a voice profile from "has enough accepted
// recordings" to "has a usable conditioning model": preprocessing every
// uploaded recording, invoking the conditioning-extraction capability,
// persisting the versioned model blob, and advancing the profile state
// machine with progress reporting and partial-failure handling.
package training

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/voicemodel"
)

// DefaultMinRecordings is the minimum number of accepted recordings required
// before a training job may start.
const DefaultMinRecordings = 5

// Progress milestones. Preprocessing is scaled into (0.1, 0.35]; extraction
// sub-progress is mapped linearly into [0.4, 0.9].
const (
	progressStarting      = 0.05
	progressPreprocessing = 0.10
	progressPreprocessed  = 0.35
	progressExtracting    = 0.40
	progressExtractSpan   = 0.50
	progressSaving        = 0.92
	progressFinalizing    = 0.98
)

// Orchestrator owns the training state machine for voice profiles. One job
// fully owns its profile: entry is refused while the profile is already
// Training, and an in-process guard prevents two goroutines from racing the
// status read.
type Orchestrator struct {
	preprocessor  *audio.Preprocessor
	codec         *audio.Codec
	extractor     core.ConditioningExtractor
	store         core.ObjectStore
	profiles      core.ProfileStore
	recordings    core.RecordingStore
	sink          core.ProgressSink
	minRecordings int
	workers       int
	log           *logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewOrchestrator creates a training orchestrator. A non-positive
// minRecordings selects the default; workers bounds preprocessing
// parallelism and defaults to 1.
func NewOrchestrator(
	preprocessor *audio.Preprocessor,
	codec *audio.Codec,
	extractor core.ConditioningExtractor,
	store core.ObjectStore,
	profiles core.ProfileStore,
	recordings core.RecordingStore,
	sink core.ProgressSink,
	minRecordings int,
	workers int,
	log *logger.Logger,
) *Orchestrator {
	if minRecordings <= 0 {
		minRecordings = DefaultMinRecordings
	}

	if workers < 1 {
		workers = 1
	}

	return &Orchestrator{
		preprocessor:  preprocessor,
		codec:         codec,
		extractor:     extractor,
		store:         store,
		profiles:      profiles,
		recordings:    recordings,
		sink:          sink,
		minRecordings: minRecordings,
		workers:       workers,
		log:           log,
		active:        map[string]struct{}{},
	}
}

// Train runs the full training pipeline for one profile and returns the
// durable model reference. Guard failures return ErrPrecondition without
// touching the profile. Any later failure marks the profile Failed, records
// the message, emits a terminal "failed" progress event and propagates the
// error so the queue layer can apply its retry policy.
func (o *Orchestrator) Train(ctx context.Context, profileID string) (string, error) {
	releaseGuard, guardErr := o.acquire(profileID)
	if guardErr != nil {
		return "", guardErr
	}

	defer releaseGuard()

	profile, err := o.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return "", fmt.Errorf("failed to load profile %s: %w", profileID, err)
	}

	entryErr := o.checkEntryGuard(ctx, profile)
	if entryErr != nil {
		return "", entryErr
	}

	workflowID := uuid.NewString()

	startErr := o.markTraining(ctx, profile)
	if startErr != nil {
		return "", startErr
	}

	modelRef, runErr := o.run(ctx, profile, workflowID)
	if runErr != nil {
		o.markFailed(ctx, profileID, workflowID, runErr)

		return "", runErr
	}

	return modelRef, nil
}

// acquire takes the in-process per-profile guard.
func (o *Orchestrator) acquire(profileID string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, busy := o.active[profileID]
	if busy {
		return nil, fmt.Errorf("%w: profile %s is already training", core.ErrPrecondition, profileID)
	}

	o.active[profileID] = struct{}{}

	release := func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		delete(o.active, profileID)
	}

	return release, nil
}

// checkEntryGuard refuses entry when the profile is already Training or
// Ready, or has fewer accepted recordings than the configured minimum.
func (o *Orchestrator) checkEntryGuard(ctx context.Context, profile *core.VoiceProfile) error {
	if profile.Status == core.ProfileTraining || profile.Status == core.ProfileReady {
		return fmt.Errorf(
			"%w: profile %s is in status '%s'",
			core.ErrPrecondition, profile.ID, profile.Status,
		)
	}

	accepted, err := o.usableRecordings(ctx, profile.ID)
	if err != nil {
		return err
	}

	if len(accepted) < o.minRecordings {
		return fmt.Errorf(
			"%w: have %d accepted recordings, need %d",
			core.ErrPrecondition, len(accepted), o.minRecordings,
		)
	}

	return nil
}

func (o *Orchestrator) markTraining(ctx context.Context, profile *core.VoiceProfile) error {
	profile.Status = core.ProfileTraining
	profile.TrainingProgress = 0
	profile.TrainingError = ""

	if profile.TrainingStartedAt == nil {
		now := time.Now().UTC()
		profile.TrainingStartedAt = &now
	}

	err := o.profiles.UpdateProfile(ctx, profile)
	if err != nil {
		return fmt.Errorf("failed to mark profile %s training: %w", profile.ID, err)
	}

	return nil
}

// run executes the pipeline steps after the profile is marked Training.
func (o *Orchestrator) run(ctx context.Context, profile *core.VoiceProfile, workflowID string) (string, error) {
	o.publish(ctx, profile.ID, workflowID, progressStarting, "Starting training pipeline", core.ProgressStatusTraining)

	preprocessErr := o.preprocessUploaded(ctx, profile.ID, workflowID)
	if preprocessErr != nil {
		return "", preprocessErr
	}

	o.publish(ctx, profile.ID, workflowID, progressPreprocessed, "Collecting processed audio", core.ProgressStatusTraining)

	clips, collectErr := o.collectProcessed(ctx, profile.ID)
	if collectErr != nil {
		return "", collectErr
	}

	o.publish(ctx, profile.ID, workflowID, progressExtracting, "Extracting voice characteristics", core.ProgressStatusTraining)

	// The extraction call is opaque and potentially slow; sub-progress is
	// mapped into [0.4, 0.9] at whatever granularity the capability reports.
	pair, extractErr := o.extractor.Extract(ctx, clips, func(done, total int) {
		if total <= 0 {
			return
		}

		progress := progressExtracting + progressExtractSpan*float64(done)/float64(total)
		step := fmt.Sprintf("Processing audio sample %d/%d", done, total)
		o.publish(ctx, profile.ID, workflowID, progress, step, core.ProgressStatusTraining)
	})
	if extractErr != nil {
		return "", fmt.Errorf("conditioning extraction failed: %w", extractErr)
	}

	o.publish(ctx, profile.ID, workflowID, progressSaving, "Saving voice model", core.ProgressStatusTraining)

	modelRef, saveErr := o.saveModel(ctx, profile.ID, pair)
	if saveErr != nil {
		return "", saveErr
	}

	o.publish(ctx, profile.ID, workflowID, progressFinalizing, "Finalizing", core.ProgressStatusTraining)

	completeErr := o.markReady(ctx, profile.ID, modelRef)
	if completeErr != nil {
		return "", completeErr
	}

	o.publish(ctx, profile.ID, workflowID, 1.0, "Training complete", core.ProgressStatusReady)
	o.log.Info("Voice model training complete for profile %s", profile.ID)

	return modelRef, nil
}

// preprocessUploaded cleans every Uploaded recording for the profile and
// marks each one Processed or Failed. A per-item failure never aborts the
// job; recordings already Processed by an earlier attempt keep their
// artifacts and are not reprocessed.
func (o *Orchestrator) preprocessUploaded(ctx context.Context, profileID, workflowID string) error {
	records, err := o.recordings.ListRecordings(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to list recordings for profile %s: %w", profileID, err)
	}

	var uploaded []*core.RecordingRecord

	for _, record := range records {
		if record.Status == core.RecordingUploaded {
			uploaded = append(uploaded, record)
		}
	}

	if len(uploaded) == 0 {
		return nil
	}

	items := make([]audio.BatchItem, len(uploaded))

	for i, record := range uploaded {
		data, downloadErr := o.store.Download(ctx, record.OriginalRef)
		if downloadErr != nil {
			return fmt.Errorf(
				"failed to download original for recording %s: %w",
				record.ID, downloadErr,
			)
		}

		items[i] = audio.BatchItem{Data: data, Ext: filepath.Ext(record.OriginalRef)}
	}

	results := o.preprocessor.ProcessBatch(items, o.workers)

	for i, result := range results {
		record := uploaded[i]

		if result.Err != nil {
			record.Status = core.RecordingFailed

			updateErr := o.recordings.UpdateRecording(ctx, record)
			if updateErr != nil {
				return fmt.Errorf("failed to update recording %s: %w", record.ID, updateErr)
			}

			continue
		}

		storeErr := o.storeProcessed(ctx, record, result.Audio)
		if storeErr != nil {
			return storeErr
		}

		span := progressPreprocessed - progressPreprocessing
		progress := progressPreprocessing + span*float64(i+1)/float64(len(results))
		step := fmt.Sprintf("Preprocessing %d/%d", i+1, len(results))
		o.publish(ctx, record.ProfileID, workflowID, progress, step, core.ProgressStatusTraining)
	}

	return nil
}

// storeProcessed uploads the cleaned waveform and moves the record to
// Processed with its re-measured metrics. This is the one explicit
// reprocessing pass allowed to replace a record's quality metrics.
func (o *Orchestrator) storeProcessed(
	ctx context.Context,
	record *core.RecordingRecord,
	processed *audio.ProcessedAudio,
) error {
	encoded, err := o.codec.EncodeWAV(processed.Waveform)
	if err != nil {
		return fmt.Errorf("failed to encode processed recording %s: %w", record.ID, err)
	}

	key := fmt.Sprintf("processed/%s/%s.wav", record.ProfileID, uuid.NewString())

	uploadErr := o.store.Upload(ctx, key, encoded)
	if uploadErr != nil {
		return fmt.Errorf("failed to store processed recording %s: %w", record.ID, uploadErr)
	}

	metrics := processed.Metrics

	record.Status = core.RecordingProcessed
	record.ProcessedRef = key
	record.DurationSeconds = processed.DurationSeconds
	record.SampleRate = processed.SampleRate
	record.Metrics = &metrics

	updateErr := o.recordings.UpdateRecording(ctx, record)
	if updateErr != nil {
		return fmt.Errorf("failed to update recording %s: %w", record.ID, updateErr)
	}

	return nil
}

// collectProcessed downloads the cleaned waveforms of all Processed
// recordings and re-checks the minimum, since recordings may have failed
// preprocessing.
func (o *Orchestrator) collectProcessed(ctx context.Context, profileID string) ([]*audio.Waveform, error) {
	records, err := o.recordings.ListRecordings(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings for profile %s: %w", profileID, err)
	}

	var clips []*audio.Waveform

	for _, record := range records {
		if record.Status != core.RecordingProcessed || record.ProcessedRef == "" {
			continue
		}

		data, downloadErr := o.store.Download(ctx, record.ProcessedRef)
		if downloadErr != nil {
			return nil, fmt.Errorf(
				"failed to download processed audio for recording %s: %w",
				record.ID, downloadErr,
			)
		}

		waveform, decodeErr := o.codec.Decode(data, ".wav")
		if decodeErr != nil {
			return nil, fmt.Errorf(
				"failed to decode processed audio for recording %s: %w",
				record.ID, decodeErr,
			)
		}

		clips = append(clips, waveform)
	}

	if len(clips) < o.minRecordings {
		return nil, fmt.Errorf(
			"%w: %d (need %d)",
			core.ErrInsufficientData, len(clips), o.minRecordings,
		)
	}

	return clips, nil
}

func (o *Orchestrator) saveModel(ctx context.Context, profileID string, pair *core.ConditioningPair) (string, error) {
	blob, err := voicemodel.Encode(pair)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("voices/%s/model-%s.bin", profileID, uuid.NewString())

	uploadErr := o.store.Upload(ctx, key, blob)
	if uploadErr != nil {
		return "", fmt.Errorf("failed to store voice model for profile %s: %w", profileID, uploadErr)
	}

	return key, nil
}

// markReady commits the terminal success state in one update: Ready status,
// model reference, full progress and the completion timestamp.
func (o *Orchestrator) markReady(ctx context.Context, profileID, modelRef string) error {
	profile, err := o.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to load profile %s: %w", profileID, err)
	}

	now := time.Now().UTC()

	profile.Status = core.ProfileReady
	profile.ModelRef = modelRef
	profile.TrainingProgress = 1.0
	profile.TrainingError = ""
	profile.TrainingCompletedAt = &now

	updateErr := o.profiles.UpdateProfile(ctx, profile)
	if updateErr != nil {
		return fmt.Errorf("failed to mark profile %s ready: %w", profileID, updateErr)
	}

	return nil
}

// markFailed records the failure on the profile and emits the terminal
// "failed" progress event. Recordings already marked Processed keep their
// artifacts for reuse on retry.
func (o *Orchestrator) markFailed(ctx context.Context, profileID, workflowID string, cause error) {
	o.log.Error("Training failed for profile %s: %v", profileID, cause)

	profile, err := o.profiles.GetProfile(ctx, profileID)
	if err != nil {
		o.log.Error("Failed to load profile %s while recording failure: %v", profileID, err)
	} else {
		profile.Status = core.ProfileFailed
		profile.TrainingError = cause.Error()

		updateErr := o.profiles.UpdateProfile(ctx, profile)
		if updateErr != nil {
			o.log.Error("Failed to mark profile %s failed: %v", profileID, updateErr)
		}
	}

	step := fmt.Sprintf("Training failed: %v", cause)
	o.publish(ctx, profileID, workflowID, 0, step, core.ProgressStatusFailed)
}

func (o *Orchestrator) usableRecordings(ctx context.Context, profileID string) ([]*core.RecordingRecord, error) {
	records, err := o.recordings.ListRecordings(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings for profile %s: %w", profileID, err)
	}

	var usable []*core.RecordingRecord

	for _, record := range records {
		_, ok := core.UsableStatuses[record.Status]
		if ok {
			usable = append(usable, record)
		}
	}

	return usable, nil
}

// publish sends a progress event to the sink. Publishing is fire-and-forget:
// a failed publish is logged and never fails the pipeline.
func (o *Orchestrator) publish(
	ctx context.Context,
	profileID, workflowID string,
	progress float64,
	step, status string,
) {
	event := core.TrainingProgressEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		ProfileID: profileID,
		Progress:  progress,
		Step:      step,
		Status:    status,
	}

	err := o.sink.Publish(ctx, event)
	if err != nil {
		o.log.Warn("Failed to publish progress event for profile %s: %v", profileID, err)
	}
}
