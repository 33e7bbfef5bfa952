package core

import (
	"context"
	"errors"

	"github.com/arjunchapagain/aasirbad/internal/audio"
)

// Orchestration guard and synthesis errors. Callers classify failures with
// errors.Is against these sentinels.
var (
	// ErrValidation indicates user-correctable bad input (shape, size,
	// duration, ordinal bounds); the message is surfaced verbatim.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition indicates a training entry guard failure.
	ErrPrecondition = errors.New("training precondition not met")
	// ErrInsufficientData indicates that too few recordings survived
	// preprocessing to continue a training job.
	ErrInsufficientData = errors.New("not enough valid recordings")
	// ErrProfileNotReady indicates a synthesis request against a profile
	// that is not Ready or has no stored model.
	ErrProfileNotReady = errors.New("voice profile is not ready for synthesis")
	// ErrUnknownPreset indicates a synthesis preset outside the known set.
	ErrUnknownPreset = errors.New("unknown synthesis preset")
	// ErrModelFormat indicates a corrupt or incompatible stored conditioning
	// model; it is fatal and never retried.
	ErrModelFormat = errors.New("invalid voice model format")
	// ErrNotFound indicates a missing profile or recording.
	ErrNotFound = errors.New("not found")
)

// ObjectStore is the blob-storage collaborator. The core never assumes a
// local-disk or object-store backend; it uses only this interface.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ProgressSink receives training progress events. Publishing is best-effort
// and fire-and-forget: the orchestrator logs publish failures but never
// fails a pipeline because of one.
type ProgressSink interface {
	Publish(ctx context.Context, event TrainingProgressEvent) error
}

// ExtractProgressFunc reports sub-progress from the conditioning-extraction
// capability: done clips out of total. Implementations without sub-progress
// granularity may never call it.
type ExtractProgressFunc func(done, total int)

// ConditioningExtractor is the external capability that turns reference
// waveforms into a speaker-conditioning representation. It is one opaque,
// potentially slow call, serialized per profile by the orchestrator.
type ConditioningExtractor interface {
	Extract(ctx context.Context, clips []*audio.Waveform, onProgress ExtractProgressFunc) (*ConditioningPair, error)
}

// SpeechGenerator is the external text-to-speech capability. The returned
// waveform is at the capability's fixed native output rate.
type SpeechGenerator interface {
	Generate(ctx context.Context, text string, pair *ConditioningPair, preset string) (*audio.Waveform, error)
}

// ProfileStore persists voice profiles. Reads must return a consistent
// snapshot; only the orchestrator for a profile mutates its training fields.
type ProfileStore interface {
	CreateProfile(ctx context.Context, owner, name string) (*VoiceProfile, error)
	GetProfile(ctx context.Context, profileID string) (*VoiceProfile, error)
	UpdateProfile(ctx context.Context, profile *VoiceProfile) error
	ArchiveProfile(ctx context.Context, profileID string) error
}

// RecordingStore persists recording records. Records are never deleted
// individually; they cascade with their profile's archival.
type RecordingStore interface {
	AddRecording(ctx context.Context, record *RecordingRecord) error
	UpdateRecording(ctx context.Context, record *RecordingRecord) error
	ListRecordings(ctx context.Context, profileID string) ([]*RecordingRecord, error)
}
