// Package core defines the domain model and the collaborator interfaces for
// the voice-cloning pipeline. Components receive their collaborators at
// construction; nothing in this package carries process-wide state.
package core

import (
	"time"

	"github.com/arjunchapagain/aasirbad/internal/audio"
)

// ProfileStatus is the lifecycle state of a voice profile.
type ProfileStatus string

// Voice profile lifecycle states. A profile advances Pending -> Recording as
// recordings accumulate, then Processing -> Training -> Ready (or Failed)
// when a training job runs. Archived is a terminal soft-delete reachable from
// any non-Training state by explicit user action.
const (
	ProfilePending    ProfileStatus = "pending"
	ProfileRecording  ProfileStatus = "recording"
	ProfileProcessing ProfileStatus = "processing"
	ProfileTraining   ProfileStatus = "training"
	ProfileReady      ProfileStatus = "ready"
	ProfileFailed     ProfileStatus = "failed"
	ProfileArchived   ProfileStatus = "archived"
)

// RecordingStatus is the lifecycle state of a single recording.
type RecordingStatus string

// Recording lifecycle states.
const (
	RecordingUploaded   RecordingStatus = "uploaded"
	RecordingProcessing RecordingStatus = "processing"
	RecordingProcessed  RecordingStatus = "processed"
	RecordingRejected   RecordingStatus = "rejected"
	RecordingFailed     RecordingStatus = "failed"
)

// UsableStatuses is the single counting rule used everywhere a recording is
// tallied: a recording contributes to profile aggregates and to training
// readiness if and only if it is Uploaded or Processed. Rejected and Failed
// recordings never count.
var UsableStatuses = map[RecordingStatus]struct{}{
	RecordingUploaded:  {},
	RecordingProcessed: {},
}

// RecordingRecord is the persisted metadata for one uploaded recording.
// Quality metrics, once computed, are only replaced by an explicit
// reprocessing pass that also transitions the status.
type RecordingRecord struct {
	ID              string                `json:"id"`
	ProfileID       string                `json:"profile_id"`
	OrdinalIndex    int                   `json:"ordinal_index"`
	Status          RecordingStatus       `json:"status"`
	OriginalRef     string                `json:"original_ref"`
	ProcessedRef    string                `json:"processed_ref,omitempty"`
	FileSizeBytes   int64                 `json:"file_size_bytes"`
	DurationSeconds float64               `json:"duration_seconds"`
	SampleRate      int                   `json:"sample_rate"`
	Metrics         *audio.QualityMetrics `json:"metrics,omitempty"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// VoiceProfile aggregates the recordings and the trained conditioning model
// for one speaker.
type VoiceProfile struct {
	ID                   string        `json:"id"`
	Owner                string        `json:"owner"`
	Name                 string        `json:"name"`
	Status               ProfileStatus `json:"status"`
	TotalRecordings      int           `json:"total_recordings"`
	TotalDurationSeconds float64       `json:"total_duration_seconds"`
	ModelRef             string        `json:"model_ref,omitempty"`
	TrainingProgress     float64       `json:"training_progress"`
	TrainingError        string        `json:"training_error,omitempty"`
	TrainingStartedAt    *time.Time    `json:"training_started_at,omitempty"`
	TrainingCompletedAt  *time.Time    `json:"training_completed_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
}

// Tensor is a dense numeric tensor as produced by the conditioning-extraction
// capability. The core never interprets its contents.
type Tensor struct {
	Shape []int     `msgpack:"shape" json:"shape"`
	Data  []float32 `msgpack:"data"  json:"data"`
}

// ConditioningPair is the speaker representation extracted from reference
// audio: a speaker embedding plus a conditioning latent. It is owned by
// exactly one profile and replaced wholesale on retraining.
type ConditioningPair struct {
	Embedding Tensor `msgpack:"embedding" json:"embedding"`
	Latent    Tensor `msgpack:"latent"    json:"latent"`
}
