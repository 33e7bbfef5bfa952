package core

import "github.com/book-expert/events"

// Terminal progress statuses carried on TrainingProgressEvent.
const (
	ProgressStatusTraining = "training"
	ProgressStatusReady    = "ready"
	ProgressStatusFailed   = "failed"
)

// TrainingRequestedEvent asks a worker to run the training pipeline for one
// profile. Exactly one worker owns the job at a time; the queue layer
// enforces delivery, the orchestrator enforces mutual exclusion.
type TrainingRequestedEvent struct {
	Header    events.EventHeader `json:"header"`
	ProfileID string             `json:"profile_id"`
}

// TrainingCompletedEvent is the worker's reply once a training job reaches a
// terminal state.
type TrainingCompletedEvent struct {
	Header    events.EventHeader `json:"header"`
	ProfileID string             `json:"profile_id"`
	ModelRef  string             `json:"model_ref,omitempty"`
	Status    ProfileStatus      `json:"status"`
	Error     string             `json:"error,omitempty"`
}

// TrainingProgressEvent is published to the progress sink at every
// meaningful pipeline step. Progress is in [0, 1]; Status is "training"
// until a terminal "ready" or "failed" event.
type TrainingProgressEvent struct {
	Header    events.EventHeader `json:"header"`
	ProfileID string             `json:"profile_id"`
	Progress  float64            `json:"progress"`
	Step      string             `json:"step"`
	Status    string             `json:"status"`
}
