// Package registry persists voice profiles and recording records. The
// in-memory implementation backs single-node deployments and tests; reads
// return snapshot copies so callers never observe concurrent mutation.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunchapagain/aasirbad/internal/core"
)

// MemoryRegistry implements core.ProfileStore and core.RecordingStore with
// map storage under one RWMutex.
type MemoryRegistry struct {
	mu         sync.RWMutex
	profiles   map[string]*core.VoiceProfile
	recordings map[string][]*core.RecordingRecord
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		profiles:   map[string]*core.VoiceProfile{},
		recordings: map[string][]*core.RecordingRecord{},
	}
}

// CreateProfile creates a Pending profile for the owner and returns a copy.
func (r *MemoryRegistry) CreateProfile(_ context.Context, owner, name string) (*core.VoiceProfile, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("%w: owner and name are required", core.ErrValidation)
	}

	profile := &core.VoiceProfile{
		ID:                   uuid.NewString(),
		Owner:                owner,
		Name:                 name,
		Status:               core.ProfilePending,
		TotalRecordings:      0,
		TotalDurationSeconds: 0,
		ModelRef:             "",
		TrainingProgress:     0,
		TrainingError:        "",
		TrainingStartedAt:    nil,
		TrainingCompletedAt:  nil,
		CreatedAt:            time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[profile.ID] = profile

	return copyProfile(profile), nil
}

// GetProfile returns a snapshot copy of the profile.
func (r *MemoryRegistry) GetProfile(_ context.Context, profileID string) (*core.VoiceProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", core.ErrNotFound, profileID)
	}

	return copyProfile(profile), nil
}

// UpdateProfile replaces the stored profile wholesale. The caller's copy is
// not retained.
func (r *MemoryRegistry) UpdateProfile(_ context.Context, profile *core.VoiceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.profiles[profile.ID]
	if !ok {
		return fmt.Errorf("%w: profile %s", core.ErrNotFound, profile.ID)
	}

	r.profiles[profile.ID] = copyProfile(profile)

	return nil
}

// ArchiveProfile soft-deletes a profile. Archived is terminal; archiving an
// already-archived profile is a no-op. Profiles cannot be archived while a
// training job owns them.
func (r *MemoryRegistry) ArchiveProfile(_ context.Context, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[profileID]
	if !ok {
		return fmt.Errorf("%w: profile %s", core.ErrNotFound, profileID)
	}

	if profile.Status == core.ProfileArchived {
		return nil
	}

	if profile.Status == core.ProfileTraining {
		return fmt.Errorf(
			"%w: profile %s is training and cannot be archived",
			core.ErrPrecondition, profileID,
		)
	}

	profile.Status = core.ProfileArchived

	return nil
}

// AddRecording appends a recording record for its profile.
func (r *MemoryRegistry) AddRecording(_ context.Context, record *core.RecordingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.profiles[record.ProfileID]
	if !ok {
		return fmt.Errorf("%w: profile %s", core.ErrNotFound, record.ProfileID)
	}

	r.recordings[record.ProfileID] = append(r.recordings[record.ProfileID], copyRecord(record))

	return nil
}

// UpdateRecording replaces a stored recording record wholesale.
func (r *MemoryRegistry) UpdateRecording(_ context.Context, record *core.RecordingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.recordings[record.ProfileID]

	for i, existing := range records {
		if existing.ID == record.ID {
			records[i] = copyRecord(record)

			return nil
		}
	}

	return fmt.Errorf("%w: recording %s", core.ErrNotFound, record.ID)
}

// ListRecordings returns snapshot copies of all records for a profile, in
// insertion order. An unknown profile yields an empty list, not an error;
// callers treat "no recordings yet" and "unknown profile" identically here.
func (r *MemoryRegistry) ListRecordings(_ context.Context, profileID string) ([]*core.RecordingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.recordings[profileID]
	snapshot := make([]*core.RecordingRecord, len(records))

	for i, record := range records {
		snapshot[i] = copyRecord(record)
	}

	return snapshot, nil
}

func copyProfile(profile *core.VoiceProfile) *core.VoiceProfile {
	clone := *profile

	if profile.TrainingStartedAt != nil {
		startedAt := *profile.TrainingStartedAt
		clone.TrainingStartedAt = &startedAt
	}

	if profile.TrainingCompletedAt != nil {
		completedAt := *profile.TrainingCompletedAt
		clone.TrainingCompletedAt = &completedAt
	}

	return &clone
}

func copyRecord(record *core.RecordingRecord) *core.RecordingRecord {
	clone := *record

	if record.Metrics != nil {
		metrics := *record.Metrics
		clone.Metrics = &metrics
	}

	return &clone
}
