// Package synthesis turns text plus a trained voice profile into speech
// audio. Requests are stateless and read-only against the stored model, so
// concurrent synthesis for the same profile needs no locking.
package synthesis

import (
	"context"
	"fmt"
	"math"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/voicemodel"
)

// Quality presets accepted by the text-to-speech capability, trading
// generation time for fidelity.
const (
	PresetUltraFast   = "ultra_fast"
	PresetFast        = "fast"
	PresetStandard    = "standard"
	PresetHighQuality = "high_quality"
)

// DefaultPreset is used when the caller leaves the preset empty.
const DefaultPreset = PresetFast

var knownPresets = map[string]struct{}{
	PresetUltraFast:   {},
	PresetFast:        {},
	PresetStandard:    {},
	PresetHighQuality: {},
}

// Result is one completed synthesis: the generated waveform at the
// capability's native output rate, its duration, and the storage reference
// of the encoded WAV artifact.
type Result struct {
	Waveform        *audio.Waveform `json:"-"`
	DurationSeconds float64         `json:"duration_seconds"`
	AudioRef        string          `json:"audio_ref"`
}

// Adapter validates synthesis requests, loads the profile's conditioning
// model and invokes the speech-generation capability.
type Adapter struct {
	generator core.SpeechGenerator
	store     core.ObjectStore
	profiles  core.ProfileStore
	codec     *audio.Codec
	log       *logger.Logger
}

// NewAdapter creates a synthesis adapter with its collaborators.
func NewAdapter(
	generator core.SpeechGenerator,
	store core.ObjectStore,
	profiles core.ProfileStore,
	codec *audio.Codec,
	log *logger.Logger,
) *Adapter {
	return &Adapter{
		generator: generator,
		store:     store,
		profiles:  profiles,
		codec:     codec,
		log:       log,
	}
}

// Synthesize generates speech for the given text in the profile's voice.
// The preset is validated before any profile lookup so an unknown preset is
// always reported as the caller's error regardless of profile state.
func (a *Adapter) Synthesize(
	ctx context.Context,
	profileID, text, preset string,
) (*Result, error) {
	if preset == "" {
		preset = DefaultPreset
	}

	_, known := knownPresets[preset]
	if !known {
		return nil, fmt.Errorf("%w: '%s'", core.ErrUnknownPreset, preset)
	}

	if text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", core.ErrValidation)
	}

	pair, err := a.loadModel(ctx, profileID)
	if err != nil {
		return nil, err
	}

	waveform, generateErr := a.generator.Generate(ctx, text, pair, preset)
	if generateErr != nil {
		return nil, fmt.Errorf("speech generation failed: %w", generateErr)
	}

	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("speech generation returned invalid audio: %w", validateErr)
	}

	ref, storeErr := a.storeResult(ctx, profileID, waveform)
	if storeErr != nil {
		return nil, storeErr
	}

	duration := math.Round(waveform.Duration()*100) / 100

	a.log.Info(
		"Synthesized %.2fs of audio for profile %s (preset %s)",
		duration, profileID, preset,
	)

	return &Result{
		Waveform:        waveform,
		DurationSeconds: duration,
		AudioRef:        ref,
	}, nil
}

// loadModel checks profile readiness and deserializes its conditioning
// model. Both the Ready status and a stored model reference are required.
func (a *Adapter) loadModel(ctx context.Context, profileID string) (*core.ConditioningPair, error) {
	profile, err := a.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", profileID, err)
	}

	if profile.Status != core.ProfileReady {
		return nil, fmt.Errorf(
			"%w: profile %s is in status '%s'",
			core.ErrProfileNotReady, profileID, profile.Status,
		)
	}

	if profile.ModelRef == "" {
		return nil, fmt.Errorf(
			"%w: profile %s has no stored voice model",
			core.ErrProfileNotReady, profileID,
		)
	}

	blob, downloadErr := a.store.Download(ctx, profile.ModelRef)
	if downloadErr != nil {
		return nil, fmt.Errorf(
			"failed to download voice model for profile %s: %w",
			profileID, downloadErr,
		)
	}

	pair, decodeErr := voicemodel.Decode(blob)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return pair, nil
}

// storeResult encodes the generated waveform as 16-bit PCM WAV and persists
// it under the profile's synthesized-audio prefix.
func (a *Adapter) storeResult(ctx context.Context, profileID string, waveform *audio.Waveform) (string, error) {
	encoded, err := a.codec.EncodeWAV(waveform)
	if err != nil {
		return "", fmt.Errorf("failed to encode synthesized audio: %w", err)
	}

	key := fmt.Sprintf("synthesized/%s/%s.wav", profileID, uuid.NewString())

	uploadErr := a.store.Upload(ctx, key, encoded)
	if uploadErr != nil {
		return "", fmt.Errorf("failed to store synthesized audio: %w", uploadErr)
	}

	return key, nil
}
