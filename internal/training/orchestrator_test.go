// Package training_test tests the training state machine.
package training_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/registry"
	"github.com/arjunchapagain/aasirbad/internal/training"
	"github.com/arjunchapagain/aasirbad/internal/voicemodel"
)

var errMockExtract = errors.New("mock extraction error")

// mockObjectStore records uploads in memory.
type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: map[string][]byte{}}
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrNotFound
	}

	return data, nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// mockExtractor returns a fixed conditioning pair and reports per-clip
// progress.
type mockExtractor struct {
	shouldFail bool
	clipCount  int
}

func (m *mockExtractor) Extract(
	_ context.Context,
	clips []*audio.Waveform,
	onProgress core.ExtractProgressFunc,
) (*core.ConditioningPair, error) {
	m.clipCount = len(clips)

	if m.shouldFail {
		return nil, errMockExtract
	}

	for i := range clips {
		onProgress(i+1, len(clips))
	}

	return &core.ConditioningPair{
		Embedding: core.Tensor{Shape: []int{1, 3}, Data: []float32{0.1, 0.2, 0.3}},
		Latent:    core.Tensor{Shape: []int{1, 2}, Data: []float32{0.4, 0.5}},
	}, nil
}

// captureSink collects every published progress event.
type captureSink struct {
	mu     sync.Mutex
	events []core.TrainingProgressEvent
}

func (s *captureSink) Publish(_ context.Context, event core.TrainingProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

func (s *captureSink) all() []core.TrainingProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]core.TrainingProgressEvent(nil), s.events...)
}

type trainingFixture struct {
	orchestrator *training.Orchestrator
	store        *mockObjectStore
	registry     *registry.MemoryRegistry
	extractor    *mockExtractor
	sink         *captureSink
	profile      *core.VoiceProfile
	codec        *audio.Codec
}

func newTrainingFixture(t *testing.T, extractor *mockExtractor) *trainingFixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "training-test.log")
	require.NoError(t, err)

	store := newMockObjectStore()
	reg := registry.NewMemoryRegistry()
	sink := &captureSink{}
	codec := audio.NewCodec(nil)

	preprocessor := audio.NewPreprocessor(
		codec, audio.NewAnalyzer(), audio.NewDenoiser(0),
		audio.DefaultTargetSampleRate, audio.DefaultTargetLoudnessDb, testLogger,
	)

	profile, err := reg.CreateProfile(context.Background(), "user-1", "My Voice")
	require.NoError(t, err)

	orchestrator := training.NewOrchestrator(
		preprocessor, codec, extractor, store, reg, reg, sink, 0, 2, testLogger,
	)

	return &trainingFixture{
		orchestrator: orchestrator,
		store:        store,
		registry:     reg,
		extractor:    extractor,
		sink:         sink,
		profile:      profile,
		codec:        codec,
	}
}

// addUploadedRecordings seeds n uploaded recordings with stored originals.
func (f *trainingFixture) addUploadedRecordings(t *testing.T, n int) {
	t.Helper()

	ctx := context.Background()
	sampleRate := audio.DefaultTargetSampleRate

	for i := range n {
		samples := make([]float64, int(1.5*float64(sampleRate)))
		for j := range samples {
			samples[j] = 0.4 * math.Sin(2*math.Pi*220*float64(j)/float64(sampleRate))
		}

		data, err := f.codec.EncodeWAV(&audio.Waveform{Samples: samples, SampleRate: sampleRate})
		require.NoError(t, err)

		key := "recordings/" + f.profile.ID + "/" + uuid.NewString() + ".wav"
		require.NoError(t, f.store.Upload(ctx, key, data))

		record := &core.RecordingRecord{
			ID:              uuid.NewString(),
			ProfileID:       f.profile.ID,
			OrdinalIndex:    i,
			Status:          core.RecordingUploaded,
			OriginalRef:     key,
			ProcessedRef:    "",
			FileSizeBytes:   int64(len(data)),
			DurationSeconds: 1.5,
			SampleRate:      sampleRate,
			Metrics:         nil,
			RejectionReason: "",
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, f.registry.AddRecording(ctx, record))
	}
}

func TestOrchestrator_TrainToReady(t *testing.T) {
	t.Parallel()

	fixture := newTrainingFixture(t, &mockExtractor{shouldFail: false, clipCount: 0})
	fixture.addUploadedRecordings(t, 5)

	ctx := context.Background()

	modelRef, err := fixture.orchestrator.Train(ctx, fixture.profile.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(modelRef, "voices/"+fixture.profile.ID+"/"))

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileReady, profile.Status)
	assert.Equal(t, modelRef, profile.ModelRef)
	assert.InEpsilon(t, 1.0, profile.TrainingProgress, 1e-9)
	assert.NotNil(t, profile.TrainingStartedAt)
	assert.NotNil(t, profile.TrainingCompletedAt)
	assert.Empty(t, profile.TrainingError)

	// Every recording was preprocessed and its artifact stored.
	records, err := fixture.registry.ListRecordings(ctx, fixture.profile.ID)
	require.NoError(t, err)

	for _, record := range records {
		assert.Equal(t, core.RecordingProcessed, record.Status)
		assert.True(t, strings.HasPrefix(record.ProcessedRef, "processed/"+fixture.profile.ID+"/"))
		assert.NotNil(t, record.Metrics)
	}

	assert.Equal(t, 5, fixture.extractor.clipCount)

	// The stored blob must load back as a valid conditioning model.
	blob, err := fixture.store.Download(ctx, modelRef)
	require.NoError(t, err)

	pair, err := voicemodel.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, pair.Embedding.Data)

	events := fixture.sink.all()
	require.NotEmpty(t, events)
	assert.InEpsilon(t, 0.05, events[0].Progress, 1e-9)

	terminal := events[len(events)-1]
	assert.Equal(t, core.ProgressStatusReady, terminal.Status)
	assert.InEpsilon(t, 1.0, terminal.Progress, 1e-9)

	for _, event := range events {
		assert.GreaterOrEqual(t, event.Progress, 0.0)
		assert.LessOrEqual(t, event.Progress, 1.0)
		assert.Equal(t, fixture.profile.ID, event.ProfileID)
	}
}

func TestOrchestrator_RefusesWhileTraining(t *testing.T) {
	t.Parallel()

	fixture := newTrainingFixture(t, &mockExtractor{shouldFail: false, clipCount: 0})
	fixture.addUploadedRecordings(t, 5)

	ctx := context.Background()

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)

	profile.Status = core.ProfileTraining
	require.NoError(t, fixture.registry.UpdateProfile(ctx, profile))

	_, err = fixture.orchestrator.Train(ctx, fixture.profile.ID)
	require.ErrorIs(t, err, core.ErrPrecondition)
}

func TestOrchestrator_RefusesTooFewRecordings(t *testing.T) {
	t.Parallel()

	fixture := newTrainingFixture(t, &mockExtractor{shouldFail: false, clipCount: 0})
	fixture.addUploadedRecordings(t, 3)

	_, err := fixture.orchestrator.Train(context.Background(), fixture.profile.ID)
	require.ErrorIs(t, err, core.ErrPrecondition)
	assert.Contains(t, err.Error(), "need 5")
}

func TestOrchestrator_ExtractionFailureMarksProfileFailed(t *testing.T) {
	t.Parallel()

	fixture := newTrainingFixture(t, &mockExtractor{shouldFail: true, clipCount: 0})
	fixture.addUploadedRecordings(t, 5)

	ctx := context.Background()

	_, err := fixture.orchestrator.Train(ctx, fixture.profile.ID)
	require.ErrorIs(t, err, errMockExtract)

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileFailed, profile.Status)
	assert.Contains(t, profile.TrainingError, "mock extraction error")

	// Preprocessed artifacts survive for reuse on retry.
	records, err := fixture.registry.ListRecordings(ctx, fixture.profile.ID)
	require.NoError(t, err)

	for _, record := range records {
		assert.Equal(t, core.RecordingProcessed, record.Status)
	}

	events := fixture.sink.all()
	require.NotEmpty(t, events)
	assert.Equal(t, core.ProgressStatusFailed, events[len(events)-1].Status)
}

func TestOrchestrator_RetrainAfterFailure(t *testing.T) {
	t.Parallel()

	extractor := &mockExtractor{shouldFail: true, clipCount: 0}
	fixture := newTrainingFixture(t, extractor)
	fixture.addUploadedRecordings(t, 5)

	ctx := context.Background()

	_, err := fixture.orchestrator.Train(ctx, fixture.profile.ID)
	require.Error(t, err)

	// Failed profiles may retrain; processed artifacts are reused.
	extractor.shouldFail = false

	modelRef, err := fixture.orchestrator.Train(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, modelRef)

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileReady, profile.Status)
	assert.Empty(t, profile.TrainingError)
}
