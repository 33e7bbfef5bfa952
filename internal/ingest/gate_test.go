// Package ingest_test tests the recording admission policy.
package ingest_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/ingest"
	"github.com/arjunchapagain/aasirbad/internal/registry"
)

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

	return m.objects[key], nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

func (m *mockObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

type gateFixture struct {
	gate     *ingest.Gate
	codec    *audio.Codec
	store    *mockObjectStore
	registry *registry.MemoryRegistry
	profile  *core.VoiceProfile
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "gate-test.log")
	require.NoError(t, err)

	store := newMockObjectStore()
	reg := registry.NewMemoryRegistry()
	codec := audio.NewCodec(nil)

	profile, err := reg.CreateProfile(context.Background(), "user-1", "My Voice")
	require.NoError(t, err)

	gate := ingest.NewGate(
		codec, audio.NewAnalyzer(), store, reg, reg, ingest.GateConfig{}, testLogger,
	)

	return &gateFixture{
		gate:     gate,
		codec:    codec,
		store:    store,
		registry: reg,
		profile:  profile,
	}
}

// cleanRecording is a tone with a quiet lead-in: high SNR, sane loudness,
// little silence.
func cleanRecording(t *testing.T, codec *audio.Codec) []byte {
	t.Helper()

	sampleRate := 22050
	lead := int(0.2 * float64(sampleRate))
	tone := int(2.3 * float64(sampleRate))
	samples := make([]float64, lead+tone)

	seed := uint64(7)
	for i := range lead {
		seed = seed*6364136223846793005 + 1442695040888963407
		samples[i] = (float64(seed>>40)/float64(1<<24) - 0.5) * 2e-4
	}

	for i := range tone {
		samples[lead+i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate))
	}

	data, err := codec.EncodeWAV(&audio.Waveform{Samples: samples, SampleRate: sampleRate})
	require.NoError(t, err)

	return data
}

// flatNoise has no dynamics at all, which drives the estimated SNR to zero.
func flatNoise(t *testing.T, codec *audio.Codec) []byte {
	t.Helper()

	sampleRate := 22050
	samples := make([]float64, 2*sampleRate)

	seed := uint64(11)
	for i := range samples {
		seed = seed*6364136223846793005 + 1442695040888963407
		samples[i] = (float64(seed>>40)/float64(1<<24) - 0.5) * 0.2
	}

	data, err := codec.EncodeWAV(&audio.Waveform{Samples: samples, SampleRate: sampleRate})
	require.NoError(t, err)

	return data
}

func TestGate_AdmitsCleanRecording(t *testing.T) {
	t.Parallel()

	fixture := newGateFixture(t)
	ctx := context.Background()

	record, err := fixture.gate.Admit(ctx, fixture.profile.ID, 0, cleanRecording(t, fixture.codec), "take-1.wav")
	require.NoError(t, err)

	assert.Equal(t, core.RecordingUploaded, record.Status)
	assert.Empty(t, record.RejectionReason)
	assert.NotNil(t, record.Metrics)
	assert.Equal(t, 1, fixture.store.count())

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProfileRecording, profile.Status)
	assert.Equal(t, 1, profile.TotalRecordings)
	assert.InDelta(t, record.DurationSeconds, profile.TotalDurationSeconds, 0.001)
}

func TestGate_RejectsLowSNR(t *testing.T) {
	t.Parallel()

	fixture := newGateFixture(t)
	ctx := context.Background()

	record, err := fixture.gate.Admit(ctx, fixture.profile.ID, 0, flatNoise(t, fixture.codec), "noisy.wav")
	require.NoError(t, err)

	// Quality rejection is an outcome, not an error: the original bytes and
	// the record are both persisted.
	assert.Equal(t, core.RecordingRejected, record.Status)
	assert.Contains(t, record.RejectionReason, "Low signal-to-noise ratio")
	assert.Equal(t, 1, fixture.store.count())

	profile, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.TotalRecordings)
	assert.Equal(t, core.ProfilePending, profile.Status)
}

func TestGate_ValidationBeforeStorage(t *testing.T) {
	t.Parallel()

	fixture := newGateFixture(t)
	ctx := context.Background()

	clean := cleanRecording(t, fixture.codec)

	// Unknown extension.
	_, err := fixture.gate.Admit(ctx, fixture.profile.ID, 0, clean, "voice.xyz")
	require.ErrorIs(t, err, core.ErrValidation)

	// Too small to be real audio.
	_, err = fixture.gate.Admit(ctx, fixture.profile.ID, 0, []byte("tiny"), "voice.wav")
	require.ErrorIs(t, err, core.ErrValidation)

	// Ordinal out of range.
	_, err = fixture.gate.Admit(ctx, fixture.profile.ID, 99, clean, "voice.wav")
	require.ErrorIs(t, err, core.ErrValidation)

	// Undecodable bytes of plausible size.
	garbage := make([]byte, 4096)
	_, err = fixture.gate.Admit(ctx, fixture.profile.ID, 0, garbage, "voice.wav")
	require.ErrorIs(t, err, audio.ErrDecode)

	// None of the failures may have written to storage.
	assert.Equal(t, 0, fixture.store.count())
}

func TestGate_RejectsShortDuration(t *testing.T) {
	t.Parallel()

	fixture := newGateFixture(t)

	short := &audio.Waveform{
		Samples:    make([]float64, 11025),
		SampleRate: 22050,
	}
	for i := range short.Samples {
		short.Samples[i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/22050.0)
	}

	data, err := fixture.codec.EncodeWAV(short)
	require.NoError(t, err)

	_, err = fixture.gate.Admit(context.Background(), fixture.profile.ID, 0, data, "short.wav")
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, fixture.store.count())
}

func TestGate_StatsRefreshIsIdempotent(t *testing.T) {
	t.Parallel()

	fixture := newGateFixture(t)
	ctx := context.Background()

	clean := cleanRecording(t, fixture.codec)

	_, err := fixture.gate.Admit(ctx, fixture.profile.ID, 0, clean, "take-1.wav")
	require.NoError(t, err)

	_, err = fixture.gate.Admit(ctx, fixture.profile.ID, 1, clean, "take-2.wav")
	require.NoError(t, err)

	first, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)

	require.NoError(t, fixture.gate.RefreshProfileStats(ctx, fixture.profile.ID))
	require.NoError(t, fixture.gate.RefreshProfileStats(ctx, fixture.profile.ID))

	second, err := fixture.registry.GetProfile(ctx, fixture.profile.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TotalRecordings, second.TotalRecordings)
	assert.InDelta(t, first.TotalDurationSeconds, second.TotalDurationSeconds, 0.0001)
	assert.Equal(t, 2, second.TotalRecordings)
}
