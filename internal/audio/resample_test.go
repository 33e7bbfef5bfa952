package audio_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunchapagain/aasirbad/internal/audio"
)

func TestResample_PassthroughOnMatchingRate(t *testing.T) {
	t.Parallel()

	input := sineWave(440, 0.5, 1.0, 22050)

	output, err := audio.Resample(input, 22050)
	require.NoError(t, err)

	assert.Equal(t, input, output)
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()

	input := sineWave(440, 0.5, 1.0, 44100)

	output, err := audio.Resample(input, 22050)
	require.NoError(t, err)

	assert.Equal(t, 22050, output.SampleRate)
	assert.Len(t, output.Samples, 22050)
	assert.InDelta(t, input.Duration(), output.Duration(), 0.001)

	// The tone must survive: output energy stays in the same ballpark.
	var sum float64
	for _, sample := range output.Samples {
		sum += sample * sample
	}

	rms := math.Sqrt(sum / float64(len(output.Samples)))
	assert.InDelta(t, 0.5/math.Sqrt2, rms, 0.05)
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()

	input := sineWave(440, 0.5, 0.5, 16000)

	output, err := audio.Resample(input, 22050)
	require.NoError(t, err)

	expected := int(math.Round(float64(len(input.Samples)) * 22050.0 / 16000.0))
	assert.Len(t, output.Samples, expected)
}

func TestResample_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := audio.Resample(&audio.Waveform{Samples: nil, SampleRate: 22050}, 16000)
	require.ErrorIs(t, err, audio.ErrEmptyWaveform)

	_, err = audio.Resample(sineWave(440, 0.5, 0.1, 22050), 0)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)

	_, err = audio.Resample(sineWave(440, 0.5, 0.1, 22050), -8000)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
}
