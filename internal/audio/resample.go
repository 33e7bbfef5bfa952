package audio

import (
	"errors"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	// drainBlockSize is the number of zero samples fed per drain iteration to
	// flush the resampler's internal filter delay.
	drainBlockSize = 512
	// maxDrainIterations bounds the drain loop; the filter delay of the
	// high-quality preset is far below this many blocks.
	maxDrainIterations = 64
)

// ErrInvalidSampleRate indicates a non-positive resampling target rate.
var ErrInvalidSampleRate = errors.New("invalid target sample rate")

// Resample converts the waveform to targetRate. Matching rates pass through
// unchanged. The primary path is a band-limited polyphase resampler; if it
// cannot be constructed or fails mid-stream, a linear-interpolation fallback
// is used instead. Either way the output length is exactly
// round(len * targetRate / sourceRate).
func Resample(waveform *Waveform, targetRate int) (*Waveform, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, targetRate)
	}

	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	if waveform.SampleRate == targetRate {
		return waveform, nil
	}

	expected := expectedLength(len(waveform.Samples), waveform.SampleRate, targetRate)

	resampled, err := bandLimitedResample(waveform, targetRate, expected)
	if err != nil {
		resampled = linearResample(waveform.Samples, expected, waveform.SampleRate, targetRate)
	}

	return &Waveform{Samples: resampled, SampleRate: targetRate}, nil
}

func expectedLength(sourceLen, sourceRate, targetRate int) int {
	return int(math.Round(float64(sourceLen) * float64(targetRate) / float64(sourceRate)))
}

// bandLimitedResample runs the streaming resampler over the whole buffer and
// drains it with zero blocks until the expected number of samples is
// available, then trims to the exact length contract.
func bandLimitedResample(waveform *Waveform, targetRate, expected int) ([]float64, error) {
	config := &resampling.Config{
		InputRate:  float64(waveform.SampleRate),
		OutputRate: float64(targetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}

	resampler, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	output, err := resampler.Process(waveform.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	drainBlock := make([]float64, drainBlockSize)

	for iteration := 0; len(output) < expected && iteration < maxDrainIterations; iteration++ {
		drained, drainErr := resampler.Process(drainBlock)
		if drainErr != nil {
			return nil, fmt.Errorf("resampler drain error: %w", drainErr)
		}

		output = append(output, drained...)
	}

	if len(output) < expected {
		return nil, fmt.Errorf("resampler produced %d of %d samples", len(output), expected)
	}

	return output[:expected], nil
}

// linearResample is the fallback interpolation kernel. It is not
// band-limited, but preserves the duration contract exactly.
func linearResample(samples []float64, expected, sourceRate, targetRate int) []float64 {
	output := make([]float64, expected)
	step := float64(sourceRate) / float64(targetRate)

	for i := range output {
		position := float64(i) * step
		index := int(position)

		if index >= len(samples)-1 {
			output[i] = samples[len(samples)-1]

			continue
		}

		fraction := position - float64(index)
		output[i] = samples[index]*(1.0-fraction) + samples[index+1]*fraction
	}

	return output
}
