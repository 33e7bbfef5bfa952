// Package audio implements the signal layer of the pipeline: decoding
// uploaded audio into mono float waveforms, PCM16 WAV encoding, band-limited
// resampling, objective quality analysis, spectral-gating noise reduction,
// and the deterministic preprocessing pipeline that prepares recordings for
// conditioning extraction.
package audio

import "errors"

// Waveform is a mono sequence of float samples at a known sample rate.
// Sample values are conceptually in [-1.0, 1.0]; multi-channel sources are
// down-mixed to one channel at decode time.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// ErrEmptyWaveform indicates a waveform with no samples or no sample rate.
var ErrEmptyWaveform = errors.New("waveform is empty")

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}

	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Validate checks the invariants every decoded waveform must satisfy.
func (w *Waveform) Validate() error {
	if len(w.Samples) == 0 || w.SampleRate <= 0 {
		return ErrEmptyWaveform
	}

	return nil
}

// Clone returns a deep copy. Pipeline stages operate on copies so the input
// waveform is never mutated in place.
func (w *Waveform) Clone() *Waveform {
	samples := make([]float64, len(w.Samples))
	copy(samples, w.Samples)

	return &Waveform{Samples: samples, SampleRate: w.SampleRate}
}

// downmix averages interleaved multi-channel samples into one channel.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	mono := make([]float64, frames)

	for i := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved[i*channels+c]
		}

		mono[i] = sum / float64(channels)
	}

	return mono
}
