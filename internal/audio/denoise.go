package audio

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT parameters for the spectral gate. They match the framing the original
// recordings were tuned against: 2048-sample windows with a 512-sample hop.
const (
	denoiseFFTSize = 2048
	denoiseHopSize = 512
	// noiseRiseRate is the per-frame smoothing factor with which the noise
	// estimate follows rising magnitudes. Falling magnitudes are tracked
	// immediately, which makes the estimate non-stationary: it rides the
	// quietest recent level of each frequency bin.
	noiseRiseRate = 0.05
	// gateThresholdMultiplier opens the gate for bins whose magnitude
	// exceeds this multiple of the tracked noise level.
	gateThresholdMultiplier = 1.5
	// defaultReductionStrength is the proportional attenuation applied to
	// gated bins.
	defaultReductionStrength = 0.7
	// minWindowCoverage is the smallest accumulated squared-window weight at
	// which the overlap-add normalization is trustworthy. Below it the
	// division amplifies the gate's spectral ringing instead of normalizing
	// it, so those edge samples keep the input signal.
	minWindowCoverage = 0.5
)

// ErrSignalTooShort indicates a signal shorter than one STFT window; the
// caller is expected to degrade to the unmodified signal.
var ErrSignalTooShort = errors.New("signal shorter than one denoiser window")

// Denoiser applies spectral-gating noise reduction: a short-time Fourier
// transform, a per-bin non-stationary noise estimate, proportional
// attenuation of bins at or below the noise gate, and weighted overlap-add
// reconstruction.
type Denoiser struct {
	strength float64
	window   []float64
	fft      *fourier.FFT
}

// NewDenoiser creates a denoiser. A non-positive strength selects the
// default proportional reduction.
func NewDenoiser(strength float64) *Denoiser {
	if strength <= 0 || strength > 1 {
		strength = defaultReductionStrength
	}

	return &Denoiser{
		strength: strength,
		window:   hannWindow(denoiseFFTSize),
		fft:      fourier.NewFFT(denoiseFFTSize),
	}
}

// Reduce returns a denoised copy of the waveform. Errors mean the signal
// could not be processed at all; callers fall back to the input.
func (d *Denoiser) Reduce(waveform *Waveform) (*Waveform, error) {
	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	samples := waveform.Samples
	if len(samples) < denoiseFFTSize {
		return nil, fmt.Errorf("%w: %d samples", ErrSignalTooShort, len(samples))
	}

	frameCount := 1 + (len(samples)-denoiseFFTSize)/denoiseHopSize

	spectra := make([][]complex128, frameCount)
	magnitudes := make([][]float64, frameCount)
	frame := make([]float64, denoiseFFTSize)

	for i := range frameCount {
		start := i * denoiseHopSize

		for j := range denoiseFFTSize {
			frame[j] = samples[start+j] * d.window[j]
		}

		coefficients := d.fft.Coefficients(nil, frame)
		spectra[i] = coefficients

		magnitudes[i] = make([]float64, len(coefficients))
		for k, coefficient := range coefficients {
			magnitudes[i][k] = cmplxAbs(coefficient)
		}
	}

	gains := d.gateGains(magnitudes)

	return &Waveform{
		Samples:    d.reconstruct(spectra, gains, samples),
		SampleRate: waveform.SampleRate,
	}, nil
}

// gateGains tracks a per-bin noise level over time and derives the gain mask.
// The estimate follows falling magnitudes immediately and rising magnitudes
// slowly, so slowly-varying background noise is tracked even when its level
// drifts during the recording.
func (d *Denoiser) gateGains(magnitudes [][]float64) [][]float64 {
	frameCount := len(magnitudes)
	binCount := len(magnitudes[0])

	noise := make([]float64, binCount)
	copy(noise, magnitudes[0])

	gains := make([][]float64, frameCount)

	for i := range frameCount {
		gains[i] = make([]float64, binCount)

		for k := range binCount {
			magnitude := magnitudes[i][k]

			if magnitude < noise[k] {
				noise[k] = magnitude
			} else {
				noise[k] += noiseRiseRate * (magnitude - noise[k])
			}

			if magnitude > gateThresholdMultiplier*noise[k] {
				gains[i][k] = 1.0
			} else {
				gains[i][k] = 1.0 - d.strength
			}
		}
	}

	smoothGains(gains)

	return gains
}

// smoothGains averages each gain with its temporal and spectral neighbors.
// Without this the hard gate produces audible musical noise.
func smoothGains(gains [][]float64) {
	frameCount := len(gains)
	binCount := len(gains[0])

	smoothed := make([][]float64, frameCount)

	for i := range frameCount {
		smoothed[i] = make([]float64, binCount)

		for k := range binCount {
			sum := gains[i][k]
			count := 1.0

			if i > 0 {
				sum += gains[i-1][k]
				count++
			}

			if i < frameCount-1 {
				sum += gains[i+1][k]
				count++
			}

			if k > 0 {
				sum += gains[i][k-1]
				count++
			}

			if k < binCount-1 {
				sum += gains[i][k+1]
				count++
			}

			smoothed[i][k] = sum / count
		}
	}

	for i := range frameCount {
		copy(gains[i], smoothed[i])
	}
}

// reconstruct applies the gain mask and rebuilds the time-domain signal with
// weighted overlap-add, normalizing by the accumulated squared window. Edge
// samples with negligible window coverage keep their original values.
func (d *Denoiser) reconstruct(spectra [][]complex128, gains [][]float64, original []float64) []float64 {
	outputLen := len(original)
	output := make([]float64, outputLen)
	windowSum := make([]float64, outputLen)
	masked := make([]complex128, len(spectra[0]))

	for i, spectrum := range spectra {
		for k, coefficient := range spectrum {
			masked[k] = coefficient * complex(gains[i][k], 0)
		}

		frame := d.fft.Sequence(nil, masked)
		start := i * denoiseHopSize

		for j := range denoiseFFTSize {
			position := start + j
			if position >= outputLen {
				break
			}

			// Sequence returns the unnormalized inverse; divide by the
			// transform length here.
			output[position] += frame[j] / denoiseFFTSize * d.window[j]
			windowSum[position] += d.window[j] * d.window[j]
		}
	}

	for i := range output {
		if windowSum[i] >= minWindowCoverage {
			output[i] /= windowSum[i]
		} else {
			output[i] = original[i]
		}
	}

	return output
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	return window
}

func cmplxAbs(value complex128) float64 {
	return math.Hypot(real(value), imag(value))
}
