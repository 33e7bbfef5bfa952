package audio

import (
	"fmt"
	"math"
	"sync"

	"github.com/book-expert/logger"
)

// Preprocessing defaults; all of them are overridable through the
// Preprocessor constructor parameters.
const (
	// DefaultTargetSampleRate is the rate every recording is converted to
	// before conditioning extraction.
	DefaultTargetSampleRate = 22050
	// DefaultTargetLoudnessDb is the RMS level recordings are normalized to.
	DefaultTargetLoudnessDb = -20.0
	// trimThresholdDb is the silence cutoff relative to peak amplitude.
	trimThresholdDb = 25.0
	// trimFrameLength and trimHopLength frame the trim analysis.
	trimFrameLength = 2048
	trimHopLength   = 512
	// minTrimmedSeconds guards against over-aggressive trimming: shorter
	// results discard the trim and keep the untrimmed signal.
	minTrimmedSeconds = 0.5
	// padSeconds of silence are added to both ends after trimming for a
	// natural onset and offset.
	padSeconds = 0.05
	// peakCeiling is the post-gain peak above which the normalized signal is
	// rescaled to avoid clipping.
	peakCeiling = 0.95
)

// ProcessedAudio is the result of the preprocessing pipeline for one
// recording: the cleaned waveform and the quality metrics re-measured on it.
type ProcessedAudio struct {
	Waveform        *Waveform
	SampleRate      int
	DurationSeconds float64
	Metrics         QualityMetrics
}

// BatchItem is one recording in a preprocessing batch.
type BatchItem struct {
	Data []byte
	Ext  string
}

// BatchResult carries the per-item outcome of ProcessBatch. Exactly one of
// Audio and Err is set.
type BatchResult struct {
	Index int
	Audio *ProcessedAudio
	Err   error
}

// Preprocessor runs the deterministic cleaning pipeline:
// decode -> resample -> denoise -> trim -> normalize -> re-measure quality.
// The denoise stage degrades to the unmodified signal on failure; every
// other stage failure aborts the item.
type Preprocessor struct {
	codec            *Codec
	analyzer         *Analyzer
	denoiser         *Denoiser
	targetSampleRate int
	targetLoudnessDb float64
	log              *logger.Logger
}

// NewPreprocessor creates a preprocessor. Non-positive targetSampleRate and
// zero targetLoudnessDb select the defaults.
func NewPreprocessor(
	codec *Codec,
	analyzer *Analyzer,
	denoiser *Denoiser,
	targetSampleRate int,
	targetLoudnessDb float64,
	log *logger.Logger,
) *Preprocessor {
	if targetSampleRate <= 0 {
		targetSampleRate = DefaultTargetSampleRate
	}

	if targetLoudnessDb == 0 {
		targetLoudnessDb = DefaultTargetLoudnessDb
	}

	return &Preprocessor{
		codec:            codec,
		analyzer:         analyzer,
		denoiser:         denoiser,
		targetSampleRate: targetSampleRate,
		targetLoudnessDb: targetLoudnessDb,
		log:              log,
	}
}

// Process runs the full pipeline on raw audio bytes in the declared format.
func (p *Preprocessor) Process(data []byte, ext string) (*ProcessedAudio, error) {
	waveform, err := p.codec.Decode(data, ext)
	if err != nil {
		return nil, err
	}

	waveform, err = Resample(waveform, p.targetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to resample to %d Hz: %w", p.targetSampleRate, err)
	}

	denoised, denoiseErr := p.denoiser.Reduce(waveform)
	if denoiseErr != nil {
		// Degrade, never abort: a failed denoise keeps the original signal.
		p.log.Warn("Noise reduction failed, using original audio: %v", denoiseErr)
	} else {
		waveform = denoised
	}

	waveform = p.trimSilence(waveform)
	waveform = normalizeLoudness(waveform, p.targetLoudnessDb)

	return &ProcessedAudio{
		Waveform:        waveform,
		SampleRate:      waveform.SampleRate,
		DurationSeconds: waveform.Duration(),
		Metrics:         p.analyzer.Analyze(waveform),
	}, nil
}

// ProcessBatch processes items independently on a bounded worker pool.
// A failure on one item is logged and recorded in its result; it never
// aborts the batch. Results are indexed like the input.
func (p *Preprocessor) ProcessBatch(items []BatchItem, workers int) []BatchResult {
	if workers < 1 {
		workers = 1
	}

	results := make([]BatchResult, len(items))

	var waitGroup sync.WaitGroup

	workerPool := make(chan struct{}, workers)

	for index, item := range items {
		waitGroup.Add(1)

		go func(index int, item BatchItem) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			processed, err := p.Process(item.Data, item.Ext)
			if err != nil {
				p.log.Error("Failed to preprocess recording %d/%d: %v", index+1, len(items), err)

				results[index] = BatchResult{Index: index, Audio: nil, Err: err}

				return
			}

			results[index] = BatchResult{Index: index, Audio: processed, Err: nil}
		}(index, item)
	}

	waitGroup.Wait()
	close(workerPool)

	return results
}

// trimSilence removes leading and trailing segments below the energy
// threshold relative to peak. If the trimmed result would fall under the
// minimum duration the trim is discarded; otherwise 50ms of silence is
// padded onto both ends.
func (p *Preprocessor) trimSilence(waveform *Waveform) *Waveform {
	samples := waveform.Samples

	peak := 0.0
	for _, sample := range samples {
		peak = math.Max(peak, math.Abs(sample))
	}

	if peak <= 0 {
		return waveform
	}

	threshold := peak * math.Pow(10, -trimThresholdDb/20)

	firstFrame, lastFrame := activeFrameRange(samples, threshold)
	if firstFrame < 0 {
		return waveform
	}

	start := firstFrame * trimHopLength

	end := lastFrame*trimHopLength + trimFrameLength
	if end > len(samples) {
		end = len(samples)
	}

	trimmed := samples[start:end]

	minSamples := int(minTrimmedSeconds * float64(waveform.SampleRate))
	if len(trimmed) < minSamples {
		return waveform
	}

	padSamples := int(padSeconds * float64(waveform.SampleRate))

	padded := make([]float64, padSamples+len(trimmed)+padSamples)
	copy(padded[padSamples:], trimmed)

	return &Waveform{Samples: padded, SampleRate: waveform.SampleRate}
}

// activeFrameRange returns the first and last frame whose RMS exceeds the
// threshold, or (-1, -1) when every frame is below it.
func activeFrameRange(samples []float64, threshold float64) (int, int) {
	frameCount := 1 + (len(samples)-trimFrameLength)/trimHopLength
	if len(samples) < trimFrameLength {
		frameCount = 1
	}

	first, last := -1, -1

	for i := range frameCount {
		start := i * trimHopLength

		end := start + trimFrameLength
		if end > len(samples) {
			end = len(samples)
		}

		if rms(samples[start:end]) > threshold {
			if first < 0 {
				first = i
			}

			last = i
		}
	}

	return first, last
}

// normalizeLoudness applies the linear gain that brings the signal to the
// target RMS level, then rescales if the resulting peak would clip.
func normalizeLoudness(waveform *Waveform, targetDb float64) *Waveform {
	currentDb := 20 * math.Log10(rms(waveform.Samples)+epsilon)
	gain := math.Pow(10, (targetDb-currentDb)/20)

	normalized := make([]float64, len(waveform.Samples))
	peak := 0.0

	for i, sample := range waveform.Samples {
		normalized[i] = sample * gain
		peak = math.Max(peak, math.Abs(normalized[i]))
	}

	if peak > peakCeiling {
		rescale := peakCeiling / peak
		for i := range normalized {
			normalized[i] *= rescale
		}
	}

	return &Waveform{Samples: normalized, SampleRate: waveform.SampleRate}
}
