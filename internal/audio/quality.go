package audio

import (
	"math"
	"sort"
)

// Framing and threshold constants for quality analysis.
const (
	// epsilon guards every log10 against zero input.
	epsilon = 1e-10
	// analysisWindowSeconds and analysisHopSeconds define the 25ms/10ms
	// framing used for the frame-RMS statistics.
	analysisWindowSeconds = 0.025
	analysisHopSeconds    = 0.010
	// clippingThreshold and clippingRatio define clipping detection: flagged
	// when more than 0.1% of samples exceed |0.99|.
	clippingThreshold = 0.99
	clippingRatio     = 0.001
	// silenceMultiplier marks a frame silent when its RMS is below this
	// multiple of the noise floor.
	silenceMultiplier = 2.0
)

// QualityMetrics is an immutable snapshot of objective signal quality
// computed from one waveform. The dB values are rounded to two decimals and
// the silence ratio to three; downstream tests depend on this rounding.
type QualityMetrics struct {
	SNRDb            float64 `json:"snr_db"`
	RMSDb            float64 `json:"rms_db"`
	ClippingDetected bool    `json:"clipping_detected"`
	SilenceRatio     float64 `json:"silence_ratio"`
}

// Analyzer computes QualityMetrics from waveforms. It is stateless and safe
// for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates a quality analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze measures RMS loudness, estimated SNR, clipping and silence ratio.
// The noise floor is the mean of the quietest 10% of 25ms frames and the
// signal level the mean of the loudest half.
func (a *Analyzer) Analyze(waveform *Waveform) QualityMetrics {
	samples := waveform.Samples

	rmsDb := 20 * math.Log10(rms(samples)+epsilon)

	frameRMS := frameRMSValues(samples, waveform.SampleRate)

	sorted := make([]float64, len(frameRMS))
	copy(sorted, frameRMS)
	sort.Float64s(sorted)

	noiseCount := len(sorted) / 10
	if noiseCount < 1 {
		noiseCount = 1
	}

	noiseFloor := mean(sorted[:noiseCount])
	signalLevel := mean(sorted[len(sorted)/2:])

	snrDb := 20 * math.Log10((signalLevel+epsilon)/(noiseFloor+epsilon))

	clipped := 0

	for _, sample := range samples {
		if math.Abs(sample) > clippingThreshold {
			clipped++
		}
	}

	silentFrames := 0

	for _, value := range frameRMS {
		if value < silenceMultiplier*noiseFloor {
			silentFrames++
		}
	}

	return QualityMetrics{
		SNRDb:            round2(snrDb),
		RMSDb:            round2(rmsDb),
		ClippingDetected: float64(clipped) > float64(len(samples))*clippingRatio,
		SilenceRatio:     round3(float64(silentFrames) / float64(len(frameRMS))),
	}
}

// frameRMSValues frames the signal into 25ms windows with a 10ms hop and
// returns the per-frame RMS. Signals shorter than one window yield a single
// whole-signal frame.
func frameRMSValues(samples []float64, sampleRate int) []float64 {
	frameLength := int(math.Round(analysisWindowSeconds * float64(sampleRate)))
	hopLength := int(math.Round(analysisHopSeconds * float64(sampleRate)))

	if frameLength < 1 || hopLength < 1 || len(samples) < frameLength {
		return []float64{rms(samples)}
	}

	frameCount := 1 + (len(samples)-frameLength)/hopLength
	values := make([]float64, frameCount)

	for i := range frameCount {
		start := i * hopLength
		values[i] = rms(samples[start : start+frameLength])
	}

	return values
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += sample * sample
	}

	return math.Sqrt(sum / float64(len(samples)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, value := range values {
		sum += value
	}

	return sum / float64(len(values))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}
