package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Supported file extensions.
const (
	extWAV  = ".wav"
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extOGG  = ".ogg"
	extWEBM = ".webm"
)

const (
	pcm16BitDepth = 16
	pcm16Scale    = 32768.0
	pcm16Max      = 32767.0
	wavPCMFormat  = 1
)

// Static errors.
var (
	// ErrUnsupportedFormat indicates an extension the codec cannot decode,
	// either because it is unknown or because the optional decoder capability
	// for it was not provided.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode indicates that the audio bytes could not be read.
	ErrDecode = errors.New("cannot decode audio")
	// ErrEncode indicates a failure while writing PCM16 WAV output.
	ErrEncode = errors.New("cannot encode audio")
)

// MP3Decoder is the optional capability for decoding MP3 uploads. When a
// Codec is constructed without one, MP3 input fails with
// ErrUnsupportedFormat.
type MP3Decoder interface {
	DecodeMP3(data []byte) (*Waveform, error)
}

// Codec decodes uploaded audio bytes into mono float waveforms and encodes
// waveforms back into the canonical PCM16 WAV container.
type Codec struct {
	mp3Decoder MP3Decoder
}

// NewCodec creates a codec. The MP3 decoder may be nil; WAV, FLAC and OGG
// are always available.
func NewCodec(mp3Decoder MP3Decoder) *Codec {
	return &Codec{mp3Decoder: mp3Decoder}
}

// Decode reads audio bytes in the format declared by ext and returns a mono
// waveform at the source sample rate. Multi-channel audio is down-mixed by
// channel-wise averaging.
func (c *Codec) Decode(data []byte, ext string) (*Waveform, error) {
	normalized := strings.ToLower(strings.TrimSpace(ext))
	if normalized != "" && !strings.HasPrefix(normalized, ".") {
		normalized = "." + normalized
	}

	var (
		waveform *Waveform
		err      error
	)

	switch normalized {
	case extWAV:
		waveform, err = decodeWAV(data)
	case extFLAC:
		waveform, err = decodeFLAC(data)
	case extOGG:
		waveform, err = decodeOGG(data)
	case extMP3:
		if c.mp3Decoder == nil {
			return nil, fmt.Errorf("%w: '%s' (no MP3 decoder configured)", ErrUnsupportedFormat, normalized)
		}

		waveform, err = c.mp3Decoder.DecodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, normalized)
	}

	if err != nil {
		return nil, err
	}

	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, validateErr)
	}

	return waveform, nil
}

// EncodeWAV writes the waveform as a mono 16-bit PCM WAV file. Quantization
// uses the same 2^15 scale the decoder divides by, so a round trip stays
// within one quantization step of the input.
func (c *Codec) EncodeWAV(waveform *Waveform) ([]byte, error) {
	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, validateErr)
	}

	samples := make([]int, len(waveform.Samples))

	for i, sample := range waveform.Samples {
		clamped := math.Max(-1.0, math.Min(1.0, sample))

		quantized := math.Round(clamped * pcm16Scale)
		if quantized > pcm16Max {
			quantized = pcm16Max
		}

		samples[i] = int(quantized)
	}

	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  waveform.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: pcm16BitDepth,
	}

	sink := &seekableBuffer{}

	encoder := wav.NewEncoder(sink, waveform.SampleRate, pcm16BitDepth, 1, wavPCMFormat)

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, closeErr)
	}

	return sink.Bytes(), nil
}

func decodeWAV(data []byte) (*Waveform, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrDecode)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if buffer == nil || len(buffer.Data) == 0 {
		return nil, fmt.Errorf("%w: WAV file contains no samples", ErrDecode)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = pcm16BitDepth
	}

	scale := math.Pow(2, float64(bitDepth-1))
	channels := buffer.Format.NumChannels

	interleaved := make([]float64, len(buffer.Data))
	for i, sample := range buffer.Data {
		interleaved[i] = float64(sample) / scale
	}

	return &Waveform{
		Samples:    downmix(interleaved, channels),
		SampleRate: buffer.Format.SampleRate,
	}, nil
}

func decodeFLAC(data []byte) (*Waveform, error) {
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	channels := int(stream.Info.NChannels)
	scale := math.Pow(2, float64(stream.Info.BitsPerSample-1))

	var mono []float64

	for {
		frame, parseErr := stream.ParseNext()
		if errors.Is(parseErr, io.EOF) {
			break
		}

		if parseErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, parseErr)
		}

		frameLen := len(frame.Subframes[0].Samples)

		for i := range frameLen {
			var sum float64
			for c := range channels {
				sum += float64(frame.Subframes[c].Samples[i])
			}

			mono = append(mono, sum/float64(channels)/scale)
		}
	}

	return &Waveform{
		Samples:    mono,
		SampleRate: int(stream.Info.SampleRate),
	}, nil
}

func decodeOGG(data []byte) (*Waveform, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	interleaved := make([]float64, len(samples))
	for i, sample := range samples {
		interleaved[i] = float64(sample)
	}

	return &Waveform{
		Samples:    downmix(interleaved, format.Channels),
		SampleRate: format.SampleRate,
	}, nil
}

// GoMP3Decoder implements the MP3Decoder capability with a pure Go decoder.
type GoMP3Decoder struct{}

// NewGoMP3Decoder creates the default MP3 decoder capability.
func NewGoMP3Decoder() *GoMP3Decoder {
	return &GoMP3Decoder{}
}

// DecodeMP3 decodes MP3 bytes. The decoder always emits 16-bit stereo PCM,
// which is down-mixed to mono here.
func (d *GoMP3Decoder) DecodeMP3(data []byte) (*Waveform, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	pcm, readErr := io.ReadAll(decoder)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, readErr)
	}

	const mp3Channels = 2

	frames := len(pcm) / (2 * mp3Channels)
	interleaved := make([]float64, frames*mp3Channels)

	for i := range frames * mp3Channels {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		interleaved[i] = float64(sample) / pcm16Scale
	}

	return &Waveform{
		Samples:    downmix(interleaved, mp3Channels),
		SampleRate: decoder.SampleRate(),
	}, nil
}

// seekableBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// must seek back to patch the RIFF header sizes.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	needed := b.pos + len(p)
	if needed > len(b.data) {
		grown := make([]byte, needed)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int

	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("%w: invalid seek whence %d", ErrEncode, whence)
	}

	if next < 0 {
		return 0, fmt.Errorf("%w: negative seek position", ErrEncode)
	}

	b.pos = next

	return int64(next), nil
}

func (b *seekableBuffer) Bytes() []byte {
	return b.data
}
