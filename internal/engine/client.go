// Package engine is the HTTP client for the inference sidecar that hosts the
// neural voice models. The sidecar exposes conditioning extraction and speech
// generation over msgpack; this package adapts those endpoints to the core
// capability interfaces.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arjunchapagain/aasirbad/internal/audio"
	"github.com/arjunchapagain/aasirbad/internal/core"
)

// ErrEngineUnavailable indicates the inference sidecar is not reachable.
var ErrEngineUnavailable = errors.New("inference engine unavailable")

// ErrEngineTimeout indicates the sidecar took too long to respond.
var ErrEngineTimeout = errors.New("inference engine timeout")

// EngineError is a non-2xx response from the sidecar, with its body as the
// message.
type EngineError struct {
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error (status %d): %s", e.StatusCode, e.Message)
}

const (
	defaultTimeout     = 30 * time.Minute
	maxIdleConnections = 100
	idleConnTimeout    = 90 * time.Second
	msgpackContentType = "application/msgpack"
	conditioningPath   = "/v1/conditioning"
	generatePath       = "/v1/generate"
	healthPath         = "/v1/health"
	maxErrorBodyBytes  = 4096
)

// clip is one reference waveform on the wire.
type clip struct {
	Samples    []float64 `msgpack:"samples"`
	SampleRate int       `msgpack:"sample_rate"`
}

type conditioningRequest struct {
	Clips []clip `msgpack:"clips"`
}

type conditioningResponse struct {
	Embedding core.Tensor `msgpack:"embedding"`
	Latent    core.Tensor `msgpack:"latent"`
}

type generateRequest struct {
	Text      string      `msgpack:"text"`
	Preset    string      `msgpack:"preset"`
	Embedding core.Tensor `msgpack:"embedding"`
	Latent    core.Tensor `msgpack:"latent"`
}

type generateResponse struct {
	Samples    []float64 `msgpack:"samples"`
	SampleRate int       `msgpack:"sample_rate"`
}

// Config holds the sidecar endpoint settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client talks to the inference sidecar. It implements both
// core.ConditioningExtractor and core.SpeechGenerator.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// NewClient creates a sidecar client with connection pooling. A zero timeout
// selects a default generous enough for conditioning extraction.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConnections,
		MaxIdleConnsPerHost: maxIdleConnections,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		endpoint: cfg.URL,
	}
}

// Health checks whether the sidecar is reachable and responding.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Extract sends all reference clips in one request and returns the speaker
// conditioning pair. Sub-progress is reported only at completion; the
// sidecar's extraction is a single opaque call.
func (c *Client) Extract(
	ctx context.Context,
	clips []*audio.Waveform,
	onProgress core.ExtractProgressFunc,
) (*core.ConditioningPair, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: no reference clips", core.ErrInsufficientData)
	}

	request := conditioningRequest{Clips: make([]clip, len(clips))}

	for i, waveform := range clips {
		request.Clips[i] = clip{
			Samples:    waveform.Samples,
			SampleRate: waveform.SampleRate,
		}
	}

	var response conditioningResponse

	err := c.post(ctx, conditioningPath, &request, &response)
	if err != nil {
		return nil, err
	}

	if len(response.Embedding.Data) == 0 || len(response.Latent.Data) == 0 {
		return nil, fmt.Errorf("%w: engine returned empty conditioning tensors", core.ErrModelFormat)
	}

	if onProgress != nil {
		onProgress(len(clips), len(clips))
	}

	return &core.ConditioningPair{
		Embedding: response.Embedding,
		Latent:    response.Latent,
	}, nil
}

// Generate synthesizes speech for the text using the given conditioning
// pair. The returned waveform is at the engine's native output rate.
func (c *Client) Generate(
	ctx context.Context,
	text string,
	pair *core.ConditioningPair,
	preset string,
) (*audio.Waveform, error) {
	if pair == nil {
		return nil, fmt.Errorf("%w: nil conditioning pair", core.ErrModelFormat)
	}

	request := generateRequest{
		Text:      text,
		Preset:    preset,
		Embedding: pair.Embedding,
		Latent:    pair.Latent,
	}

	var response generateResponse

	err := c.post(ctx, generatePath, &request, &response)
	if err != nil {
		return nil, err
	}

	waveform := &audio.Waveform{
		Samples:    response.Samples,
		SampleRate: response.SampleRate,
	}

	validateErr := waveform.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("engine returned invalid audio: %w", validateErr)
	}

	return waveform, nil
}

// post sends one msgpack request and decodes the msgpack response.
func (c *Client) post(ctx context.Context, path string, request, response any) error {
	body, err := msgpack.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", msgpackContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrEngineTimeout, err)
		}

		return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return &EngineError{StatusCode: resp.StatusCode, Message: string(message)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	unmarshalErr := msgpack.Unmarshal(respBody, response)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to decode response: %w", unmarshalErr)
	}

	return nil
}
