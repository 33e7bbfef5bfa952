// Package progress publishes training progress events over NATS. Publishing
// is best-effort: callers treat a returned error as a logging concern, never
// a pipeline failure.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/arjunchapagain/aasirbad/internal/core"
)

// NatsSink implements core.ProgressSink on a plain NATS subject. Events are
// JSON so dashboards and CLIs can consume them without a schema registry.
type NatsSink struct {
	natsConnection *nats.Conn
	subject        string
}

// NewNatsSink creates a progress sink publishing to the given subject.
func NewNatsSink(natsConnection *nats.Conn, subject string) *NatsSink {
	return &NatsSink{
		natsConnection: natsConnection,
		subject:        subject,
	}
}

// Publish sends one progress event. It never blocks on delivery; NATS
// core publish is fire-and-forget.
func (s *NatsSink) Publish(_ context.Context, event core.TrainingProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	publishErr := s.natsConnection.Publish(s.subject, payload)
	if publishErr != nil {
		return fmt.Errorf("failed to publish progress event: %w", publishErr)
	}

	return nil
}
