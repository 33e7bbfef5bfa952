// Package worker provides the NATS worker that consumes training jobs and
// drives the training orchestrator. One message is one training job; the
// orchestrator enforces per-profile mutual exclusion underneath.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/arjunchapagain/aasirbad/internal/core"
)

// DefaultJobTimeout is the ceiling for one training job. Conditioning
// extraction dominates it.
const DefaultJobTimeout = time.Hour

// ErrProfileIDEmpty indicates a training request without a profile ID.
var ErrProfileIDEmpty = errors.New("profile id cannot be empty")

// Trainer is the orchestration entry point the worker drives.
type Trainer interface {
	Train(ctx context.Context, profileID string) (string, error)
}

// NatsWorker listens for training requests on a NATS subject and runs them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	trainer        Trainer
	profiles       core.ProfileStore
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a training worker. A non-positive jobTimeout selects
// the default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	trainer Trainer,
	profiles core.ProfileStore,
	jobTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		trainer:        trainer,
		profiles:       profiles,
		jobTimeout:     jobTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse training request: %v", err)

		return
	}

	w.log.Info("Training job accepted for profile %s (workflow %s)", event.ProfileID, event.Header.WorkflowID)

	modelRef, trainErr := w.trainer.Train(ctx, event.ProfileID)

	replyEvent := w.buildReply(ctx, event, modelRef, trainErr)

	if trainErr != nil {
		w.log.Error(
			"Training job failed for profile %s (workflow %s): %v",
			event.ProfileID, event.Header.WorkflowID, trainErr,
		)
	}

	publishErr := w.publishReplyEvent(msg, replyEvent)
	if publishErr != nil {
		w.log.Error(
			"Failed to publish training reply for workflow %s: %v",
			event.Header.WorkflowID, publishErr,
		)
	}
}

// buildReply reports the terminal outcome of the job. The profile status is
// re-read so the reply reflects what the orchestrator actually persisted.
func (w *NatsWorker) buildReply(
	ctx context.Context,
	event *core.TrainingRequestedEvent,
	modelRef string,
	trainErr error,
) *core.TrainingCompletedEvent {
	reply := &core.TrainingCompletedEvent{
		Header:    event.Header,
		ProfileID: event.ProfileID,
		ModelRef:  modelRef,
		Status:    core.ProfileReady,
		Error:     "",
	}

	if trainErr != nil {
		reply.Status = core.ProfileFailed
		reply.Error = trainErr.Error()
	}

	profile, err := w.profiles.GetProfile(ctx, event.ProfileID)
	if err == nil {
		reply.Status = profile.Status
	}

	return reply
}

// publishReplyEvent marshals and responds with the TrainingCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *core.TrainingCompletedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*core.TrainingRequestedEvent, error) {
	var event core.TrainingRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.ProfileID == "" {
		return nil, ErrProfileIDEmpty
	}

	return &event, nil
}
