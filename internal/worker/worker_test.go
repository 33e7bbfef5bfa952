// Package worker_test tests the NATS training worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunchapagain/aasirbad/internal/core"
	"github.com/arjunchapagain/aasirbad/internal/registry"
	"github.com/arjunchapagain/aasirbad/internal/worker"
)

var errMockTrain = errors.New("mock train error")

// mockTrainer is a mock implementation of the Trainer interface.
type mockTrainer struct {
	trainShouldFail bool
	trainedProfile  string
	modelRef        string
}

func (m *mockTrainer) Train(_ context.Context, profileID string) (string, error) {
	m.trainedProfile = profileID

	if m.trainShouldFail {
		return "", errMockTrain
	}

	return m.modelRef, nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T, trainer *mockTrainer) (
	*worker.NatsWorker,
	*core.VoiceProfile,
	context.Context,
	context.CancelFunc,
	*nats.Conn,
) {
	t.Helper()

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	profiles := registry.NewMemoryRegistry()

	profile, err := profiles.CreateProfile(context.Background(), "user-1", "My Voice")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, "voice.training.requested", trainer, profiles, time.Minute, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	return workerInstance, profile, ctx, cancel, natsConnection
}

func trainingRequest(t *testing.T, profileID string) []byte {
	t.Helper()

	event := &core.TrainingRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		ProfileID: profileID,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	return data
}

// requestTraining retries the request until the worker's subscription is
// live; Run subscribes asynchronously after the goroutine starts.
func requestTraining(t *testing.T, natsConnection *nats.Conn, payload []byte) *nats.Msg {
	t.Helper()

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		msg, err := natsConnection.Request("voice.training.requested", payload, time.Second)
		if err != nil {
			return false
		}

		reply = msg

		return true
	}, 10*time.Second, 50*time.Millisecond, "worker never answered the training request")

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	trainer := &mockTrainer{
		trainShouldFail: false,
		trainedProfile:  "",
		modelRef:        "voices/profile-1/model.bin",
	}

	workerInstance, profile, ctx, cancel, natsConnection := setupTest(t, trainer)
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	replyMsg := requestTraining(t, natsConnection, trainingRequest(t, profile.ID))

	var replyEvent core.TrainingCompletedEvent

	err := json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, profile.ID, trainer.trainedProfile)
	assert.Equal(t, profile.ID, replyEvent.ProfileID)
	assert.Equal(t, trainer.modelRef, replyEvent.ModelRef)
	assert.Empty(t, replyEvent.Error)

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_TrainFailure(t *testing.T) {
	t.Parallel()

	trainer := &mockTrainer{
		trainShouldFail: true,
		trainedProfile:  "",
		modelRef:        "",
	}

	workerInstance, profile, ctx, cancel, natsConnection := setupTest(t, trainer)
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	replyMsg := requestTraining(t, natsConnection, trainingRequest(t, profile.ID))

	var replyEvent core.TrainingCompletedEvent

	err := json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, profile.ID, replyEvent.ProfileID)
	assert.Empty(t, replyEvent.ModelRef)
	assert.Contains(t, replyEvent.Error, "mock train error")

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr)
}
