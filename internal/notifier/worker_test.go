package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/push"
	"github.com/lockbox/backend/internal/store"
)

type testGateway struct {
	server   *httptest.Server
	received [][]push.Message
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	g := &testGateway{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []push.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		g.received = append(g.received, batch)

		tickets := make([]push.Ticket, len(batch))
		for i := range tickets {
			tickets[i] = push.Ticket{Status: "ok"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	t.Cleanup(g.server.Close)
	return g
}

func lockedEventBody(t *testing.T, guardianIDs ...string) string {
	t.Helper()
	raw, err := json.Marshal(models.BoxLockedEvent{
		EventType:   models.EventBoxLocked,
		BoxID:       "box-1",
		BoxName:     "Estate",
		OwnerName:   "Dana",
		GuardianIDs: guardianIDs,
		Timestamp:   models.NowStr(),
	})
	require.NoError(t, err)
	return string(raw)
}

func TestHandleMessageUnwrapsEnvelope(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)
	require.NoError(t, st.SavePushToken(context.Background(), models.PushToken{
		UserID:    "g-1",
		PushToken: "ExponentPushToken[g-1]",
		Platform:  "ios",
	}))

	envelope, err := json.Marshal(map[string]string{
		"Type":      "Notification",
		"MessageId": "m-1",
		"Message":   lockedEventBody(t, "g-1"),
	})
	require.NoError(t, err)

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), string(envelope)))

	require.Len(t, gateway.received, 1)
	require.Len(t, gateway.received[0], 1)
	msg := gateway.received[0][0]
	assert.Equal(t, "ExponentPushToken[g-1]", msg.To)
	assert.Equal(t, "Action Required: Accept Key Shard", msg.Title)
	assert.Equal(t, "shard_received", msg.Data["type"])
	assert.Equal(t, "box-1", msg.Data["boxId"])
}

func TestHandleMessageAcceptsBarePayload(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)
	require.NoError(t, st.SavePushToken(context.Background(), models.PushToken{
		UserID:    "g-1",
		PushToken: "ExponentPushToken[g-1]",
		Platform:  "android",
	}))

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), lockedEventBody(t, "g-1")))
	require.Len(t, gateway.received, 1)
}

func TestHandleMessageSkipsUnexpectedEventType(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)

	raw, err := json.Marshal(map[string]string{"event_type": "invitation_created"})
	require.NoError(t, err)

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), string(raw)), "unexpected types are skipped, not failed")
	assert.Empty(t, gateway.received)
}

func TestHandleMessageAcksGarbage(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), "not json"),
		"a malformed message can never be reprocessed; skip it instead of redelivering")
	assert.Empty(t, gateway.received)
}

// fakeQueue serves a fixed set of messages and records deletions.
type fakeQueue struct {
	messages []sqstypes.Message
	deleted  []string
	cancel   context.CancelFunc
}

func (q *fakeQueue) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: q.messages}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.deleted = append(q.deleted, aws.ToString(params.ReceiptHandle))
	q.cancel()
	return &sqs.DeleteMessageOutput{}, nil
}

func TestRunDeletesPoisonMessage(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := &fakeQueue{
		messages: []sqstypes.Message{{
			MessageId:     aws.String("poison-1"),
			ReceiptHandle: aws.String("receipt-1"),
			Body:          aws.String("{not json"),
		}},
		cancel: cancel,
	}

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil).
		WithQueue(queue, "https://sqs.test/queue")

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"receipt-1"}, queue.deleted)
	assert.Empty(t, gateway.received)
}

func TestHandleBoxLockedNoGuardians(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), lockedEventBody(t)))
	assert.Empty(t, gateway.received)
}

func TestHandleBoxLockedSkipsTokenlessGuardians(t *testing.T) {
	st := store.NewMemory()
	gateway := newTestGateway(t)
	require.NoError(t, st.SavePushToken(context.Background(), models.PushToken{
		UserID:    "g-1",
		PushToken: "ExponentPushToken[g-1]",
		Platform:  "ios",
	}))

	w := NewWorker(st, push.NewClient(gateway.server.URL), nil)
	require.NoError(t, w.HandleMessage(context.Background(), lockedEventBody(t, "g-1", "g-2", "g-3")))

	// Only the registered device receives a message.
	require.Len(t, gateway.received, 1)
	require.Len(t, gateway.received[0], 1)
	assert.Equal(t, "ExponentPushToken[g-1]", gateway.received[0][0].To)
}
