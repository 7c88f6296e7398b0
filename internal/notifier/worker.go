// Package notifier consumes box_locked events and dispatches the initial
// "shard received" push to every guardian with a registered device.
//
// Events arrive through an SQS queue subscribed to the SNS topic; each queue
// message body is the standard SNS envelope wrapping the event payload.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/push"
	"github.com/lockbox/backend/internal/store"
)

// snsEnvelope is the subset of the SNS-to-SQS delivery format we read.
type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Worker handles lock events one queue batch at a time.
type Worker struct {
	tokens   store.PushTokenStore
	push     *push.Client
	metrics  *metrics.Metrics
	sqs      sqsAPI
	queueURL string
	logger   *log.Logger
}

func NewWorker(tokens store.PushTokenStore, pushClient *push.Client, m *metrics.Metrics) *Worker {
	return &Worker{
		tokens:  tokens,
		push:    pushClient,
		metrics: m,
		logger:  log.New(log.Writer(), "[NOTIFIER] ", log.LstdFlags),
	}
}

// WithQueue attaches the SQS client and queue URL used by Run.
func (w *Worker) WithQueue(client sqsAPI, queueURL string) *Worker {
	w.sqs = client
	w.queueURL = queueURL
	return w
}

// HandleMessage processes one raw queue message body. Parse failures and
// unexpected event types are logged and skipped; they never fail the batch.
// A non-nil return means a transient failure (token store, push gateway) and
// the message should be redelivered.
func (w *Worker) HandleMessage(ctx context.Context, body string) error {
	// SNS wraps the payload in its delivery envelope; fall back to the bare
	// payload for direct invocations (tests, replay tooling).
	payload := body
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Message != "" {
		payload = envelope.Message
	}

	// Malformed payloads can never become parseable: failing here would pin a
	// poison message to the queue, so log and ack instead.
	var event models.BoxLockedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		w.logger.Printf("skipping unparseable event payload: %v", err)
		return nil
	}
	if event.EventType != models.EventBoxLocked {
		w.logger.Printf("unexpected event type %q, skipping", event.EventType)
		return nil
	}

	return w.handleBoxLocked(ctx, &event)
}

func (w *Worker) handleBoxLocked(ctx context.Context, event *models.BoxLockedEvent) error {
	if len(event.GuardianIDs) == 0 {
		w.logger.Printf("no guardians to notify for box_id=%s", event.BoxID)
		return nil
	}

	tokens, err := w.tokens.GetPushTokens(ctx, event.GuardianIDs)
	if err != nil {
		return fmt.Errorf("get push tokens: %w", err)
	}
	if len(tokens) == 0 {
		w.logger.Printf("no push tokens found for %d guardians of box_id=%s", len(event.GuardianIDs), event.BoxID)
		return nil
	}

	ownerName := event.OwnerName
	if ownerName == "" {
		ownerName = "Someone"
	}

	tickets, err := w.push.SendShardReceived(ctx, tokens, event.BoxName, ownerName, event.BoxID)
	if w.metrics != nil {
		statuses := make([]string, 0, len(tickets))
		for _, t := range tickets {
			statuses = append(statuses, t.Status)
		}
		w.metrics.RecordPushBatch("shard_received", err, statuses)
	}
	if err != nil {
		return fmt.Errorf("send shard notifications: %w", err)
	}

	w.logger.Printf("notified %d guardians for box_id=%s", len(tokens), event.BoxID)
	return nil
}

// Run long-polls the queue until the context is cancelled. Individual message
// failures are logged; the message is left on the queue for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	if w.sqs == nil || w.queueURL == "" {
		return fmt.Errorf("notifier: queue not configured")
	}

	w.logger.Printf("consuming %s", w.queueURL)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := w.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Printf("receive failed: %v", err)
			continue
		}

		for _, msg := range out.Messages {
			if err := w.HandleMessage(ctx, aws.ToString(msg.Body)); err != nil {
				w.logger.Printf("message %s failed: %v", aws.ToString(msg.MessageId), err)
				continue
			}
			if _, err := w.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(w.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				w.logger.Printf("delete of %s failed: %v", aws.ToString(msg.MessageId), err)
			}
		}
	}
}
