// Package events publishes Lockbox domain events to an SNS topic.
//
// Publishing is fire-and-forget from the caller's point of view but
// synchronous with respect to the HTTP response: cores call Publish inline
// after the store write, log any failure, and never surface it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher emits a typed event. kind is mirrored both in the payload's
// event_type field (the payload structs carry it) and as the eventType
// message attribute for broker-side filtering.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any, attrs map[string]string) error
}

// snsAPI is the slice of the SNS client the publisher uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events to the topic named by SNS_TOPIC_ARN. The AWS
// client and topic ARN are initialized lazily on first use and cached for the
// lifetime of the process. TEST_SNS=true turns Publish into a success no-op.
type SNSPublisher struct {
	initOnce sync.Once
	initErr  error
	client   snsAPI
	topicARN string
	logger   *log.Logger
}

func NewSNSPublisher() *SNSPublisher {
	return &SNSPublisher{
		logger: log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
	}
}

func (p *SNSPublisher) init(ctx context.Context) {
	p.initOnce.Do(func() {
		arn := os.Getenv("SNS_TOPIC_ARN")
		if arn == "" {
			p.initErr = fmt.Errorf("SNS_TOPIC_ARN environment variable not set")
			return
		}

		cfgCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		cfg, err := awsconfig.LoadDefaultConfig(cfgCtx)
		if err != nil {
			p.initErr = fmt.Errorf("load aws config: %w", err)
			return
		}

		p.client = sns.NewFromConfig(cfg)
		p.topicARN = arn
	})
}

// Publish serializes payload and sends it to the topic. Returns an error so
// callers can log it; callers never propagate it to their own callers.
func (p *SNSPublisher) Publish(ctx context.Context, kind string, payload any, attrs map[string]string) error {
	if os.Getenv("TEST_SNS") == "true" {
		p.logger.Printf("test mode: skipping publish of %s event", kind)
		return nil
	}

	p.init(ctx)
	if p.initErr != nil {
		return p.initErr
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	attributes := map[string]snstypes.MessageAttributeValue{
		"eventType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(kind),
		},
	}
	for k, v := range attrs {
		attributes[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = p.client.Publish(pubCtx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("publish %s to sns: %w", kind, err)
	}

	p.logger.Printf("published %s event", kind)
	return nil
}

// Recorder is an in-memory Publisher that keeps every published event, used
// by tests to assert on emitted payloads.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

type RecordedEvent struct {
	Kind    string
	Payload any
	Attrs   map[string]string
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, kind string, payload any, attrs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Kind: kind, Payload: payload, Attrs: attrs})
	return nil
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind returns recorded events of one kind.
func (r *Recorder) ByKind(kind string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Publisher = (*SNSPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
