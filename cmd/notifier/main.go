// The notification worker: consumes box_locked events from the SQS queue and
// pushes shard-received notifications to guardians.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lockbox/backend/internal/config"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/notifier"
	"github.com/lockbox/backend/internal/push"
	"github.com/lockbox/backend/internal/store"
)

func main() {
	cfg := config.Load()
	if cfg.SQSQueueURL == "" {
		log.Fatal("SQS_QUEUE_URL is required")
	}

	st, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		log.Fatalf("supabase client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	worker := notifier.NewWorker(st, push.NewClient(cfg.ExpoPushURL), metrics.New()).
		WithQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("notifier: %v", err)
	}
}
