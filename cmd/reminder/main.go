// The reminder worker: periodically sweeps locked boxes and nags guardians
// who have not accepted their shard. Pass -once for a single sweep (cron or
// scheduled-task deployments).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/lockbox/backend/internal/config"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/push"
	"github.com/lockbox/backend/internal/reminder"
	"github.com/lockbox/backend/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg := config.Load()

	st, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		log.Fatalf("supabase client: %v", err)
	}

	worker := reminder.NewWorker(st, st, push.NewClient(cfg.ExpoPushURL), metrics.New())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := worker.Sweep(ctx, time.Now()); err != nil {
			log.Fatalf("sweep: %v", err)
		}
		return
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("reminder: %v", err)
	}
}
