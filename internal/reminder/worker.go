// Package reminder sweeps locked boxes on a fixed cadence and nags guardians
// who have not yet accepted their shard.
//
// Reminders fire inside narrow 6-hour windows keyed on elapsed time since the
// shard was delivered, matching the sweep cadence. A sweep missed across a
// whole window (service outage) skips that reminder rather than double-fire;
// there is no per-guardian schedule table.
package reminder

import (
	"context"
	"log"
	"time"

	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/push"
	"github.com/lockbox/backend/internal/store"
)

// SweepInterval is the cadence the windows below are sized for.
const SweepInterval = 6 * time.Hour

// Reminder offsets in hours.
const (
	gracePeriodHours = 1
	reminder1Hours   = 24
	reminder2Hours   = 72
	reminder3Hours   = 168 // one week
	windowHours      = 6
)

// ReminderNumber maps hours-since-shard to the reminder to send, or 0 for
// none. Each reminder fires only inside its own 6-hour window.
func ReminderNumber(hoursSince int64) int {
	if hoursSince < gracePeriodHours {
		return 0
	}
	switch {
	case hoursSince >= reminder1Hours && hoursSince < reminder1Hours+windowHours:
		return 1
	case hoursSince >= reminder2Hours && hoursSince < reminder2Hours+windowHours:
		return 2
	case hoursSince >= reminder3Hours && hoursSince < reminder3Hours+windowHours:
		return 3
	default:
		return 0
	}
}

// Worker performs reminder sweeps.
type Worker struct {
	boxes   store.BoxStore
	tokens  store.PushTokenStore
	push    *push.Client
	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewWorker(boxStore store.BoxStore, tokenStore store.PushTokenStore, pushClient *push.Client, m *metrics.Metrics) *Worker {
	return &Worker{
		boxes:   boxStore,
		tokens:  tokenStore,
		push:    pushClient,
		metrics: m,
		logger:  log.New(log.Writer(), "[REMINDER] ", log.LstdFlags),
	}
}

// Sweep runs one pass over all locked boxes at the given instant. Errors on
// individual boxes or guardians are logged and never stop the sweep; the
// sweep itself mutates no state.
func (w *Worker) Sweep(ctx context.Context, now time.Time) error {
	boxes, err := w.boxes.ScanLocked(ctx)
	if err != nil {
		return err
	}

	w.logger.Printf("found %d locked boxes to check", len(boxes))

	sent := 0
	for i := range boxes {
		sent += w.processBox(ctx, &boxes[i], now)
	}

	w.logger.Printf("sweep completed: %d boxes checked, %d reminders sent", len(boxes), sent)
	return nil
}

func (w *Worker) processBox(ctx context.Context, box *models.Box, now time.Time) int {
	if box.LockedAt == nil {
		w.logger.Printf("box %s is locked but has no locked_at timestamp, skipping", box.ID)
		return 0
	}
	lockedAt, err := models.ParseTime(*box.LockedAt)
	if err != nil {
		w.logger.Printf("box %s has malformed locked_at %q, skipping", box.ID, *box.LockedAt)
		return 0
	}

	ownerName := box.OwnerName
	if ownerName == "" {
		ownerName = "Someone"
	}

	sent := 0
	for _, guardian := range box.Guardians {
		if guardian.ShardAcceptedAt != nil {
			continue
		}

		// Prefer the owner-side delivery signal; fall back to the lock time.
		shardSentAt := lockedAt
		if guardian.LockDataReceivedAt != nil {
			if t, err := models.ParseTime(*guardian.LockDataReceivedAt); err == nil {
				shardSentAt = t
			}
		}

		hoursSince := int64(now.Sub(shardSentAt).Hours())
		n := ReminderNumber(hoursSince)
		if n == 0 {
			continue
		}

		if guardian.ID == "" {
			w.logger.Printf("guardian of box %s has no user id yet, skipping reminder", box.ID)
			continue
		}

		tokens, err := w.tokens.GetPushTokens(ctx, []string{guardian.ID})
		if err != nil {
			w.logger.Printf("token lookup failed for guardian %s of box %s: %v", guardian.ID, box.ID, err)
			continue
		}
		if len(tokens) == 0 {
			w.logger.Printf("no push token for guardian %s of box %s", guardian.ID, box.ID)
			continue
		}

		w.logger.Printf("sending reminder %d to guardian %s for box %s (hours since shard: %d)", n, guardian.ID, box.ID, hoursSince)

		tickets, err := w.push.SendShardReminder(ctx, tokens, box.Name, ownerName, box.ID, n)
		if w.metrics != nil {
			statuses := make([]string, 0, len(tickets))
			for _, t := range tickets {
				statuses = append(statuses, t.Status)
			}
			w.metrics.RecordPushBatch("shard_reminder", err, statuses)
		}
		if err != nil {
			w.logger.Printf("reminder to guardian %s failed: %v", guardian.ID, err)
			continue
		}

		if w.metrics != nil {
			w.metrics.RecordReminder(n)
		}
		sent++
	}
	return sent
}

// Run sweeps immediately and then on every tick until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	if err := w.Sweep(ctx, time.Now()); err != nil {
		w.logger.Printf("sweep failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx, time.Now()); err != nil {
				w.logger.Printf("sweep failed: %v", err)
			}
		}
	}
}
