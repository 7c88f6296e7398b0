// The lockbox API server: boxes, guardians, invitations, push tokens.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lockbox/backend/internal/api"
	"github.com/lockbox/backend/internal/boxes"
	"github.com/lockbox/backend/internal/config"
	"github.com/lockbox/backend/internal/events"
	"github.com/lockbox/backend/internal/invitation"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/store"
)

func main() {
	cfg := config.Load()

	st, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		log.Fatalf("supabase client: %v", err)
	}

	m := metrics.New()
	bus := events.NewSNSPublisher()

	boxSvc := boxes.NewService(st, bus, m)
	invSvc := invitation.NewService(st, bus, m)

	server := api.NewServer(boxSvc, invSvc, st, m)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(cfg.BasePath()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s (base path %q)", httpServer.Addr, cfg.BasePath())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
