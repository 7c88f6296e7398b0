// Package api exposes the Lockbox HTTP surface: a thin JSON adaptor over the
// box and invitation cores plus push-token registration.
package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockbox/backend/internal/boxes"
	"github.com/lockbox/backend/internal/invitation"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	boxes       *boxes.Service
	invitations *invitation.Service
	tokens      store.PushTokenStore
	metrics     *metrics.Metrics
	logger      *log.Logger
}

func NewServer(boxSvc *boxes.Service, invSvc *invitation.Service, tokens store.PushTokenStore, m *metrics.Metrics) *Server {
	return &Server{
		boxes:       boxSvc,
		invitations: invSvc,
		tokens:      tokens,
		metrics:     m,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table under the given prefix ("" or "/Prod").
// Health and metrics are mounted outside the prefix and outside auth.
func (s *Server) Router(prefix string) http.Handler {
	root := mux.NewRouter()
	root.Use(s.instrument)
	root.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if prefix == "" {
		prefix = "/"
	}
	api := root.PathPrefix(prefix).Subrouter()
	api.Use(s.identityMiddleware)

	// Owner box operations.
	api.HandleFunc("/boxes/owned", s.handleCreateBox).Methods(http.MethodPost)
	api.HandleFunc("/boxes/owned", s.handleListOwnedBoxes).Methods(http.MethodGet)
	api.HandleFunc("/boxes/owned/{id}", s.handleGetOwnedBox).Methods(http.MethodGet)
	api.HandleFunc("/boxes/owned/{id}", s.handleUpdateBox).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/owned/{id}", s.handleDeleteBox).Methods(http.MethodDelete)
	api.HandleFunc("/boxes/owned/{id}/lock", s.handleLockBox).Methods(http.MethodPost)
	api.HandleFunc("/boxes/owned/{id}/guardian", s.handleUpsertGuardian).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/owned/{id}/guardian/{guardianId}", s.handleDeleteGuardian).Methods(http.MethodDelete)
	api.HandleFunc("/boxes/owned/{id}/document", s.handleUpsertDocument).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/owned/{id}/document/{documentId}", s.handleDeleteDocument).Methods(http.MethodDelete)

	// Guardian box operations.
	api.HandleFunc("/boxes/guardian", s.handleListGuardianBoxes).Methods(http.MethodGet)
	api.HandleFunc("/boxes/guardian/{id}", s.handleGetGuardianBox).Methods(http.MethodGet)
	api.HandleFunc("/boxes/guardian/{id}/shard", s.handleFetchShard).Methods(http.MethodGet)
	api.HandleFunc("/boxes/guardian/{id}/shard/ack", s.handleAcknowledgeShard).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/guardian/{id}/shard/accept", s.handleAcceptShard).Methods(http.MethodPost)
	api.HandleFunc("/boxes/guardian/{id}/request", s.handleRequestUnlock).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/guardian/{id}/respond", s.handleRespondToUnlockRequest).Methods(http.MethodPatch)
	api.HandleFunc("/boxes/guardian/{id}/invitation", s.handleRespondToInvitation).Methods(http.MethodPatch)

	// Invitations.
	api.HandleFunc("/invitations/new", s.handleCreateInvitation).Methods(http.MethodPost)
	api.HandleFunc("/invitations/me", s.handleListMyInvitations).Methods(http.MethodGet)
	api.HandleFunc("/invitations/view/{code}", s.handleViewInvitation).Methods(http.MethodGet)
	api.HandleFunc("/invitations/handle", s.handleRedeemInvitation).Methods(http.MethodPut)
	api.HandleFunc("/invitations/{id}/refresh", s.handleRefreshInvitation).Methods(http.MethodPatch)

	// Users.
	api.HandleFunc("/users/push-token", s.handleSavePushToken).Methods(http.MethodPut)

	return corsMiddleware(root)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
