// Package invitation implements the single-use, time-bounded invite codes
// that bind a box to a guardian identity.
package invitation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lockbox/backend/internal/apperr"
	"github.com/lockbox/backend/internal/events"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/store"
)

// Validity window for a fresh or refreshed code.
const expiryWindow = 48 * time.Hour

// Service implements the invitation lifecycle: create, view, redeem, refresh.
type Service struct {
	store   store.InvitationStore
	bus     events.Publisher
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

func NewService(st store.InvitationStore, bus events.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		store:   st,
		bus:     bus,
		metrics: m,
		logger:  log.New(log.Writer(), "[INVITATION] ", log.LstdFlags),
		now:     time.Now,
	}
}

// WithClock overrides the service clock; tests use it to cross expiry
// boundaries without sleeping.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create issues a fresh invitation with a 48h expiry window and emits
// invitation_created.
func (s *Service) Create(ctx context.Context, creatorID, invitedName, boxID string, isLead bool) (*models.Invitation, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, apperr.Internal("failed to generate invite code", err)
	}

	now := s.now()
	inv := models.Invitation{
		ID:             uuid.New().String(),
		InviteCode:     code,
		InvitedName:    invitedName,
		BoxID:          boxID,
		CreatorID:      creatorID,
		CreatedAt:      models.TimeStr(now),
		ExpiresAt:      models.TimeStr(now.Add(expiryWindow)),
		Opened:         false,
		LinkedUserID:   nil,
		IsLeadGuardian: isLead,
	}

	created, err := s.store.CreateInvitation(ctx, inv)
	if err != nil {
		return nil, apperr.Internal("failed to create invitation", err)
	}

	s.emit(ctx, models.EventInvitationCreated, models.InvitationEvent{
		EventType:      models.EventInvitationCreated,
		InvitationID:   created.ID,
		BoxID:          created.BoxID,
		InviteCode:     created.InviteCode,
		InvitedName:    created.InvitedName,
		IsLeadGuardian: created.IsLeadGuardian,
		Timestamp:      models.TimeStr(now),
	})

	return created, nil
}

// ViewByCode is a read-only lookup: it mutates neither opened nor
// linked_user_id, and may be repeated freely.
func (s *Service) ViewByCode(ctx context.Context, code string) (*models.Invitation, error) {
	inv, err := s.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("invitation not found")
		}
		return nil, apperr.Internal("failed to look up invitation", err)
	}
	if inv.Expired(s.now()) {
		return nil, apperr.Gone("invitation has expired")
	}
	return inv, nil
}

// Handle redeems a code for the calling user. The store update is guarded on
// opened=false, so of N concurrent calls exactly one commits; the rest
// observe Forbidden. On success invitation_viewed is emitted.
func (s *Service) Handle(ctx context.Context, code, callerID string) (*models.Invitation, error) {
	inv, err := s.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("invitation not found")
		}
		return nil, apperr.Internal("failed to look up invitation", err)
	}
	if inv.Expired(s.now()) {
		return nil, apperr.Gone("invitation has expired")
	}
	if inv.Opened {
		return nil, apperr.Forbidden("invitation has already been used")
	}

	inv.Opened = true
	inv.LinkedUserID = &callerID

	updated, err := s.store.UpdateInvitation(ctx, *inv)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			// Lost the redemption race: someone else opened it first.
			return nil, apperr.Forbidden("invitation has already been used")
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("invitation not found")
		}
		return nil, apperr.Internal("failed to redeem invitation", err)
	}

	s.emit(ctx, models.EventInvitationViewed, models.InvitationEvent{
		EventType:      models.EventInvitationViewed,
		InvitationID:   updated.ID,
		BoxID:          updated.BoxID,
		UserID:         callerID,
		InviteCode:     updated.InviteCode,
		IsLeadGuardian: updated.IsLeadGuardian,
		Timestamp:      models.TimeStr(s.now()),
	})

	return updated, nil
}

// Refresh issues a new code and a new 48h window. Only the creator may
// refresh, and only while the invitation is unopened.
func (s *Service) Refresh(ctx context.Context, id, callerID string) (*models.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The original surfaces refresh-of-unknown as Forbidden so the
			// endpoint does not leak which invitation ids exist.
			return nil, apperr.Forbidden("you cannot refresh this invitation")
		}
		return nil, apperr.Internal("failed to look up invitation", err)
	}
	if inv.CreatorID != callerID {
		return nil, apperr.Forbidden("only the invitation creator can refresh it")
	}
	if inv.Opened {
		return nil, apperr.BadRequest("cannot refresh an invitation that has been used")
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, apperr.Internal("failed to generate invite code", err)
	}

	now := s.now()
	inv.InviteCode = code
	inv.CreatedAt = models.TimeStr(now)
	inv.ExpiresAt = models.TimeStr(now.Add(expiryWindow))

	updated, err := s.store.UpdateInvitation(ctx, *inv)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, apperr.BadRequest("cannot refresh an invitation that has been used")
		}
		return nil, apperr.Internal("failed to refresh invitation", err)
	}
	return updated, nil
}

// ListMine returns every invitation created by the caller.
func (s *Service) ListMine(ctx context.Context, callerID string) ([]models.Invitation, error) {
	invs, err := s.store.ListByCreator(ctx, callerID)
	if err != nil {
		return nil, apperr.Internal("failed to list invitations", err)
	}
	if invs == nil {
		invs = []models.Invitation{}
	}
	return invs, nil
}

func (s *Service) emit(ctx context.Context, kind string, payload any) {
	err := s.bus.Publish(ctx, kind, payload, nil)
	if s.metrics != nil {
		s.metrics.RecordPublish(kind, err)
	}
	if err != nil {
		s.logger.Printf("failed to publish %s event: %v", kind, err)
	}
}
