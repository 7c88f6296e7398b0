// Package boxes implements the box lifecycle: owner edits, the one-way lock
// transition with shard distribution, and per-guardian shard custody.
package boxes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lockbox/backend/internal/apperr"
	"github.com/lockbox/backend/internal/events"
	"github.com/lockbox/backend/internal/metrics"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/store"
)

// Service coordinates box state against the store and the event bus.
type Service struct {
	store   store.BoxStore
	bus     events.Publisher
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

func NewService(st store.BoxStore, bus events.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		store:   st,
		bus:     bus,
		metrics: m,
		logger:  log.New(log.Writer(), "[BOXES] ", log.LstdFlags),
		now:     time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ---------------------------------------------------------------------------
// owner operations

// Create stores a fresh unlocked box owned by the caller.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Box, error) {
	now := models.TimeStr(s.now())
	box := models.Box{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
		OwnerName:   req.OwnerName,
		IsLocked:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
		Documents:   []models.Document{},
		Guardians:   []models.Guardian{},
	}

	created, err := s.store.CreateBox(ctx, box)
	if err != nil {
		return nil, apperr.Internal("failed to create box", err)
	}
	return created, nil
}

// GetOwned returns a box by id, enforcing ownership.
func (s *Service) GetOwned(ctx context.Context, id, callerID string) (*models.Box, error) {
	box, err := s.getBox(ctx, id)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to view this box")
	}
	return box, nil
}

// ListOwned returns every box owned by the caller.
func (s *Service) ListOwned(ctx context.Context, callerID string) ([]models.Box, error) {
	out, err := s.store.ListByOwner(ctx, callerID)
	if err != nil {
		return nil, apperr.Internal("failed to list boxes", err)
	}
	if out == nil {
		out = []models.Box{}
	}
	return out, nil
}

// Update edits box metadata. Locked boxes are immutable: any present field is
// rejected, and is_locked can never be flipped here (the lock transition has
// its own operation; unlocking never happens).
func (s *Service) Update(ctx context.Context, id, callerID string, req UpdateRequest) (*models.Box, error) {
	box, err := s.getBox(ctx, id)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to update this box")
	}

	hasEdits := req.Name != nil || req.Description != nil || req.UnlockInstructions.Set

	if box.IsLocked && hasEdits {
		return nil, apperr.BadRequest("cannot modify a locked box; locked boxes are immutable")
	}

	if req.IsLocked != nil {
		if box.IsLocked && !*req.IsLocked {
			return nil, apperr.BadRequest("cannot unlock a locked box; locked boxes are immutable")
		}
		if *req.IsLocked {
			return nil, apperr.BadRequest("locking requires the dedicated lock operation")
		}
	}

	if req.Name != nil {
		box.Name = *req.Name
	}
	if req.Description != nil {
		box.Description = *req.Description
	}
	if req.UnlockInstructions.Set {
		box.UnlockInstructions = req.UnlockInstructions.Value
	}
	box.UpdatedAt = models.TimeStr(s.now())

	return s.updateBox(ctx, *box, "update_box")
}

// Delete removes an owned box.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	box, err := s.getBox(ctx, id)
	if err != nil {
		return err
	}
	if box.OwnerID != callerID {
		return apperr.Unauthorized("you don't have permission to delete this box")
	}
	if err := s.store.DeleteBox(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("box not found")
		}
		return apperr.Internal("failed to delete box", err)
	}
	return nil
}

// UpsertGuardian replaces a guardian entry by id (or invitation id while the
// slot is pre-acceptance) or appends a new one. Owner only, unlocked only.
func (s *Service) UpsertGuardian(ctx context.Context, boxID, callerID string, guardian models.Guardian) (*GuardianUpdateResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to update this box")
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot modify guardians of a locked box; locked boxes are immutable")
	}

	if guardian.Status == "" {
		guardian.Status = models.GuardianStatusInvited
	}
	if guardian.AddedAt == "" {
		guardian.AddedAt = models.TimeStr(s.now())
	}

	idx := guardianIndex(box.Guardians, guardianKeyOf(guardian))
	if idx >= 0 {
		box.Guardians[idx] = guardian
	} else {
		box.Guardians = append(box.Guardians, guardian)
	}
	box.UpdatedAt = models.TimeStr(s.now())

	updated, err := s.updateBox(ctx, *box, "upsert_guardian")
	if err != nil {
		return nil, err
	}

	return &GuardianUpdateResult{
		ID:           guardian.ID,
		Name:         guardian.Name,
		Status:       guardian.Status,
		LeadGuardian: guardian.LeadGuardian,
		AddedAt:      guardian.AddedAt,
		InvitationID: guardian.InvitationID,
		AllGuardians: updated.Guardians,
		UpdatedAt:    updated.UpdatedAt,
	}, nil
}

// DeleteGuardian removes a guardian, matching by stable id first and falling
// back to invitation id (invited guardians have an empty id until their
// invitation is viewed). Returns the removed entry.
func (s *Service) DeleteGuardian(ctx context.Context, boxID, callerID, guardianID string) (*GuardianUpdateResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to update this box")
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot delete guardians from a locked box; locked boxes are immutable")
	}

	idx := -1
	for i, g := range box.Guardians {
		if (g.ID != "" && g.ID == guardianID) || (g.InvitationID != "" && g.InvitationID == guardianID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.NotFound(fmt.Sprintf("guardian %s not found in box %s", guardianID, boxID))
	}

	removed := box.Guardians[idx]
	box.Guardians = append(box.Guardians[:idx], box.Guardians[idx+1:]...)
	box.UpdatedAt = models.TimeStr(s.now())

	updated, err := s.updateBox(ctx, *box, "delete_guardian")
	if err != nil {
		return nil, err
	}

	return &GuardianUpdateResult{
		ID:           removed.ID,
		Name:         removed.Name,
		Status:       removed.Status,
		LeadGuardian: removed.LeadGuardian,
		AddedAt:      removed.AddedAt,
		InvitationID: removed.InvitationID,
		AllGuardians: updated.Guardians,
		UpdatedAt:    updated.UpdatedAt,
	}, nil
}

// UpsertDocument replaces a document by id or appends a new one.
func (s *Service) UpsertDocument(ctx context.Context, boxID, callerID string, doc models.Document) (*DocumentUpdateResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to update this box")
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot modify documents of a locked box; locked boxes are immutable")
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt == "" {
		doc.CreatedAt = models.TimeStr(s.now())
	}

	idx := -1
	for i, d := range box.Documents {
		if d.ID == doc.ID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		box.Documents[idx] = doc
	} else {
		box.Documents = append(box.Documents, doc)
	}
	box.UpdatedAt = models.TimeStr(s.now())

	updated, err := s.updateBox(ctx, *box, "upsert_document")
	if err != nil {
		return nil, err
	}
	return &DocumentUpdateResult{Documents: updated.Documents, UpdatedAt: updated.UpdatedAt}, nil
}

// DeleteDocument removes a document by id.
func (s *Service) DeleteDocument(ctx context.Context, boxID, callerID, documentID string) (*DocumentUpdateResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to update this box")
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot delete documents from a locked box; locked boxes are immutable")
	}

	idx := -1
	for i, d := range box.Documents {
		if d.ID == documentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.NotFound(fmt.Sprintf("document %s not found in box %s", documentID, boxID))
	}

	box.Documents = append(box.Documents[:idx], box.Documents[idx+1:]...)
	box.UpdatedAt = models.TimeStr(s.now())

	updated, err := s.updateBox(ctx, *box, "delete_document")
	if err != nil {
		return nil, err
	}
	return &DocumentUpdateResult{Documents: updated.Documents, UpdatedAt: updated.UpdatedAt}, nil
}

// ---------------------------------------------------------------------------
// lock transition

// Lock performs the one-way lock transition: validates the shard
// distribution, persists the locked state in a single write, then publishes
// box_locked. Publish failure is logged, never surfaced; the durable record
// is authoritative and the reminder sweep backstops lost events.
func (s *Service) Lock(ctx context.Context, boxID, callerID string, req LockRequest) (*models.Box, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.OwnerID != callerID {
		return nil, apperr.Unauthorized("you don't have permission to lock this box")
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot lock an already locked box")
	}
	if len(req.Shards) != len(box.Guardians) {
		return nil, apperr.BadRequest("shard count must match the number of guardians")
	}
	if req.ShardThreshold < 1 || req.ShardThreshold > len(req.Shards) {
		return nil, apperr.BadRequest("shard threshold must be between 1 and the number of guardians")
	}

	shardsByGuardian := make(map[string]ShardAssignment, len(req.Shards))
	for _, sa := range req.Shards {
		shardsByGuardian[sa.GuardianID] = sa
	}
	for i := range box.Guardians {
		g := &box.Guardians[i]
		sa, ok := shardsByGuardian[g.ID]
		if !ok {
			return nil, apperr.BadRequest(fmt.Sprintf("missing shard for guardian %s", g.ID))
		}
		shard := sa.Shard
		hash := sa.ShardHash
		g.EncryptedShard = &shard
		g.ShardHash = &hash
		g.ShardFetchedAt = nil
	}

	now := models.TimeStr(s.now())
	threshold := req.ShardThreshold
	total := len(req.Shards)
	fetched := 0

	box.IsLocked = true
	box.LockedAt = &now
	box.UpdatedAt = now
	box.ShardThreshold = &threshold
	box.TotalShards = &total
	box.ShardsFetched = &fetched
	box.ShardsDeletedAt = nil

	updated, err := s.updateBox(ctx, *box, "lock_box")
	if err != nil {
		return nil, err
	}

	guardianIDs := make([]string, 0, len(updated.Guardians))
	for _, g := range updated.Guardians {
		if g.ID != "" {
			guardianIDs = append(guardianIDs, g.ID)
		}
	}

	s.emit(ctx, models.EventBoxLocked, models.BoxLockedEvent{
		EventType:   models.EventBoxLocked,
		BoxID:       updated.ID,
		BoxName:     updated.Name,
		OwnerName:   updated.OwnerName,
		GuardianIDs: guardianIDs,
		Timestamp:   now,
	})

	return updated, nil
}

// ---------------------------------------------------------------------------
// internals

func (s *Service) getBox(ctx context.Context, id string) (*models.Box, error) {
	box, err := s.store.GetBox(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("box not found")
		}
		return nil, apperr.Internal("failed to load box", err)
	}
	return box, nil
}

// updateBox performs the optimistic write and maps the sentinel errors.
func (s *Service) updateBox(ctx context.Context, box models.Box, operation string) (*models.Box, error) {
	updated, err := s.store.UpdateBox(ctx, box)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			if s.metrics != nil {
				s.metrics.RecordVersionConflict(operation)
			}
			return nil, apperr.Conflict("box was modified concurrently; retry the request")
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("box not found")
		}
		return nil, apperr.Internal("failed to update box", err)
	}
	return updated, nil
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

func guardianKeyOf(g models.Guardian) string {
	if g.ID != "" {
		return g.ID
	}
	return g.InvitationID
}

// guardianIndex matches by stable id when present, else by invitation id.
func guardianIndex(guardians []models.Guardian, key string) int {
	if key == "" {
		return -1
	}
	for i, g := range guardians {
		if (g.ID != "" && g.ID == key) || (g.ID == "" && g.InvitationID == key) {
			return i
		}
	}
	return -1
}
