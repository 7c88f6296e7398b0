package boxes

import (
	"context"

	"github.com/google/uuid"

	"github.com/lockbox/backend/internal/apperr"
	"github.com/lockbox/backend/internal/models"
)

// ---------------------------------------------------------------------------
// guardian views
//
// Guardians see a restricted projection of a box: shard ciphertext never
// appears in listings (it travels only through FetchShard), and other
// guardians' shard hashes are hidden too.
// ---------------------------------------------------------------------------

func projectForGuardian(box models.Box, userID string) models.Box {
	for i := range box.Guardians {
		g := &box.Guardians[i]
		g.EncryptedShard = nil
		if g.ID != userID {
			g.ShardHash = nil
		}
	}
	return box
}

// ListGuardianBoxes returns the boxes where the caller is a guardian, in the
// restricted projection.
func (s *Service) ListGuardianBoxes(ctx context.Context, userID string) ([]models.Box, error) {
	found, err := s.store.ListByGuardian(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list guardian boxes", err)
	}
	out := make([]models.Box, 0, len(found))
	for _, b := range found {
		out = append(out, projectForGuardian(b, userID))
	}
	return out, nil
}

// GetGuardianBox returns one box in the restricted projection; the caller
// must be one of its guardians.
func (s *Service) GetGuardianBox(ctx context.Context, boxID, userID string) (*models.Box, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.GuardianByID(userID) == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}
	projected := projectForGuardian(*box, userID)
	return &projected, nil
}

// ---------------------------------------------------------------------------
// shard custody

// FetchShard returns the caller's encrypted shard. Read-only: the server's
// copy is deleted only on acknowledge.
func (s *Service) FetchShard(ctx context.Context, boxID, userID string) (*ShardPayload, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if !box.IsLocked {
		return nil, apperr.BadRequest("shard fetch is only available for locked boxes")
	}
	guardian := box.GuardianByID(userID)
	if guardian == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}

	totalShards := len(box.Guardians)
	threshold := totalShards
	if box.ShardThreshold != nil {
		threshold = *box.ShardThreshold
	}

	if guardian.EncryptedShard == nil {
		if guardian.ShardFetchedAt != nil {
			return nil, apperr.BadRequest("shard already fetched and removed from server storage")
		}
		return nil, apperr.NotFound("shard not available for this guardian")
	}

	var hash string
	if guardian.ShardHash != nil {
		hash = *guardian.ShardHash
	}

	return &ShardPayload{
		EncryptedShard: *guardian.EncryptedShard,
		ShardHash:      hash,
		ShardFetchedAt: guardian.ShardFetchedAt,
		ShardThreshold: threshold,
		TotalShards:    totalShards,
	}, nil
}

// AcknowledgeShard records that the guardian has downloaded their shard and
// deletes the server's copy. Idempotent on final state, so a lost optimistic
// race is retried once internally.
func (s *Service) AcknowledgeShard(ctx context.Context, boxID, userID string) (*AckResult, error) {
	result, err := s.acknowledgeShardOnce(ctx, boxID, userID)
	if apperr.IsKind(err, apperr.KindConflict) {
		result, err = s.acknowledgeShardOnce(ctx, boxID, userID)
	}
	return result, err
}

func (s *Service) acknowledgeShardOnce(ctx context.Context, boxID, userID string) (*AckResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if !box.IsLocked {
		return nil, apperr.BadRequest("shard acknowledgement is only available for locked boxes")
	}
	guardian := box.GuardianByID(userID)
	if guardian == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}

	totalShards := len(box.Guardians)

	// Repeat acknowledgement: return current counters unchanged.
	if guardian.ShardFetchedAt != nil && guardian.EncryptedShard == nil {
		fetched := 0
		if box.ShardsFetched != nil {
			fetched = *box.ShardsFetched
		}
		return &AckResult{
			ShardFetchedAt: *guardian.ShardFetchedAt,
			TotalShards:    totalShards,
			ShardsFetched:  fetched,
		}, nil
	}

	if guardian.EncryptedShard == nil {
		return nil, apperr.BadRequest("shard not available to acknowledge")
	}

	fetchedAt := models.TimeStr(s.now())
	guardian.ShardFetchedAt = &fetchedAt
	guardian.EncryptedShard = nil

	fetchedCount := 0
	for _, g := range box.Guardians {
		if g.ShardFetchedAt != nil {
			fetchedCount++
		}
	}
	box.ShardsFetched = &fetchedCount
	box.TotalShards = &totalShards
	if fetchedCount == totalShards {
		deletedAt := models.TimeStr(s.now())
		box.ShardsDeletedAt = &deletedAt
	}
	box.UpdatedAt = models.TimeStr(s.now())

	if _, err := s.updateBox(ctx, *box, "acknowledge_shard"); err != nil {
		return nil, err
	}

	return &AckResult{
		ShardFetchedAt: fetchedAt,
		TotalShards:    totalShards,
		ShardsFetched:  fetchedCount,
	}, nil
}

// AcceptShard records that the guardian has secured the shard on their
// device; the reminder sweep stops nagging them. Idempotent.
func (s *Service) AcceptShard(ctx context.Context, boxID, userID string) (*AcceptResult, error) {
	result, err := s.acceptShardOnce(ctx, boxID, userID)
	if apperr.IsKind(err, apperr.KindConflict) {
		result, err = s.acceptShardOnce(ctx, boxID, userID)
	}
	return result, err
}

func (s *Service) acceptShardOnce(ctx context.Context, boxID, userID string) (*AcceptResult, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if !box.IsLocked {
		return nil, apperr.BadRequest("shard acceptance is only available for locked boxes")
	}
	guardian := box.GuardianByID(userID)
	if guardian == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}

	if guardian.ShardAcceptedAt != nil {
		return &AcceptResult{
			Message:         "Shard already accepted",
			ShardAcceptedAt: *guardian.ShardAcceptedAt,
			BoxID:           box.ID,
			BoxName:         box.Name,
		}, nil
	}

	acceptedAt := models.TimeStr(s.now())
	guardian.ShardAcceptedAt = &acceptedAt
	box.UpdatedAt = models.TimeStr(s.now())

	if _, err := s.updateBox(ctx, *box, "accept_shard"); err != nil {
		return nil, err
	}

	s.logger.Printf("guardian %s accepted shard for box_id=%s", userID, box.ID)

	return &AcceptResult{
		Message:         "Shard accepted successfully",
		ShardAcceptedAt: acceptedAt,
		BoxID:           box.ID,
		BoxName:         box.Name,
	}, nil
}

// ---------------------------------------------------------------------------
// guardian state transitions

// RespondToInvitation records the guardian's accept/decline of their slot.
// The entry is located by invitation id; the caller's user id is bound to it
// on first response (entries carry an empty id until the invitation is
// viewed). Rejected on locked boxes: the guardian set is immutable after
// lock.
func (s *Service) RespondToInvitation(ctx context.Context, boxID, userID string, req InvitationResponseRequest) (*models.Box, error) {
	if req.Response != "accept" && req.Response != "decline" {
		return nil, apperr.BadRequest("response must be either 'accept' or 'decline'")
	}

	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box.IsLocked {
		return nil, apperr.BadRequest("cannot respond to an invitation on a locked box")
	}

	var guardian *models.Guardian
	for i := range box.Guardians {
		g := &box.Guardians[i]
		if req.InvitationID != "" && g.InvitationID == req.InvitationID {
			guardian = g
			break
		}
		if req.InvitationID == "" && g.ID == userID {
			guardian = g
			break
		}
	}
	if guardian == nil {
		return nil, apperr.NotFound("no matching guardian entry for this invitation")
	}
	if guardian.ID != "" && guardian.ID != userID {
		return nil, apperr.Unauthorized("this invitation belongs to a different user")
	}

	guardian.ID = userID
	now := models.TimeStr(s.now())
	if req.Response == "accept" {
		guardian.Status = models.GuardianStatusAccepted
	} else {
		guardian.Status = models.GuardianStatusDeclined
	}
	box.UpdatedAt = now

	updated, err := s.updateBox(ctx, *box, "respond_to_invitation")
	if err != nil {
		return nil, err
	}
	projected := projectForGuardian(*updated, userID)
	return &projected, nil
}

// RequestUnlock opens an unlock attempt on a locked box. Only one request
// can be active at a time.
func (s *Service) RequestUnlock(ctx context.Context, boxID, userID string, req UnlockRequestInput) (*models.Box, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if !box.IsLocked {
		return nil, apperr.BadRequest("unlock requests are only available for locked boxes")
	}
	if box.GuardianByID(userID) == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}
	if box.UnlockRequest != nil {
		return nil, apperr.BadRequest("an unlock request is already active for this box")
	}

	now := models.TimeStr(s.now())
	box.UnlockRequest = &models.UnlockRequest{
		ID:          uuid.New().String(),
		RequestedBy: userID,
		Message:     req.Message,
		InitiatedAt: now,
		Approvals:   []string{userID},
		Rejections:  []string{},
	}
	box.UpdatedAt = now

	updated, err := s.updateBox(ctx, *box, "request_unlock")
	if err != nil {
		return nil, err
	}
	projected := projectForGuardian(*updated, userID)
	return &projected, nil
}

// RespondToUnlockRequest records a guardian's vote on the active unlock
// request. Each guardian votes at most once; the requester's approval is
// implicit.
func (s *Service) RespondToUnlockRequest(ctx context.Context, boxID, userID string, req UnlockResponseInput) (*models.Box, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if !box.IsLocked {
		return nil, apperr.BadRequest("unlock responses are only available for locked boxes")
	}
	if box.GuardianByID(userID) == nil {
		return nil, apperr.Unauthorized("you are not a guardian for this box")
	}
	if box.UnlockRequest == nil {
		return nil, apperr.NotFound("no active unlock request for this box")
	}

	ur := box.UnlockRequest
	for _, id := range ur.Approvals {
		if id == userID {
			return nil, apperr.BadRequest("you have already responded to this unlock request")
		}
	}
	for _, id := range ur.Rejections {
		if id == userID {
			return nil, apperr.BadRequest("you have already responded to this unlock request")
		}
	}

	if req.Approve {
		ur.Approvals = append(ur.Approvals, userID)
	} else {
		ur.Rejections = append(ur.Rejections, userID)
	}
	box.UpdatedAt = models.TimeStr(s.now())

	updated, err := s.updateBox(ctx, *box, "respond_to_unlock_request")
	if err != nil {
		return nil, err
	}
	projected := projectForGuardian(*updated, userID)
	return &projected, nil
}
