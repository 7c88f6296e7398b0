package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/lockbox/backend/internal/models"
)

// ============================================================================
// SUPABASE STORE
//
// One PostgREST-backed implementation of BoxStore, InvitationStore and
// PushTokenStore. Tables:
//
//	boxes        — scalar columns + JSONB documents/guardians/unlock_request,
//	               plus a denormalized guardian_ids text[] maintained on every
//	               write (the secondary index behind ListByGuardian)
//	invitations  — indexed on invite_code and creator_id
//	push_tokens  — primary key user_id (upsert target)
//
// Optimistic concurrency: UpdateBox filters id=eq AND version=eq.<in-hand>
// and writes version+1; zero affected rows means the race was lost.
// UpdateInvitation filters opened=eq.false for the same reason.
// ============================================================================

// Supabase is the durable store used in production.
type Supabase struct {
	client *supabase.Client
}

// NewSupabase creates a store from a Supabase project URL and service key.
func NewSupabase(url, serviceKey string) (*Supabase, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Supabase{client: client}, nil
}

// ---------------------------------------------------------------------------
// row types (snake_case columns; embedded structures travel as JSONB)

type boxRow struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	OwnerID            string          `json:"owner_id"`
	OwnerName          string          `json:"owner_name,omitempty"`
	IsLocked           bool            `json:"is_locked"`
	LockedAt           *string         `json:"locked_at"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
	Version            int64           `json:"version"`
	UnlockInstructions *string         `json:"unlock_instructions"`
	Documents          json.RawMessage `json:"documents"`
	Guardians          json.RawMessage `json:"guardians"`
	GuardianIDs        []string        `json:"guardian_ids"`
	ShardThreshold     *int            `json:"shard_threshold"`
	TotalShards        *int            `json:"total_shards"`
	ShardsFetched      *int            `json:"shards_fetched"`
	ShardsDeletedAt    *string         `json:"shards_deleted_at"`
	UnlockRequest      json.RawMessage `json:"unlock_request"`
}

type invitationRow struct {
	ID             string  `json:"id"`
	InviteCode     string  `json:"invite_code"`
	InvitedName    string  `json:"invited_name"`
	BoxID          string  `json:"box_id"`
	CreatorID      string  `json:"creator_id"`
	CreatedAt      string  `json:"created_at"`
	ExpiresAt      string  `json:"expires_at"`
	Opened         bool    `json:"opened"`
	LinkedUserID   *string `json:"linked_user_id"`
	IsLeadGuardian bool    `json:"is_lead_guardian"`
}

type pushTokenRow struct {
	UserID    string `json:"user_id"`
	PushToken string `json:"push_token"`
	Platform  string `json:"platform"`
	UpdatedAt string `json:"updated_at"`
}

func toBoxRow(b models.Box) (boxRow, error) {
	docs, err := json.Marshal(b.Documents)
	if err != nil {
		return boxRow{}, fmt.Errorf("marshal documents: %w", err)
	}
	guardians, err := json.Marshal(b.Guardians)
	if err != nil {
		return boxRow{}, fmt.Errorf("marshal guardians: %w", err)
	}
	var unlockReq json.RawMessage
	if b.UnlockRequest != nil {
		unlockReq, err = json.Marshal(b.UnlockRequest)
		if err != nil {
			return boxRow{}, fmt.Errorf("marshal unlock request: %w", err)
		}
	}

	guardianIDs := make([]string, 0, len(b.Guardians))
	for _, g := range b.Guardians {
		if g.ID != "" {
			guardianIDs = append(guardianIDs, g.ID)
		}
	}

	return boxRow{
		ID:                 b.ID,
		Name:               b.Name,
		Description:        b.Description,
		OwnerID:            b.OwnerID,
		OwnerName:          b.OwnerName,
		IsLocked:           b.IsLocked,
		LockedAt:           b.LockedAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		Version:            b.Version,
		UnlockInstructions: b.UnlockInstructions,
		Documents:          docs,
		Guardians:          guardians,
		GuardianIDs:        guardianIDs,
		ShardThreshold:     b.ShardThreshold,
		TotalShards:        b.TotalShards,
		ShardsFetched:      b.ShardsFetched,
		ShardsDeletedAt:    b.ShardsDeletedAt,
		UnlockRequest:      unlockReq,
	}, nil
}

func fromBoxRow(r boxRow) (models.Box, error) {
	b := models.Box{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		OwnerID:            r.OwnerID,
		OwnerName:          r.OwnerName,
		IsLocked:           r.IsLocked,
		LockedAt:           r.LockedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		Version:            r.Version,
		UnlockInstructions: r.UnlockInstructions,
		Documents:          []models.Document{},
		Guardians:          []models.Guardian{},
		ShardThreshold:     r.ShardThreshold,
		TotalShards:        r.TotalShards,
		ShardsFetched:      r.ShardsFetched,
		ShardsDeletedAt:    r.ShardsDeletedAt,
	}
	if len(r.Documents) > 0 {
		if err := json.Unmarshal(r.Documents, &b.Documents); err != nil {
			return b, fmt.Errorf("unmarshal documents: %w", err)
		}
	}
	if len(r.Guardians) > 0 {
		if err := json.Unmarshal(r.Guardians, &b.Guardians); err != nil {
			return b, fmt.Errorf("unmarshal guardians: %w", err)
		}
	}
	if len(r.UnlockRequest) > 0 && string(r.UnlockRequest) != "null" {
		var ur models.UnlockRequest
		if err := json.Unmarshal(r.UnlockRequest, &ur); err != nil {
			return b, fmt.Errorf("unmarshal unlock request: %w", err)
		}
		b.UnlockRequest = &ur
	}
	return b, nil
}

func toInvitationRow(inv models.Invitation) invitationRow {
	return invitationRow{
		ID:             inv.ID,
		InviteCode:     inv.InviteCode,
		InvitedName:    inv.InvitedName,
		BoxID:          inv.BoxID,
		CreatorID:      inv.CreatorID,
		CreatedAt:      inv.CreatedAt,
		ExpiresAt:      inv.ExpiresAt,
		Opened:         inv.Opened,
		LinkedUserID:   inv.LinkedUserID,
		IsLeadGuardian: inv.IsLeadGuardian,
	}
}

func fromInvitationRow(r invitationRow) models.Invitation {
	return models.Invitation{
		ID:             r.ID,
		InviteCode:     r.InviteCode,
		InvitedName:    r.InvitedName,
		BoxID:          r.BoxID,
		CreatorID:      r.CreatorID,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		Opened:         r.Opened,
		LinkedUserID:   r.LinkedUserID,
		IsLeadGuardian: r.IsLeadGuardian,
	}
}

// ---------------------------------------------------------------------------
// BoxStore

func (s *Supabase) CreateBox(_ context.Context, box models.Box) (*models.Box, error) {
	row, err := toBoxRow(box)
	if err != nil {
		return nil, err
	}

	var rows []boxRow
	if _, err := s.client.From("boxes").
		Insert(row, false, "", "", "").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("insert box: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert box: no row returned")
	}

	out, err := fromBoxRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Supabase) GetBox(_ context.Context, id string) (*models.Box, error) {
	var rows []boxRow
	if _, err := s.client.From("boxes").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("get box: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	out, err := fromBoxRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Supabase) UpdateBox(ctx context.Context, box models.Box) (*models.Box, error) {
	expected := box.Version
	next := box
	next.Version = expected + 1

	row, err := toBoxRow(next)
	if err != nil {
		return nil, err
	}

	var rows []boxRow
	if _, err := s.client.From("boxes").
		Update(row, "", "").
		Eq("id", box.ID).
		Eq("version", strconv.FormatInt(expected, 10)).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("update box: %w", err)
	}
	if len(rows) == 0 {
		// Distinguish a lost race from a vanished record.
		if _, err := s.GetBox(ctx, box.ID); err != nil {
			return nil, err
		}
		return nil, ErrVersionConflict
	}

	out, err := fromBoxRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Supabase) DeleteBox(_ context.Context, id string) error {
	var rows []boxRow
	if _, err := s.client.From("boxes").
		Delete("", "").
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return fmt.Errorf("delete box: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Supabase) ListByOwner(_ context.Context, ownerID string) ([]models.Box, error) {
	var rows []boxRow
	if _, err := s.client.From("boxes").
		Select("*", "", false).
		Eq("owner_id", ownerID).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list boxes by owner: %w", err)
	}
	return boxesFromRows(rows)
}

func (s *Supabase) ListByGuardian(_ context.Context, userID string) ([]models.Box, error) {
	var rows []boxRow
	if _, err := s.client.From("boxes").
		Select("*", "", false).
		Contains("guardian_ids", []string{userID}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list boxes by guardian: %w", err)
	}
	return boxesFromRows(rows)
}

func (s *Supabase) ScanLocked(_ context.Context) ([]models.Box, error) {
	var rows []boxRow
	if _, err := s.client.From("boxes").
		Select("*", "", false).
		Eq("is_locked", "true").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("scan locked boxes: %w", err)
	}
	return boxesFromRows(rows)
}

func boxesFromRows(rows []boxRow) ([]models.Box, error) {
	out := make([]models.Box, 0, len(rows))
	for _, r := range rows {
		b, err := fromBoxRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// InvitationStore

func (s *Supabase) CreateInvitation(_ context.Context, inv models.Invitation) (*models.Invitation, error) {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Insert(toInvitationRow(inv), false, "", "", "").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert invitation: no row returned")
	}
	out := fromInvitationRow(rows[0])
	return &out, nil
}

func (s *Supabase) GetInvitation(_ context.Context, id string) (*models.Invitation, error) {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := fromInvitationRow(rows[0])
	return &out, nil
}

func (s *Supabase) GetByCode(_ context.Context, code string) (*models.Invitation, error) {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Select("*", "", false).
		Eq("invite_code", code).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("get invitation by code: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := fromInvitationRow(rows[0])
	return &out, nil
}

func (s *Supabase) ListByCreator(_ context.Context, creatorID string) ([]models.Invitation, error) {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Select("*", "", false).
		Eq("creator_id", creatorID).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list invitations by creator: %w", err)
	}
	out := make([]models.Invitation, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromInvitationRow(r))
	}
	return out, nil
}

func (s *Supabase) UpdateInvitation(ctx context.Context, inv models.Invitation) (*models.Invitation, error) {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Update(toInvitationRow(inv), "", "").
		Eq("id", inv.ID).
		Eq("opened", "false").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("update invitation: %w", err)
	}
	if len(rows) == 0 {
		if _, err := s.GetInvitation(ctx, inv.ID); err != nil {
			return nil, err
		}
		return nil, ErrConditionFailed
	}
	out := fromInvitationRow(rows[0])
	return &out, nil
}

func (s *Supabase) DeleteInvitation(_ context.Context, id string) error {
	var rows []invitationRow
	if _, err := s.client.From("invitations").
		Delete("", "").
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// PushTokenStore

func (s *Supabase) SavePushToken(_ context.Context, token models.PushToken) error {
	row := pushTokenRow{
		UserID:    token.UserID,
		PushToken: token.PushToken,
		Platform:  token.Platform,
		UpdatedAt: token.UpdatedAt,
	}
	var rows []pushTokenRow
	if _, err := s.client.From("push_tokens").
		Insert(row, true, "user_id", "", "").
		ExecuteTo(&rows); err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

func (s *Supabase) GetPushTokens(_ context.Context, userIDs []string) ([]models.PushToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var rows []pushTokenRow
	if _, err := s.client.From("push_tokens").
		Select("*", "", false).
		In("user_id", userIDs).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("get push tokens: %w", err)
	}
	out := make([]models.PushToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.PushToken{
			UserID:    r.UserID,
			PushToken: r.PushToken,
			Platform:  r.Platform,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

var (
	_ BoxStore        = (*Supabase)(nil)
	_ InvitationStore = (*Supabase)(nil)
	_ PushTokenStore  = (*Supabase)(nil)
)
