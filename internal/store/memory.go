package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lockbox/backend/internal/models"
)

// Memory is an in-memory implementation of all three stores with the same
// conditional-write semantics as the Supabase backend. Used by tests and
// local development.
type Memory struct {
	mu          sync.Mutex
	boxes       map[string]models.Box
	invitations map[string]models.Invitation
	tokens      map[string]models.PushToken
}

func NewMemory() *Memory {
	return &Memory{
		boxes:       make(map[string]models.Box),
		invitations: make(map[string]models.Invitation),
		tokens:      make(map[string]models.PushToken),
	}
}

// deep copy via JSON round-trip so callers never alias stored state
func copyBox(b models.Box) models.Box {
	raw, _ := json.Marshal(b)
	var out models.Box
	_ = json.Unmarshal(raw, &out)
	return out
}

func copyInvitation(inv models.Invitation) models.Invitation {
	raw, _ := json.Marshal(inv)
	var out models.Invitation
	_ = json.Unmarshal(raw, &out)
	return out
}

// ---------------------------------------------------------------------------
// BoxStore

func (m *Memory) CreateBox(_ context.Context, box models.Box) (*models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyBox(box)
	m.boxes[stored.ID] = stored
	out := copyBox(stored)
	return &out, nil
}

func (m *Memory) GetBox(_ context.Context, id string) (*models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.boxes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyBox(stored)
	return &out, nil
}

func (m *Memory) UpdateBox(_ context.Context, box models.Box) (*models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.boxes[box.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != box.Version {
		return nil, ErrVersionConflict
	}

	next := copyBox(box)
	next.Version = stored.Version + 1
	m.boxes[next.ID] = next
	out := copyBox(next)
	return &out, nil
}

func (m *Memory) DeleteBox(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.boxes[id]; !ok {
		return ErrNotFound
	}
	delete(m.boxes, id)
	return nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Box
	for _, b := range m.boxes {
		if b.OwnerID == ownerID {
			out = append(out, copyBox(b))
		}
	}
	return out, nil
}

func (m *Memory) ListByGuardian(_ context.Context, userID string) ([]models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Box
	for _, b := range m.boxes {
		for _, g := range b.Guardians {
			if g.ID == userID && userID != "" {
				out = append(out, copyBox(b))
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ScanLocked(_ context.Context) ([]models.Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Box
	for _, b := range m.boxes {
		if b.IsLocked {
			out = append(out, copyBox(b))
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// InvitationStore

func (m *Memory) CreateInvitation(_ context.Context, inv models.Invitation) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyInvitation(inv)
	m.invitations[stored.ID] = stored
	out := copyInvitation(stored)
	return &out, nil
}

func (m *Memory) GetInvitation(_ context.Context, id string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.invitations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyInvitation(stored)
	return &out, nil
}

func (m *Memory) GetByCode(_ context.Context, code string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inv := range m.invitations {
		if inv.InviteCode == code {
			out := copyInvitation(inv)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListByCreator(_ context.Context, creatorID string) ([]models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Invitation
	for _, inv := range m.invitations {
		if inv.CreatorID == creatorID {
			out = append(out, copyInvitation(inv))
		}
	}
	return out, nil
}

func (m *Memory) UpdateInvitation(_ context.Context, inv models.Invitation) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.invitations[inv.ID]
	if !ok {
		return nil, ErrNotFound
	}
	// Guard: only unopened invitations may be rewritten. The losing side of a
	// concurrent redemption lands here.
	if stored.Opened {
		return nil, ErrConditionFailed
	}

	next := copyInvitation(inv)
	m.invitations[next.ID] = next
	out := copyInvitation(next)
	return &out, nil
}

func (m *Memory) DeleteInvitation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invitations[id]; !ok {
		return ErrNotFound
	}
	delete(m.invitations, id)
	return nil
}

// ---------------------------------------------------------------------------
// PushTokenStore

func (m *Memory) SavePushToken(_ context.Context, token models.PushToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[token.UserID] = token
	return nil
}

func (m *Memory) GetPushTokens(_ context.Context, userIDs []string) ([]models.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PushToken
	for _, id := range userIDs {
		if tok, ok := m.tokens[id]; ok {
			out = append(out, tok)
		}
	}
	return out, nil
}

var (
	_ BoxStore        = (*Memory)(nil)
	_ InvitationStore = (*Memory)(nil)
	_ PushTokenStore  = (*Memory)(nil)
)
