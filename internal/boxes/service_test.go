package boxes

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockbox/backend/internal/apperr"
	"github.com/lockbox/backend/internal/events"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory, *events.Recorder) {
	t.Helper()
	st := store.NewMemory()
	bus := events.NewRecorder()
	return NewService(st, bus, nil), st, bus
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// makeLockedBox creates a box with two accepted guardians and locks it.
func makeLockedBox(t *testing.T, svc *Service, owner string, guardianIDs ...string) *models.Box {
	t.Helper()
	box, err := svc.Create(context.Background(), owner, CreateRequest{Name: "Estate", OwnerName: "Dana"})
	require.NoError(t, err)

	shards := make([]ShardAssignment, 0, len(guardianIDs))
	for _, id := range guardianIDs {
		_, err = svc.UpsertGuardian(context.Background(), box.ID, owner, models.Guardian{
			ID:     id,
			Name:   "Guardian " + id,
			Status: models.GuardianStatusAccepted,
		})
		require.NoError(t, err)
		shards = append(shards, ShardAssignment{
			GuardianID: id,
			Shard:      "cipher-" + id,
			ShardHash:  "hash-" + id,
		})
	}

	locked, err := svc.Lock(context.Background(), box.ID, owner, LockRequest{
		Shards:         shards,
		ShardThreshold: len(guardianIDs),
	})
	require.NoError(t, err)
	return locked
}

func TestCreateBox(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{
		Name:        "Estate",
		Description: "family documents",
		OwnerName:   "Dana",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, box.ID)
	assert.Equal(t, "owner-1", box.OwnerID)
	assert.False(t, box.IsLocked)
	assert.Equal(t, int64(0), box.Version)
	assert.NotNil(t, box.Documents)
	assert.NotNil(t, box.Guardians)
	assert.Empty(t, box.Documents)
	assert.Empty(t, box.Guardians)
}

func TestGetOwnedEnforcesOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	_, err = svc.GetOwned(context.Background(), box.ID, "intruder")
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))

	_, err = svc.GetOwned(context.Background(), "missing", "owner-1")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestUpdateBoxMetadata(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{
		Name:               strPtr("Renamed"),
		UnlockInstructions: OptionalString{Set: true, Value: strPtr("call the lawyer")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	require.NotNil(t, updated.UnlockInstructions)
	assert.Equal(t, "call the lawyer", *updated.UnlockInstructions)
	assert.Equal(t, int64(1), updated.Version)
}

func TestUpdateClearsUnlockInstructionsOnExplicitNull(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{
		UnlockInstructions: OptionalString{Set: true, Value: strPtr("v1")},
	})
	require.NoError(t, err)

	// An absent field leaves the value alone.
	kept, err := svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{
		Name: strPtr("still here"),
	})
	require.NoError(t, err)
	require.NotNil(t, kept.UnlockInstructions)

	// An explicit null clears it.
	var req UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"unlockInstructions": null}`), &req))
	cleared, err := svc.Update(context.Background(), box.ID, "owner-1", req)
	require.NoError(t, err)
	assert.Nil(t, cleared.UnlockInstructions)
}

func TestLockedBoxIsImmutable(t *testing.T) {
	svc, _, _ := newTestService(t)
	box := makeLockedBox(t, svc, "owner-1", "g-1", "g-2")

	_, err := svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{Name: strPtr("nope")})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{IsLocked: boolPtr(false)})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.UpsertGuardian(context.Background(), box.ID, "owner-1", models.Guardian{ID: "g-3", Name: "Late"})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.DeleteGuardian(context.Background(), box.ID, "owner-1", "g-1")
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	_, err = svc.UpsertDocument(context.Background(), box.ID, "owner-1", models.Document{Title: "will"})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestUpdateRejectsLockingThroughPatch(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), box.ID, "owner-1", UpdateRequest{IsLocked: boolPtr(true)})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestGuardianUpsertMatchesByInvitationID(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	// Pre-acceptance slot: no user id yet, addressed by invitation id.
	result, err := svc.UpsertGuardian(context.Background(), box.ID, "owner-1", models.Guardian{
		Name:         "Alice",
		InvitationID: "inv-1",
	})
	require.NoError(t, err)
	assert.Len(t, result.AllGuardians, 1)
	assert.Equal(t, models.GuardianStatusInvited, result.Status)
	assert.NotEmpty(t, result.AddedAt)

	// Re-upsert by the same invitation id replaces, not appends.
	result, err = svc.UpsertGuardian(context.Background(), box.ID, "owner-1", models.Guardian{
		Name:         "Alice Smith",
		InvitationID: "inv-1",
	})
	require.NoError(t, err)
	assert.Len(t, result.AllGuardians, 1)
	assert.Equal(t, "Alice Smith", result.AllGuardians[0].Name)
}

func TestDeleteGuardianFallsBackToInvitationID(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	_, err = svc.UpsertGuardian(context.Background(), box.ID, "owner-1", models.Guardian{
		Name:         "Alice",
		InvitationID: "inv-1",
	})
	require.NoError(t, err)

	removed, err := svc.DeleteGuardian(context.Background(), box.ID, "owner-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", removed.Name)
	assert.Empty(t, removed.AllGuardians)

	_, err = svc.DeleteGuardian(context.Background(), box.ID, "owner-1", "inv-1")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestDocumentLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	result, err := svc.UpsertDocument(context.Background(), box.ID, "owner-1", models.Document{
		Title:   "will",
		Content: "opaque-ciphertext",
	})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	docID := result.Documents[0].ID
	assert.NotEmpty(t, docID)

	result, err = svc.UpsertDocument(context.Background(), box.ID, "owner-1", models.Document{
		ID:    docID,
		Title: "will v2",
	})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "will v2", result.Documents[0].Title)

	result, err = svc.DeleteDocument(context.Background(), box.ID, "owner-1", docID)
	require.NoError(t, err)
	assert.Empty(t, result.Documents)
}

func TestLockValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)
	for _, id := range []string{"g-1", "g-2"} {
		_, err = svc.UpsertGuardian(context.Background(), box.ID, "owner-1", models.Guardian{ID: id, Name: id})
		require.NoError(t, err)
	}

	twoShards := []ShardAssignment{
		{GuardianID: "g-1", Shard: "c1", ShardHash: "h1"},
		{GuardianID: "g-2", Shard: "c2", ShardHash: "h2"},
	}

	// Not the owner.
	_, err = svc.Lock(context.Background(), box.ID, "intruder", LockRequest{Shards: twoShards, ShardThreshold: 2})
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))

	// Shard count mismatch.
	_, err = svc.Lock(context.Background(), box.ID, "owner-1", LockRequest{Shards: twoShards[:1], ShardThreshold: 1})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	// Threshold out of range.
	_, err = svc.Lock(context.Background(), box.ID, "owner-1", LockRequest{Shards: twoShards, ShardThreshold: 0})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
	_, err = svc.Lock(context.Background(), box.ID, "owner-1", LockRequest{Shards: twoShards, ShardThreshold: 3})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	// Shard addressed to a stranger.
	_, err = svc.Lock(context.Background(), box.ID, "owner-1", LockRequest{
		Shards: []ShardAssignment{
			{GuardianID: "g-1", Shard: "c1", ShardHash: "h1"},
			{GuardianID: "stranger", Shard: "cx", ShardHash: "hx"},
		},
		ShardThreshold: 2,
	})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestLockTransition(t *testing.T) {
	svc, st, bus := newTestService(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	box := makeLockedBox(t, svc, "owner-1", "g-1", "g-2")

	assert.True(t, box.IsLocked)
	require.NotNil(t, box.LockedAt)
	assert.Equal(t, models.TimeStr(base), *box.LockedAt)
	require.NotNil(t, box.ShardThreshold)
	assert.Equal(t, 2, *box.ShardThreshold)
	require.NotNil(t, box.TotalShards)
	assert.Equal(t, 2, *box.TotalShards)
	require.NotNil(t, box.ShardsFetched)
	assert.Equal(t, 0, *box.ShardsFetched)
	assert.Nil(t, box.ShardsDeletedAt)

	for _, g := range box.Guardians {
		require.NotNil(t, g.EncryptedShard)
		assert.Equal(t, "cipher-"+g.ID, *g.EncryptedShard)
		require.NotNil(t, g.ShardHash)
		assert.Nil(t, g.ShardFetchedAt)
	}

	// Locking again fails.
	_, err := svc.Lock(context.Background(), box.ID, "owner-1", LockRequest{
		Shards: []ShardAssignment{
			{GuardianID: "g-1", Shard: "c", ShardHash: "h"},
			{GuardianID: "g-2", Shard: "c", ShardHash: "h"},
		},
		ShardThreshold: 2,
	})
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))

	// Persisted before published.
	stored, err := st.GetBox(context.Background(), box.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked)

	lockedEvents := bus.ByKind(models.EventBoxLocked)
	require.Len(t, lockedEvents, 1)
	payload := lockedEvents[0].Payload.(models.BoxLockedEvent)
	assert.Equal(t, box.ID, payload.BoxID)
	assert.ElementsMatch(t, []string{"g-1", "g-2"}, payload.GuardianIDs)
	assert.Equal(t, models.EventBoxLocked, payload.EventType)
}

func TestUpdateSurfacesVersionConflict(t *testing.T) {
	svc, st, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	// A concurrent writer bumps the version behind our back.
	stale, err := st.GetBox(context.Background(), box.ID)
	require.NoError(t, err)
	_, err = st.UpdateBox(context.Background(), *stale)
	require.NoError(t, err)

	_, err = svc.updateBox(context.Background(), *stale, "test")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
}

func TestDeleteBox(t *testing.T) {
	svc, _, _ := newTestService(t)

	box, err := svc.Create(context.Background(), "owner-1", CreateRequest{Name: "Estate"})
	require.NoError(t, err)

	require.Error(t, svc.Delete(context.Background(), box.ID, "intruder"))
	require.NoError(t, svc.Delete(context.Background(), box.ID, "owner-1"))

	_, err = svc.GetOwned(context.Background(), box.ID, "owner-1")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}
