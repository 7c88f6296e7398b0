package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockbox/backend/internal/boxes"
	"github.com/lockbox/backend/internal/events"
	"github.com/lockbox/backend/internal/invitation"
	"github.com/lockbox/backend/internal/models"
	"github.com/lockbox/backend/internal/store"
)

type testEnv struct {
	server *httptest.Server
	store  *store.Memory
	bus    *events.Recorder
}

func newTestEnv(t *testing.T, prefix string) *testEnv {
	t.Helper()
	st := store.NewMemory()
	bus := events.NewRecorder()

	boxSvc := boxes.NewService(st, bus, nil)
	invSvc := invitation.NewService(st, bus, nil)
	srv := NewServer(boxSvc, invSvc, st, nil)

	ts := httptest.NewServer(srv.Router(prefix))
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: st, bus: bus}
}

// call sends a JSON request as the given user and decodes the response body.
func (e *testEnv) call(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestMissingIdentityIs401(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.call(t, http.MethodGet, "/boxes/owned", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, body["error"])
}

func TestBearerTokenIdentity(t *testing.T) {
	env := newTestEnv(t, "")

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/boxes/owned", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer user-42")

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBasePathPrefix(t *testing.T) {
	env := newTestEnv(t, "/Prod")

	status, _ := env.call(t, http.MethodGet, "/Prod/boxes/owned", "user-1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.call(t, http.MethodGet, "/boxes/owned", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndMetricsSkipAuth(t *testing.T) {
	env := newTestEnv(t, "/Prod")

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := env.server.Client().Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestBoxCRUD(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.call(t, http.MethodPost, "/boxes/owned", "owner-1", map[string]any{
		"name":        "Estate",
		"description": "family documents",
		"ownerName":   "Dana",
	})
	require.Equal(t, http.StatusCreated, status)
	box := body["box"].(map[string]any)
	boxID := box["id"].(string)
	require.NotEmpty(t, boxID)
	assert.Equal(t, false, box["isLocked"])

	status, body = env.call(t, http.MethodGet, "/boxes/owned", "owner-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["boxes"], 1)

	// Another user sees nothing and cannot read by id.
	status, body = env.call(t, http.MethodGet, "/boxes/owned", "other", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["boxes"])
	status, _ = env.call(t, http.MethodGet, "/boxes/owned/"+boxID, "other", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.call(t, http.MethodPatch, "/boxes/owned/"+boxID, "owner-1", map[string]any{
		"name": "Renamed",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", body["box"].(map[string]any)["name"])

	status, body = env.call(t, http.MethodDelete, "/boxes/owned/"+boxID, "owner-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["message"])

	status, _ = env.call(t, http.MethodGet, "/boxes/owned/"+boxID, "owner-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// TestFullGuardianFlow walks the whole lifecycle: invite, redeem, accept the
// slot, lock, fetch, acknowledge, accept the shard.
func TestFullGuardianFlow(t *testing.T) {
	env := newTestEnv(t, "")

	// Owner creates a box.
	status, body := env.call(t, http.MethodPost, "/boxes/owned", "owner-1", map[string]any{
		"name":      "Estate",
		"ownerName": "Dana",
	})
	require.Equal(t, http.StatusCreated, status)
	boxID := body["box"].(map[string]any)["id"].(string)

	// Owner invites Alice.
	status, body = env.call(t, http.MethodPost, "/invitations/new", "owner-1", map[string]any{
		"invitedName":    "Alice",
		"boxId":          boxID,
		"isLeadGuardian": true,
	})
	require.Equal(t, http.StatusOK, status)
	inv := body["invitation"].(map[string]any)
	invID := inv["id"].(string)
	code := inv["inviteCode"].(string)
	require.Len(t, code, 8)

	// Owner records the pending guardian slot on the box.
	status, body = env.call(t, http.MethodPatch, "/boxes/owned/"+boxID+"/guardian", "owner-1", map[string]any{
		"name":         "Alice",
		"invitationId": invID,
		"leadGuardian": true,
	})
	require.Equal(t, http.StatusOK, status)
	guardian := body["guardian"].(map[string]any)
	assert.Equal(t, "invited", guardian["status"])
	assert.Len(t, guardian["allGuardians"], 1)

	// Alice views the code without consuming it, then redeems it.
	status, body = env.call(t, http.MethodGet, "/invitations/view/"+code, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["invitation"].(map[string]any)["opened"])

	status, body = env.call(t, http.MethodPut, "/invitations/handle", "alice", map[string]any{
		"inviteCode": code,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, boxID, body["boxId"])
	assert.Equal(t, invID, body["invitationId"])

	// A second redemption is rejected.
	status, _ = env.call(t, http.MethodPut, "/invitations/handle", "bob", map[string]any{
		"inviteCode": code,
	})
	assert.Equal(t, http.StatusForbidden, status)

	// Alice accepts her guardian slot; her user id is bound to it.
	status, body = env.call(t, http.MethodPatch, "/boxes/guardian/"+boxID+"/invitation", "alice", map[string]any{
		"invitationId": invID,
		"response":     "accept",
	})
	require.Equal(t, http.StatusOK, status)
	guardians := body["box"].(map[string]any)["guardians"].([]any)
	require.Len(t, guardians, 1)
	assert.Equal(t, "alice", guardians[0].(map[string]any)["id"])
	assert.Equal(t, "accepted", guardians[0].(map[string]any)["status"])

	// Owner locks the box with Alice's shard.
	status, body = env.call(t, http.MethodPost, "/boxes/owned/"+boxID+"/lock", "owner-1", map[string]any{
		"shards": []map[string]any{
			{"guardianId": "alice", "shard": "ciphertext-alice", "shardHash": "hash-alice"},
		},
		"shardThreshold": 1,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["box"].(map[string]any)["isLocked"])

	// The lock event carries Alice's id.
	lockEvents := env.bus.ByKind(models.EventBoxLocked)
	require.Len(t, lockEvents, 1)
	assert.Equal(t, []string{"alice"}, lockEvents[0].Payload.(models.BoxLockedEvent).GuardianIDs)

	// Alice sees the box as guardian; the listing never exposes ciphertext.
	status, body = env.call(t, http.MethodGet, "/boxes/guardian", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	listed := body["boxes"].([]any)
	require.Len(t, listed, 1)
	listedGuardian := listed[0].(map[string]any)["guardians"].([]any)[0].(map[string]any)
	assert.Nil(t, listedGuardian["encryptedShard"])

	// Shard fetch returns the ciphertext.
	status, body = env.call(t, http.MethodGet, "/boxes/guardian/"+boxID+"/shard", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ciphertext-alice", body["encryptedShard"])
	assert.Equal(t, "hash-alice", body["shardHash"])
	assert.Equal(t, float64(1), body["shardThreshold"])

	// Acknowledge deletes the server copy.
	status, body = env.call(t, http.MethodPatch, "/boxes/guardian/"+boxID+"/shard/ack", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["shardsFetched"])

	status, _ = env.call(t, http.MethodGet, "/boxes/guardian/"+boxID+"/shard", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, status, "shard is gone after acknowledgement")

	// Accept stops the reminder pipeline.
	status, body = env.call(t, http.MethodPost, "/boxes/guardian/"+boxID+"/shard/accept", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["shardAcceptedAt"])

	// A stranger gets 401 on every guardian route.
	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/boxes/guardian/" + boxID},
		{http.MethodGet, "/boxes/guardian/" + boxID + "/shard"},
		{http.MethodPatch, "/boxes/guardian/" + boxID + "/shard/ack"},
		{http.MethodPost, "/boxes/guardian/" + boxID + "/shard/accept"},
	} {
		status, _ = env.call(t, probe.method, probe.path, "stranger", nil)
		assert.Equal(t, http.StatusUnauthorized, status, fmt.Sprintf("%s %s", probe.method, probe.path))
	}
}

func TestCreateInvitationRequiresBoxOwnership(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.call(t, http.MethodPost, "/boxes/owned", "owner-1", map[string]any{"name": "Estate"})
	require.Equal(t, http.StatusCreated, status)
	boxID := body["box"].(map[string]any)["id"].(string)

	status, _ = env.call(t, http.MethodPost, "/invitations/new", "intruder", map[string]any{
		"invitedName": "Mallory",
		"boxId":       boxID,
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestListMyInvitationsReturnsBareArray(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.call(t, http.MethodPost, "/boxes/owned", "owner-1", map[string]any{"name": "Estate"})
	require.Equal(t, http.StatusCreated, status)
	boxID := body["box"].(map[string]any)["id"].(string)

	status, _ = env.call(t, http.MethodPost, "/invitations/new", "owner-1", map[string]any{
		"invitedName": "Alice",
		"boxId":       boxID,
	})
	require.Equal(t, http.StatusOK, status)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/invitations/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-Id", "owner-1")
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Alice", list[0]["invitedName"])
}

func TestPushTokenValidation(t *testing.T) {
	env := newTestEnv(t, "")

	status, _ := env.call(t, http.MethodPut, "/users/push-token", "user-1", map[string]any{
		"pushToken": "ExponentPushToken[abc]",
		"platform":  "windows",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.call(t, http.MethodPut, "/users/push-token", "user-1", map[string]any{
		"pushToken": "not-an-expo-token",
		"platform":  "ios",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.call(t, http.MethodPut, "/users/push-token", "user-1", map[string]any{
		"pushToken": "ExponentPushToken[abc]",
		"platform":  "ios",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["message"])
}
