package boxes

import (
	"encoding/json"

	"github.com/lockbox/backend/internal/models"
)

// OptionalString distinguishes "field absent" from "field explicitly null" in
// PATCH bodies. Absent leaves Set=false; an explicit null sets Set=true with
// a nil Value, which clears the stored field.
type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// CreateRequest creates an unlocked, empty box owned by the caller.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerName   string `json:"ownerName,omitempty"`
}

// UpdateRequest edits box metadata. All fields are optional; on a locked box
// any present field is rejected.
type UpdateRequest struct {
	Name               *string        `json:"name,omitempty"`
	Description        *string        `json:"description,omitempty"`
	UnlockInstructions OptionalString `json:"unlockInstructions"`
	IsLocked           *bool          `json:"isLocked,omitempty"`
}

// ShardAssignment pairs a guardian with their encrypted shard for the lock
// transition.
type ShardAssignment struct {
	GuardianID string `json:"guardianId"`
	Shard      string `json:"shard"`
	ShardHash  string `json:"shardHash"`
}

// LockRequest carries the full shard distribution for the lock transition.
type LockRequest struct {
	Shards         []ShardAssignment `json:"shards"`
	ShardThreshold int               `json:"shardThreshold"`
}

// GuardianUpdateResult is returned by guardian upsert/delete: the affected
// guardian plus the box's full guardian list after the write.
type GuardianUpdateResult struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Status       models.GuardianStatus `json:"status"`
	LeadGuardian bool                  `json:"leadGuardian"`
	AddedAt      string                `json:"addedAt"`
	InvitationID string                `json:"invitationId,omitempty"`
	AllGuardians []models.Guardian     `json:"allGuardians"`
	UpdatedAt    string                `json:"updatedAt"`
}

// DocumentUpdateResult is returned by document upsert/delete.
type DocumentUpdateResult struct {
	Documents []models.Document `json:"documents"`
	UpdatedAt string            `json:"updatedAt"`
}

// ShardPayload is the guardian's one-time shard download.
type ShardPayload struct {
	EncryptedShard string  `json:"encryptedShard"`
	ShardHash      string  `json:"shardHash"`
	ShardFetchedAt *string `json:"shardFetchedAt"`
	ShardThreshold int     `json:"shardThreshold"`
	TotalShards    int     `json:"totalShards"`
}

// AckResult reports shard-custody counters after an acknowledgement.
type AckResult struct {
	ShardFetchedAt string `json:"shardFetchedAt"`
	TotalShards    int    `json:"totalShards"`
	ShardsFetched  int    `json:"shardsFetched"`
}

// AcceptResult reports a record-only acceptance; it stops the reminder sweep
// for this guardian.
type AcceptResult struct {
	Message         string `json:"message"`
	ShardAcceptedAt string `json:"shardAcceptedAt"`
	BoxID           string `json:"boxId"`
	BoxName         string `json:"boxName"`
}

// InvitationResponseRequest is a guardian's accept/decline of their slot.
type InvitationResponseRequest struct {
	InvitationID string `json:"invitationId"`
	Response     string `json:"response"` // "accept" or "decline"
}

// UnlockRequestInput starts an unlock attempt on a locked box.
type UnlockRequestInput struct {
	Message string `json:"message,omitempty"`
}

// UnlockResponseInput records a guardian's vote on an active unlock request.
type UnlockResponseInput struct {
	Approve bool `json:"approve"`
}
