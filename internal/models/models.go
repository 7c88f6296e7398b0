package models

import "time"

// ============================================================================
// CORE RECORDS
//
// All timestamps are RFC3339 strings. The store persists records as-is, so an
// absent timestamp is an empty string (or nil pointer where "explicitly
// cleared" must be distinguishable from "never set").
// ============================================================================

// GuardianStatus is the lifecycle state of a guardian slot.
type GuardianStatus string

const (
	GuardianStatusInvited  GuardianStatus = "invited"
	GuardianStatusAccepted GuardianStatus = "accepted"
	GuardianStatusDeclined GuardianStatus = "declined"
	GuardianStatusRejected GuardianStatus = "rejected"
)

// Guardian is a user designated to receive one shard of a box's unlock key.
// Id stays empty until the guardian views their invitation; until then the
// entry is addressable only by InvitationID.
type Guardian struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Status             GuardianStatus `json:"status"`
	LeadGuardian       bool           `json:"leadGuardian"`
	AddedAt            string         `json:"addedAt"`
	InvitationID       string         `json:"invitationId,omitempty"`
	EncryptedShard     *string        `json:"encryptedShard,omitempty"`
	ShardHash          *string        `json:"shardHash,omitempty"`
	ShardFetchedAt     *string        `json:"shardFetchedAt,omitempty"`
	ShardAcceptedAt    *string        `json:"shardAcceptedAt,omitempty"`
	LockDataReceivedAt *string        `json:"lockDataReceivedAt,omitempty"`
}

// Document is an opaque payload entry. The server never interprets Content.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// UnlockRequest tracks a guardian-initiated unlock attempt on a locked box.
type UnlockRequest struct {
	ID          string   `json:"id"`
	RequestedBy string   `json:"requestedBy"`
	Message     string   `json:"message,omitempty"`
	InitiatedAt string   `json:"initiatedAt"`
	Approvals   []string `json:"approvals"`
	Rejections  []string `json:"rejections"`
}

// Box is the unit of escrow: documents + guardians + lock state.
type Box struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	OwnerID            string         `json:"ownerId"`
	OwnerName          string         `json:"ownerName,omitempty"`
	IsLocked           bool           `json:"isLocked"`
	LockedAt           *string        `json:"lockedAt,omitempty"`
	CreatedAt          string         `json:"createdAt"`
	UpdatedAt          string         `json:"updatedAt"`
	Version            int64          `json:"version"`
	UnlockInstructions *string        `json:"unlockInstructions,omitempty"`
	Documents          []Document     `json:"documents"`
	Guardians          []Guardian     `json:"guardians"`
	ShardThreshold     *int           `json:"shardThreshold,omitempty"`
	TotalShards        *int           `json:"totalShards,omitempty"`
	ShardsFetched      *int           `json:"shardsFetched,omitempty"`
	ShardsDeletedAt    *string        `json:"shardsDeletedAt,omitempty"`
	UnlockRequest      *UnlockRequest `json:"unlockRequest,omitempty"`
}

// GuardianByID returns the guardian entry whose stable user id matches.
func (b *Box) GuardianByID(userID string) *Guardian {
	for i := range b.Guardians {
		if b.Guardians[i].ID == userID && userID != "" {
			return &b.Guardians[i]
		}
	}
	return nil
}

// Invitation is a time-bounded, single-use code binding a guardian slot to a
// redeeming user. Opened=true is terminal: LinkedUserID is never reassigned.
type Invitation struct {
	ID             string  `json:"id"`
	InviteCode     string  `json:"inviteCode"`
	InvitedName    string  `json:"invitedName"`
	BoxID          string  `json:"boxId"`
	CreatorID      string  `json:"creatorId"`
	CreatedAt      string  `json:"createdAt"`
	ExpiresAt      string  `json:"expiresAt"`
	Opened         bool    `json:"opened"`
	LinkedUserID   *string `json:"linkedUserId"`
	IsLeadGuardian bool    `json:"isLeadGuardian"`
}

// Expired reports whether the invitation's window has closed at the given
// instant. A malformed ExpiresAt counts as expired.
func (inv *Invitation) Expired(now time.Time) bool {
	exp, err := ParseTime(inv.ExpiresAt)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

// PushToken is a user's registered mobile push endpoint.
type PushToken struct {
	UserID    string `json:"userId"`
	PushToken string `json:"pushToken"`
	Platform  string `json:"platform"`
	UpdatedAt string `json:"updatedAt"`
}

// NowStr returns the current UTC time as an RFC3339 string, the canonical
// timestamp representation across all records.
func NowStr() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// TimeStr formats an instant the same way NowStr does.
func TimeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses an RFC3339 timestamp produced by NowStr.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
