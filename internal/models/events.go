package models

// Event kinds published to the SNS topic. The kind is mirrored both in the
// payload (event_type) and as the eventType message attribute so consumers can
// filter broker-side.
const (
	EventBoxLocked         = "box_locked"
	EventInvitationCreated = "invitation_created"
	EventInvitationViewed  = "invitation_viewed"
)

// BoxLockedEvent is emitted after a box's lock transition has been persisted.
// Consumers must be idempotent on BoxID: the durable record is authoritative
// and the reminder sweep backstops lost events.
type BoxLockedEvent struct {
	EventType   string   `json:"event_type"`
	BoxID       string   `json:"box_id"`
	BoxName     string   `json:"box_name"`
	OwnerName   string   `json:"owner_name,omitempty"`
	GuardianIDs []string `json:"guardian_ids"`
	Timestamp   string   `json:"timestamp"`
}

// InvitationEvent is emitted on invitation creation and redemption.
type InvitationEvent struct {
	EventType      string `json:"event_type"`
	InvitationID   string `json:"invitation_id"`
	BoxID          string `json:"box_id"`
	UserID         string `json:"user_id,omitempty"`
	InviteCode     string `json:"invite_code"`
	InvitedName    string `json:"invited_name,omitempty"`
	IsLeadGuardian bool   `json:"is_lead_guardian"`
	Timestamp      string `json:"timestamp"`
}
