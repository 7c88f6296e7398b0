// Package store defines the durable persistence interfaces for boxes,
// invitations, and push tokens, plus the sentinel errors the cores key on.
//
// Every multi-step read-modify-write in the system is discharged as a
// conditional write here: box updates are guarded by the record version,
// invitation updates by the opened flag. There is no application-level
// locking; the store is the single source of truth.
package store

import (
	"context"
	"errors"

	"github.com/lockbox/backend/internal/models"
)

var (
	// ErrNotFound signals an absent record.
	ErrNotFound = errors.New("store: record not found")

	// ErrVersionConflict signals that a box update lost an optimistic race:
	// the stored version no longer matches the in-hand version.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrConditionFailed signals that an invitation update's guard
	// (opened=false at commit time) did not hold.
	ErrConditionFailed = errors.New("store: conditional write failed")
)

// BoxStore persists Box records. UpdateBox is optimistic: it succeeds only if
// the stored version equals box.Version, and increments the version on
// success (reflected in the returned record).
type BoxStore interface {
	CreateBox(ctx context.Context, box models.Box) (*models.Box, error)
	GetBox(ctx context.Context, id string) (*models.Box, error)
	UpdateBox(ctx context.Context, box models.Box) (*models.Box, error)
	DeleteBox(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Box, error)
	ListByGuardian(ctx context.Context, userID string) ([]models.Box, error)
	ScanLocked(ctx context.Context) ([]models.Box, error)
}

// InvitationStore persists Invitation records. UpdateInvitation is guarded:
// it succeeds only if the stored record has opened=false at commit time, so
// exactly one concurrent redemption observes the open transition.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv models.Invitation) (*models.Invitation, error)
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	GetByCode(ctx context.Context, code string) (*models.Invitation, error)
	ListByCreator(ctx context.Context, creatorID string) ([]models.Invitation, error)
	UpdateInvitation(ctx context.Context, inv models.Invitation) (*models.Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
}

// PushTokenStore persists device push tokens, upserting by user id.
type PushTokenStore interface {
	SavePushToken(ctx context.Context, token models.PushToken) error
	GetPushTokens(ctx context.Context, userIDs []string) ([]models.PushToken, error)
}
