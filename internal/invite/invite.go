// Package invite stores occupant and collaboration invitations.
package invite

import (
	"time"

	"github.com/google/uuid"
)

// OccupantInvite invites a user to join a specific role of a project.
type OccupantInvite struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Inviter   string    `json:"inviter"`
	ProjectID uuid.UUID `json:"projectId"`
	RoleID    uuid.UUID `json:"roleId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CollaborationState is the state of a collaboration invitation.
type CollaborationState string

const (
	CollaborationPending  CollaborationState = "pending"
	CollaborationAccepted CollaborationState = "accepted"
	CollaborationRejected CollaborationState = "rejected"
)

// CollaborationInvite invites a user to become a collaborator on a project.
// At most one invite exists per receiver and project.
type CollaborationInvite struct {
	ID        uuid.UUID          `json:"id"`
	Sender    string             `json:"sender"`
	Receiver  string             `json:"receiver"`
	ProjectID uuid.UUID          `json:"projectId"`
	State     CollaborationState `json:"state"`
	CreatedAt time.Time          `json:"createdAt"`
}
