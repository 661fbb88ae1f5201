// Package friend implements the friend-link state machine and the derived
// friends list.
package friend

import (
	"time"

	"github.com/google/uuid"
)

// LinkState is the state of a friend link between two users.
type LinkState string

const (
	// LinkStatePending marks an invite awaiting a response from the recipient.
	LinkStatePending LinkState = "pending"
	// LinkStateApproved marks an accepted friendship.
	LinkStateApproved LinkState = "approved"
	// LinkStateBlocked marks a one-way block from sender to recipient.
	LinkStateBlocked LinkState = "blocked"
)

// Link is the stored relationship between an unordered pair of users. At most
// one link exists per pair; direction only matters for pending and blocked
// states.
type Link struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	State     LinkState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Other returns the username on the other end of the link.
func (l *Link) Other(username string) string {
	if l.Sender == username {
		return l.Recipient
	}
	return l.Sender
}
