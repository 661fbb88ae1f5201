// Package group manages user groups (classes). Group membership narrows the
// friends a member can message and lets the owner manage member accounts.
package group

import (
	"time"

	"github.com/google/uuid"
)

// Group is a named collection of accounts managed by its owner.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}
