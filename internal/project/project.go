// Package project manages project metadata, role content, and the project
// lifecycle rules for unsaved rooms.
package project

import (
	"time"

	"github.com/google/uuid"
)

// SaveState tracks the lifecycle of a project's persistence.
type SaveState string

const (
	// SaveStateCreated marks a freshly created project no client has opened.
	SaveStateCreated SaveState = "Created"
	// SaveStateTransient marks an unsaved project with live occupants.
	SaveStateTransient SaveState = "Transient"
	// SaveStateBroken marks a transient project whose client disconnected abnormally.
	SaveStateBroken SaveState = "Broken"
	// SaveStateSaved marks a project the owner has explicitly saved.
	SaveStateSaved SaveState = "Saved"
)

// PublishState controls project visibility.
type PublishState string

const (
	PublishStatePrivate         PublishState = "Private"
	PublishStatePublic          PublishState = "Public"
	PublishStatePendingApproval PublishState = "PendingApproval"
)

// RoleMetadata describes one role of a project. The blob keys locate the
// role's code and media XML and never appear on the wire.
type RoleMetadata struct {
	Name     string    `json:"name"`
	CodeKey  string    `json:"-"`
	MediaKey string    `json:"-"`
	Updated  time.Time `json:"-"`
}

// Metadata is the stored description of a project, without role content.
type Metadata struct {
	ID            uuid.UUID                  `json:"id"`
	Owner         string                     `json:"owner"`
	Name          string                     `json:"name"`
	Collaborators []string                   `json:"collaborators"`
	SaveState     SaveState                  `json:"saveState"`
	PublishState  PublishState               `json:"state"`
	OriginTime    time.Time                  `json:"originTime"`
	Updated       time.Time                  `json:"updated"`
	DeleteAt      *time.Time                 `json:"deleteAt,omitempty"`
	Roles         map[uuid.UUID]RoleMetadata `json:"roles"`
}

// RoleIDs returns the role ids of the project in no particular order.
func (m *Metadata) RoleIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Roles))
	for id := range m.Roles {
		ids = append(ids, id)
	}
	return ids
}

// RoleNames returns the role names of the project in no particular order.
func (m *Metadata) RoleNames() []string {
	names := make([]string, 0, len(m.Roles))
	for _, r := range m.Roles {
		names = append(names, r.Name)
	}
	return names
}

// RoleByName returns the id of the role with the given name.
func (m *Metadata) RoleByName(name string) (uuid.UUID, bool) {
	for id, r := range m.Roles {
		if r.Name == name {
			return id, true
		}
	}
	return uuid.Nil, false
}

// HasCollaborator reports whether username is in the collaborator list.
func (m *Metadata) HasCollaborator(username string) bool {
	for _, c := range m.Collaborators {
		if c == username {
			return true
		}
	}
	return false
}

// RoleData is the full content of one role.
type RoleData struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Media string `json:"media"`
}

// Project is a project's metadata plus the content of every role.
type Project struct {
	Metadata
	RoleContent map[uuid.UUID]RoleData `json:"roles"`
}

// CreateParams groups the inputs for creating a project.
type CreateParams struct {
	Owner     string
	Name      string
	Roles     []RoleData
	SaveState SaveState
}
