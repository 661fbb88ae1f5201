// Package network owns the live client topology: connected sessions, room
// occupancy, the external-client namespace, address resolution, and message
// routing.
package network

import (
	"strings"

	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/errs"
)

// DefaultAppID is the app namespace of first-party browser clients. It is
// reserved and may not be claimed by external clients.
const DefaultAppID = "netsblox"

// IsValidClientID reports whether id is a well-formed client id. Client ids
// are opaque strings starting with an underscore.
func IsValidClientID(id string) bool {
	return len(id) > 1 && strings.HasPrefix(id, "_")
}

// ParseAppID normalizes an external app id. App ids compare
// case-insensitively; the first-party id is reserved.
func ParseAppID(s string) (string, error) {
	appID := strings.ToLower(strings.TrimSpace(s))
	if appID == "" || appID == DefaultAppID {
		return "", errs.New(errs.KindInvalidAppID)
	}
	return appID, nil
}

// BrowserState places a client in one role of one project.
type BrowserState struct {
	ProjectID uuid.UUID `json:"projectId"`
	RoleID    uuid.UUID `json:"roleId"`
}

// ExternalState registers a client under an address in an external app
// namespace.
type ExternalState struct {
	Address string `json:"address"`
	AppID   string `json:"appId"`
}

// ClientState is the declared location of a connected client. Exactly one of
// the two variants is set.
type ClientState struct {
	Browser  *BrowserState  `json:"browser,omitempty"`
	External *ExternalState `json:"external,omitempty"`
}

// ClientInfo is the admin-facing view of one connected client.
type ClientInfo struct {
	ID       string       `json:"id"`
	Username string       `json:"username,omitempty"`
	State    *ClientState `json:"state,omitempty"`
}
