package authz

import (
	"context"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/network"
)

// ListRooms authorizes enumerating active rooms.
type ListRooms struct {
	username string
}

func (w *ListRooms) Username() string { return w.username }

// ListClients authorizes enumerating connected clients.
type ListClients struct {
	username string
}

func (w *ListClients) Username() string { return w.username }

// ViewClient authorizes inspecting one connected client.
type ViewClient struct {
	info *network.ClientInfo
}

func (w *ViewClient) Info() *network.ClientInfo { return w.info }

// EvictClient authorizes evicting a client from its room.
type EvictClient struct {
	clientID string
}

func (w *EvictClient) ClientID() string { return w.clientID }

// SendMessage authorizes injecting messages through the REST surface.
// Minted only for authorized service hosts.
type SendMessage struct {
	host string
}

func (w *SendMessage) Host() string { return w.host }

// InviteLink authorizes sending an invitation from one user to another.
type InviteLink struct {
	sender string
	target string
}

func (w *InviteLink) Sender() string { return w.sender }
func (w *InviteLink) Target() string { return w.target }

// TryListRooms mints a room-listing witness. Admin only.
func (a *Authorizer) TryListRooms(r *auth.Requester) (*ListRooms, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if !r.IsAdmin() {
		return nil, errs.New(errs.KindPermissions)
	}
	return &ListRooms{username: r.Username}, nil
}

// TryListClients mints a client-listing witness. Admin only.
func (a *Authorizer) TryListClients(r *auth.Requester) (*ListClients, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if !r.IsAdmin() {
		return nil, errs.New(errs.KindPermissions)
	}
	return &ListClients{username: r.Username}, nil
}

// TryViewClient mints a witness for inspecting a connected client: admins
// and the user the client authenticated as.
func (a *Authorizer) TryViewClient(r *auth.Requester, clientID string) (*ViewClient, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	info, ok := a.clients.ClientInfo(clientID)
	if !ok {
		return nil, errs.New(errs.KindInvalidClientID)
	}
	if !r.IsAdmin() && (info.Username == "" || info.Username != r.Username) {
		return nil, errs.New(errs.KindPermissions)
	}
	return &ViewClient{info: info}, nil
}

// TryEvictClient mints an eviction witness: admins, the client's own user,
// and anyone who may edit the project the client occupies.
func (a *Authorizer) TryEvictClient(ctx context.Context, r *auth.Requester, clientID string) (*EvictClient, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	info, ok := a.clients.ClientInfo(clientID)
	if !ok {
		return nil, errs.New(errs.KindInvalidClientID)
	}
	if r.IsAdmin() || (info.Username != "" && info.Username == r.Username) {
		return &EvictClient{clientID: clientID}, nil
	}

	if info.State != nil && info.State.Browser != nil {
		m, err := a.projects.Metadata(ctx, info.State.Browser.ProjectID)
		if err != nil {
			return nil, err
		}
		ok, err := a.canEditProject(ctx, r, "", m)
		if err != nil {
			return nil, err
		}
		if ok {
			return &EvictClient{clientID: clientID}, nil
		}
	}
	return nil, errs.New(errs.KindPermissions)
}

// TrySendMessage mints a message-injection witness for an authorized host.
func (a *Authorizer) TrySendMessage(host *auth.Host) (*SendMessage, error) {
	if host == nil {
		return nil, errs.New(errs.KindPermissions)
	}
	return &SendMessage{host: host.ID}, nil
}

// TryInviteLink mints an invitation witness from the requester to target.
// The target must be among the requester's friends; admins skip the check.
func (a *Authorizer) TryInviteLink(ctx context.Context, r *auth.Requester, target string) (*InviteLink, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if target == r.Username {
		return nil, errs.New(errs.KindInviteNotAllowed)
	}
	if _, err := a.users.ByUsername(ctx, target); err != nil {
		return nil, err
	}
	if r.IsAdmin() {
		return &InviteLink{sender: r.Username, target: target}, nil
	}

	friends, err := a.friends.Friends(ctx, r.Username)
	if err != nil {
		return nil, err
	}
	for _, f := range friends {
		if f == target {
			return &InviteLink{sender: r.Username, target: target}, nil
		}
	}
	return nil, errs.New(errs.KindInviteNotAllowed)
}
