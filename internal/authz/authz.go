// Package authz produces capability witnesses. A witness is proof that the
// current identity passed the predicate for one operation; core actions
// accept the witness instead of re-checking, and the witness carries the
// looked-up context so actions need not refetch it.
package authz

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/project"
	"github.com/netsblox/cloud-go/internal/user"
)

// UserSource looks up accounts for ownership predicates.
type UserSource interface {
	ByUsername(ctx context.Context, username string) (*user.User, error)
}

// GroupSource resolves group ownership.
type GroupSource interface {
	OwnerOf(ctx context.Context, groupID uuid.UUID) (string, error)
}

// ProjectSource loads project metadata.
type ProjectSource interface {
	Metadata(ctx context.Context, id uuid.UUID) (*project.Metadata, error)
}

// ClientSource resolves connected clients for guest access and eviction.
// Implemented by network.Topology.
type ClientSource interface {
	ClientUsername(id string) (string, bool)
	ClientInfo(id string) (*network.ClientInfo, bool)
}

// FriendSource answers whether two users may exchange invitations.
type FriendSource interface {
	Friends(ctx context.Context, username string) ([]string, error)
}

// Authorizer evaluates the per-operation predicates and mints witnesses.
type Authorizer struct {
	users    UserSource
	groups   GroupSource
	projects ProjectSource
	clients  ClientSource
	friends  FriendSource
	log      zerolog.Logger
}

// NewAuthorizer creates the witness factory.
func NewAuthorizer(users UserSource, groups GroupSource, projects ProjectSource, clients ClientSource, friends FriendSource, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		users:    users,
		groups:   groups,
		projects: projects,
		clients:  clients,
		friends:  friends,
		log:      logger.With().Str("component", "authz").Logger(),
	}
}

// canEditUser reports whether the requester may act on the target account:
// themselves, a moderator or admin, or the owner of the target's group.
func (a *Authorizer) canEditUser(ctx context.Context, r *auth.Requester, target *user.User) (bool, error) {
	if r == nil {
		return false, nil
	}
	if r.Username == target.Username || r.IsModerator() {
		return true, nil
	}
	if target.GroupID != nil {
		owner, err := a.groups.OwnerOf(ctx, *target.GroupID)
		if err != nil {
			if errs.Is(err, errs.KindGroupNotFound) {
				return false, nil
			}
			return false, err
		}
		return owner == r.Username, nil
	}
	return false, nil
}

// canEditUsername is canEditUser with only a username for the target. Guest
// owners (client ids) are editable by the client presenting that id.
func (a *Authorizer) canEditUsername(ctx context.Context, r *auth.Requester, clientID, target string) (bool, error) {
	if network.IsValidClientID(target) {
		return clientID == target, nil
	}
	u, err := a.users.ByUsername(ctx, target)
	if err != nil {
		if errs.Is(err, errs.KindUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return a.canEditUser(ctx, r, u)
}

// requireLogin maps a missing identity to LoginRequired, per the error
// taxonomy.
func requireLogin(r *auth.Requester) error {
	if r == nil {
		return errs.New(errs.KindLoginRequired)
	}
	return nil
}
