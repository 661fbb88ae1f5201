package friend

import (
	"context"
	"sort"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/user"
)

// LinkStore is the friend-link persistence required by the service.
// Implemented by PGRepository.
type LinkStore interface {
	SendInvite(ctx context.Context, sender, recipient string) (*Link, error)
	Respond(ctx context.Context, recipient, sender string, approve bool) (*Link, error)
	Block(ctx context.Context, sender, recipient string) error
	Unblock(ctx context.Context, sender, recipient string) error
	Unfriend(ctx context.Context, a, b string) error
	ListInvites(ctx context.Context, username string) ([]Link, error)
	ApprovedNeighbors(ctx context.Context, username string) ([]string, error)
	HasBlock(ctx context.Context, a, b string) (bool, error)
}

// UserDirectory looks up accounts for invite validation and the admin
// friends-list shortcut.
type UserDirectory interface {
	ByUsername(ctx context.Context, username string) (*user.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// GroupDirectory resolves group ownership and membership for the friends
// derivation.
type GroupDirectory interface {
	OwnerOf(ctx context.Context, groupID uuid.UUID) (string, error)
	MemberUsernames(ctx context.Context, groupID uuid.UUID) ([]string, error)
	OwnedMemberUsernames(ctx context.Context, owner string) ([]string, error)
}

// Notifier pushes friend-request changes to connected clients.
type Notifier interface {
	FriendRequestChanged(recipient string, change string, link *Link)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) FriendRequestChanged(string, string, *Link) {}

// Service derives friends lists and drives the friend-link state machine.
type Service struct {
	links    LinkStore
	users    UserDirectory
	groups   GroupDirectory
	cache    *lru.Cache[string, []string]
	notifier Notifier
	log      zerolog.Logger
}

// NewService creates the friend service. cacheSize bounds the derived
// friends-list cache.
func NewService(links LinkStore, users UserDirectory, groups GroupDirectory, cacheSize int, logger zerolog.Logger) *Service {
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Service{
		links:    links,
		users:    users,
		groups:   groups,
		cache:    cache,
		notifier: NopNotifier{},
		log:      logger.With().Str("component", "friends").Logger(),
	}
}

// SetNotifier wires the network layer in after construction.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Friends returns the derived friends list for the user. Admins befriend
// everyone; group members see their group's owner and peers; everyone else
// sees approved links plus the members of groups they own.
func (s *Service) Friends(ctx context.Context, username string) ([]string, error) {
	if cached, ok := s.cache.Get(username); ok {
		return cached, nil
	}

	u, err := s.users.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	var friends []string
	switch {
	case u.IsAdmin():
		all, err := s.users.ListUsernames(ctx)
		if err != nil {
			return nil, err
		}
		friends = all
	case u.GroupID != nil:
		owner, err := s.groups.OwnerOf(ctx, *u.GroupID)
		if err != nil {
			return nil, err
		}
		members, err := s.groups.MemberUsernames(ctx, *u.GroupID)
		if err != nil {
			return nil, err
		}
		friends = append(members, owner)
	default:
		neighbors, err := s.links.ApprovedNeighbors(ctx, username)
		if err != nil {
			return nil, err
		}
		owned, err := s.groups.OwnedMemberUsernames(ctx, username)
		if err != nil {
			return nil, err
		}
		friends = append(neighbors, owned...)
	}

	friends = dedupeWithout(friends, username)
	s.cache.Add(username, friends)
	return friends, nil
}

// OnlineFriends filters the online-usernames snapshot down to the user's
// friends. Admins see everyone online.
func (s *Service) OnlineFriends(ctx context.Context, username string, online []string) ([]string, error) {
	u, err := s.users.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.IsAdmin() {
		return dedupeWithout(online, username), nil
	}

	friends, err := s.Friends(ctx, username)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(friends))
	for _, f := range friends {
		allowed[f] = struct{}{}
	}

	result := []string{}
	for _, name := range online {
		if _, ok := allowed[name]; ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result, nil
}

// SendInvite sends a friend invite. Both users must exist and be outside any
// group; a pending counter-invite is approved instead.
func (s *Service) SendInvite(ctx context.Context, sender, recipient string) (*Link, error) {
	if sender == recipient {
		return nil, errs.New(errs.KindInviteNotAllowed)
	}
	for _, name := range []string{sender, recipient} {
		u, err := s.users.ByUsername(ctx, name)
		if err != nil {
			return nil, err
		}
		if u.GroupID != nil {
			return nil, errs.New(errs.KindInviteNotAllowed)
		}
	}

	link, err := s.links.SendInvite(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}

	switch link.State {
	case LinkStateApproved:
		s.Invalidate(sender, recipient)
		s.notifier.FriendRequestChanged(sender, "approved", link)
		s.notifier.FriendRequestChanged(recipient, "approved", link)
	case LinkStatePending:
		s.notifier.FriendRequestChanged(recipient, "created", link)
	}
	return link, nil
}

// Respond resolves a pending invite addressed to recipient.
func (s *Service) Respond(ctx context.Context, recipient, sender string, approve bool) (*Link, error) {
	link, err := s.links.Respond(ctx, recipient, sender, approve)
	if err != nil {
		return nil, err
	}

	change := "rejected"
	if approve {
		change = "approved"
		s.Invalidate(sender, recipient)
	}
	s.notifier.FriendRequestChanged(sender, change, link)
	return link, nil
}

// Block places a block from sender on recipient, severing any existing link.
func (s *Service) Block(ctx context.Context, sender, recipient string) error {
	if _, err := s.users.ByUsername(ctx, recipient); err != nil {
		return err
	}
	if err := s.links.Block(ctx, sender, recipient); err != nil {
		return err
	}
	s.Invalidate(sender, recipient)
	return nil
}

// Unblock removes a block placed by sender.
func (s *Service) Unblock(ctx context.Context, sender, recipient string) error {
	if err := s.links.Unblock(ctx, sender, recipient); err != nil {
		return err
	}
	s.Invalidate(sender, recipient)
	return nil
}

// Unfriend removes an approved friendship in either direction.
func (s *Service) Unfriend(ctx context.Context, a, b string) error {
	if err := s.links.Unfriend(ctx, a, b); err != nil {
		return err
	}
	s.Invalidate(a, b)
	return nil
}

// ListInvites returns the pending invites addressed to username.
func (s *Service) ListInvites(ctx context.Context, username string) ([]Link, error) {
	return s.links.ListInvites(ctx, username)
}

// Invalidate drops the cached friends lists of the given users. Called on
// link mutations and on group membership changes.
func (s *Service) Invalidate(usernames ...string) {
	for _, name := range usernames {
		s.cache.Remove(name)
	}
}

// InvalidateAll drops every cached friends list.
func (s *Service) InvalidateAll() {
	s.cache.Purge()
}

func dedupeWithout(names []string, exclude string) []string {
	seen := make(map[string]struct{}, len(names))
	out := []string{}
	for _, name := range names {
		if name == exclude {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
