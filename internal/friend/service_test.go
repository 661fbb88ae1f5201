package friend

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/user"
)

type memLinks struct {
	mu    sync.Mutex
	links map[uuid.UUID]*Link
}

func newMemLinks() *memLinks {
	return &memLinks{links: make(map[uuid.UUID]*Link)}
}

func (s *memLinks) pair(a, b string) *Link {
	for _, l := range s.links {
		if (l.Sender == a && l.Recipient == b) || (l.Sender == b && l.Recipient == a) {
			return l
		}
	}
	return nil
}

func (s *memLinks) SendInvite(_ context.Context, sender, recipient string) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.pair(sender, recipient)
	if existing == nil {
		l := &Link{ID: uuid.New(), Sender: sender, Recipient: recipient,
			State: LinkStatePending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		s.links[l.ID] = l
		out := *l
		return &out, nil
	}
	switch existing.State {
	case LinkStatePending:
		if existing.Sender == recipient {
			existing.State = LinkStateApproved
		}
		out := *existing
		return &out, nil
	case LinkStateApproved:
		out := *existing
		return &out, nil
	default:
		return nil, errs.New(errs.KindInviteNotAllowed)
	}
}

func (s *memLinks) Respond(_ context.Context, recipient, sender string, approve bool) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.pair(sender, recipient)
	if existing == nil || existing.State != LinkStatePending ||
		existing.Sender != sender || existing.Recipient != recipient {
		return nil, errs.New(errs.KindInviteNotFound)
	}
	if !approve {
		delete(s.links, existing.ID)
		out := *existing
		return &out, nil
	}
	existing.State = LinkStateApproved
	out := *existing
	return &out, nil
}

func (s *memLinks) Block(_ context.Context, sender, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.pair(sender, recipient); existing != nil {
		delete(s.links, existing.ID)
	}
	l := &Link{ID: uuid.New(), Sender: sender, Recipient: recipient, State: LinkStateBlocked}
	s.links[l.ID] = l
	return nil
}

func (s *memLinks) Unblock(_ context.Context, sender, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.links {
		if l.Sender == sender && l.Recipient == recipient && l.State == LinkStateBlocked {
			delete(s.links, id)
		}
	}
	return nil
}

func (s *memLinks) Unfriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.pair(a, b)
	if existing == nil || existing.State != LinkStateApproved {
		return errs.New(errs.KindFriendNotFound)
	}
	delete(s.links, existing.ID)
	return nil
}

func (s *memLinks) ListInvites(_ context.Context, username string) ([]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Link{}
	for _, l := range s.links {
		if l.Recipient == username && l.State == LinkStatePending {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memLinks) ApprovedNeighbors(_ context.Context, username string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, l := range s.links {
		if l.State != LinkStateApproved {
			continue
		}
		if l.Sender == username {
			out = append(out, l.Recipient)
		} else if l.Recipient == username {
			out = append(out, l.Sender)
		}
	}
	return out, nil
}

func (s *memLinks) HasBlock(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.pair(a, b)
	return l != nil && l.State == LinkStateBlocked, nil
}

type fakeUsers struct {
	users map[string]*user.User
}

func (f *fakeUsers) ByUsername(_ context.Context, username string) (*user.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errs.New(errs.KindUserNotFound)
	}
	return u, nil
}

func (f *fakeUsers) ListUsernames(_ context.Context) ([]string, error) {
	out := []string{}
	for name := range f.users {
		out = append(out, name)
	}
	return out, nil
}

type fakeGroups struct {
	owners  map[uuid.UUID]string
	members map[uuid.UUID][]string
}

func (f *fakeGroups) OwnerOf(_ context.Context, id uuid.UUID) (string, error) {
	owner, ok := f.owners[id]
	if !ok {
		return "", errs.New(errs.KindGroupNotFound)
	}
	return owner, nil
}

func (f *fakeGroups) MemberUsernames(_ context.Context, id uuid.UUID) ([]string, error) {
	return f.members[id], nil
}

func (f *fakeGroups) OwnedMemberUsernames(_ context.Context, owner string) ([]string, error) {
	out := []string{}
	for id, members := range f.members {
		if f.owners[id] == owner {
			out = append(out, members...)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) FriendRequestChanged(recipient, change string, _ *Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recipient+":"+change)
}

func newTestService(t *testing.T, users *fakeUsers, groups *fakeGroups) (*Service, *recordingNotifier) {
	t.Helper()
	if users == nil {
		users = &fakeUsers{users: map[string]*user.User{
			"alice": {Username: "alice", Role: user.RoleUser},
			"bob":   {Username: "bob", Role: user.RoleUser},
			"carol": {Username: "carol", Role: user.RoleUser},
		}}
	}
	if groups == nil {
		groups = &fakeGroups{
			owners:  map[uuid.UUID]string{},
			members: map[uuid.UUID][]string{},
		}
	}
	notifier := &recordingNotifier{}
	svc := NewService(newMemLinks(), users, groups, 16, zerolog.Nop())
	svc.SetNotifier(notifier)
	return svc, notifier
}

func TestSendInviteCreatesPending(t *testing.T) {
	t.Parallel()
	svc, notifier := newTestService(t, nil, nil)
	ctx := context.Background()

	link, err := svc.SendInvite(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if link.State != LinkStatePending {
		t.Errorf("State = %q, want %q", link.State, LinkStatePending)
	}
	if !reflect.DeepEqual(notifier.events, []string{"bob:created"}) {
		t.Errorf("events = %v, want [bob:created]", notifier.events)
	}
}

func TestSendInviteIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("repeat SendInvite() error = %v", err)
	}

	invites, err := svc.ListInvites(ctx, "bob")
	if err != nil {
		t.Fatalf("ListInvites() error = %v", err)
	}
	if len(invites) != 1 {
		t.Errorf("len(invites) = %d, want 1", len(invites))
	}
}

func TestSendInviteCounterInviteApproves(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	link, err := svc.SendInvite(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("counter SendInvite() error = %v", err)
	}
	if link.State != LinkStateApproved {
		t.Errorf("State = %q, want %q", link.State, LinkStateApproved)
	}

	friends, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if !reflect.DeepEqual(friends, []string{"bob"}) {
		t.Errorf("Friends(alice) = %v, want [bob]", friends)
	}
}

func TestSendInviteRejectsGroupMembers(t *testing.T) {
	t.Parallel()
	groupID := uuid.New()
	users := &fakeUsers{users: map[string]*user.User{
		"alice": {Username: "alice", Role: user.RoleUser},
		"bob":   {Username: "bob", Role: user.RoleUser, GroupID: &groupID},
	}}
	svc, _ := newTestService(t, users, nil)

	_, err := svc.SendInvite(context.Background(), "alice", "bob")
	if !errs.Is(err, errs.KindInviteNotAllowed) {
		t.Errorf("SendInvite() error = %v, want KindInviteNotAllowed", err)
	}
}

func TestSendInviteToSelf(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.SendInvite(context.Background(), "alice", "alice")
	if !errs.Is(err, errs.KindInviteNotAllowed) {
		t.Errorf("SendInvite() error = %v, want KindInviteNotAllowed", err)
	}
}

func TestRespondReject(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if _, err := svc.Respond(ctx, "bob", "alice", false); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	invites, err := svc.ListInvites(ctx, "bob")
	if err != nil {
		t.Fatalf("ListInvites() error = %v", err)
	}
	if len(invites) != 0 {
		t.Errorf("len(invites) = %d, want 0 after rejection", len(invites))
	}

	// Rejection removes the link entirely, so a fresh invite works.
	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Errorf("SendInvite() after rejection error = %v", err)
	}
}

func TestRespondWithoutPendingInvite(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.Respond(context.Background(), "bob", "alice", true)
	if !errs.Is(err, errs.KindInviteNotFound) {
		t.Errorf("Respond() error = %v, want KindInviteNotFound", err)
	}
}

func TestBlockPreventsInvites(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if err := svc.Block(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if _, err := svc.SendInvite(ctx, "alice", "bob"); !errs.Is(err, errs.KindInviteNotAllowed) {
		t.Errorf("SendInvite() error = %v, want KindInviteNotAllowed", err)
	}

	if err := svc.Unblock(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Errorf("SendInvite() after unblock error = %v", err)
	}
}

func TestBlockOverwritesFriendship(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if _, err := svc.Respond(ctx, "bob", "alice", true); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if err := svc.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	friends, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if len(friends) != 0 {
		t.Errorf("Friends(alice) = %v, want empty after block", friends)
	}
}

func TestUnfriend(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if _, err := svc.Respond(ctx, "bob", "alice", true); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	// Either side can end the friendship.
	if err := svc.Unfriend(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Unfriend() error = %v", err)
	}
	friends, err := svc.Friends(ctx, "alice")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if len(friends) != 0 {
		t.Errorf("Friends(alice) = %v, want empty", friends)
	}

	if err := svc.Unfriend(ctx, "alice", "bob"); !errs.Is(err, errs.KindFriendNotFound) {
		t.Errorf("repeat Unfriend() error = %v, want KindFriendNotFound", err)
	}
}

func TestFriendsAdminSeesEveryone(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{users: map[string]*user.User{
		"root":  {Username: "root", Role: user.RoleAdmin},
		"alice": {Username: "alice", Role: user.RoleUser},
		"bob":   {Username: "bob", Role: user.RoleUser},
	}}
	svc, _ := newTestService(t, users, nil)

	friends, err := svc.Friends(context.Background(), "root")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if !reflect.DeepEqual(friends, []string{"alice", "bob"}) {
		t.Errorf("Friends(root) = %v, want [alice bob]", friends)
	}
}

func TestFriendsGroupMemberSeesOwnerAndPeers(t *testing.T) {
	t.Parallel()
	groupID := uuid.New()
	users := &fakeUsers{users: map[string]*user.User{
		"teacher": {Username: "teacher", Role: user.RoleUser},
		"s1":      {Username: "s1", Role: user.RoleUser, GroupID: &groupID},
		"s2":      {Username: "s2", Role: user.RoleUser, GroupID: &groupID},
	}}
	groups := &fakeGroups{
		owners:  map[uuid.UUID]string{groupID: "teacher"},
		members: map[uuid.UUID][]string{groupID: {"s1", "s2"}},
	}
	svc, _ := newTestService(t, users, groups)
	ctx := context.Background()

	friends, err := svc.Friends(ctx, "s1")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if !reflect.DeepEqual(friends, []string{"s2", "teacher"}) {
		t.Errorf("Friends(s1) = %v, want [s2 teacher]", friends)
	}

	// The owner sees their groups' members.
	friends, err = svc.Friends(ctx, "teacher")
	if err != nil {
		t.Fatalf("Friends() error = %v", err)
	}
	if !reflect.DeepEqual(friends, []string{"s1", "s2"}) {
		t.Errorf("Friends(teacher) = %v, want [s1 s2]", friends)
	}
}

func TestOnlineFriends(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{users: map[string]*user.User{
		"root":  {Username: "root", Role: user.RoleAdmin},
		"alice": {Username: "alice", Role: user.RoleUser},
		"bob":   {Username: "bob", Role: user.RoleUser},
		"carol": {Username: "carol", Role: user.RoleUser},
	}}
	svc, _ := newTestService(t, users, nil)
	ctx := context.Background()

	if _, err := svc.SendInvite(ctx, "alice", "bob"); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if _, err := svc.Respond(ctx, "bob", "alice", true); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	online := []string{"alice", "bob", "carol"}

	got, err := svc.OnlineFriends(ctx, "alice", online)
	if err != nil {
		t.Fatalf("OnlineFriends() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("OnlineFriends(alice) = %v, want [bob]", got)
	}

	got, err = svc.OnlineFriends(ctx, "root", online)
	if err != nil {
		t.Fatalf("OnlineFriends() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"alice", "bob", "carol"}) {
		t.Errorf("OnlineFriends(root) = %v, want everyone online", got)
	}
}
