package network

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/friend"
	"github.com/netsblox/cloud-go/internal/invite"
	"github.com/netsblox/cloud-go/internal/project"
)

// storageTimeout bounds the storage calls the topology makes after releasing
// its lock.
const storageTimeout = 5 * time.Second

// ClientHandle is the send side of a connected session. Send must not block;
// Close asks the session to terminate.
type ClientHandle interface {
	Send(payload []byte)
	Close()
}

// ProjectManager is the slice of the project service the topology drives for
// lifecycle transitions. Implemented by project.Service.
type ProjectManager interface {
	Metadata(ctx context.Context, id uuid.UUID) (*project.Metadata, error)
	MarkOccupied(ctx context.Context, id uuid.UUID) error
	MarkBroken(ctx context.Context, id uuid.UUID) error
	ScheduleDeletion(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) (*project.Metadata, error)
}

type clientEntry struct {
	handle   ClientHandle
	username string
	state    *ClientState
}

// Topology is the authoritative registry of live clients, room occupancy,
// and external addresses. All maps are guarded by one mutex; the lock is
// never held across network sends or storage calls.
type Topology struct {
	mu       sync.Mutex
	clients  map[string]*clientEntry
	rooms    map[uuid.UUID]map[uuid.UUID][]string
	external map[string]map[string]string
	pending  map[uuid.UUID]chan project.RoleData

	projects ProjectManager
	resolver *Resolver
	log      zerolog.Logger
}

// NewTopology creates an empty topology.
func NewTopology(projects ProjectManager, resolver *Resolver, logger zerolog.Logger) *Topology {
	return &Topology{
		clients:  make(map[string]*clientEntry),
		rooms:    make(map[uuid.UUID]map[uuid.UUID][]string),
		external: make(map[string]map[string]string),
		pending:  make(map[uuid.UUID]chan project.RoleData),
		projects: projects,
		resolver: resolver,
		log:      logger.With().Str("component", "topology").Logger(),
	}
}

// exitOnPanic turns a panic during a map mutation into a process exit. A
// partial mutation leaves the topology inconsistent with no way to repair it
// at runtime.
func (t *Topology) exitOnPanic() {
	if r := recover(); r != nil {
		t.log.Error().Interface("panic", r).Msg("Topology state corrupted")
		os.Exit(1)
	}
}

// AddClient registers a freshly connected session. A prior session using the
// same client id is closed first.
func (t *Topology) AddClient(id string, handle ClientHandle) {
	defer t.exitOnPanic()

	t.mu.Lock()
	prior, existed := t.clients[id]
	if existed {
		t.detachLocked(id, prior)
	}
	t.clients[id] = &clientEntry{handle: handle}
	t.mu.Unlock()

	if existed {
		prior.handle.Close()
	}
}

// RemoveClient purges the client from every room and namespace and applies
// the empty-room policy to the project it left. handle guards against a
// displaced session tearing down its replacement.
func (t *Topology) RemoveClient(id string, handle ClientHandle) {
	defer t.exitOnPanic()

	t.mu.Lock()
	entry, ok := t.clients[id]
	if !ok || entry.handle != handle {
		t.mu.Unlock()
		return
	}
	departed := t.detachLocked(id, entry)
	delete(t.clients, id)
	t.mu.Unlock()

	if departed != nil {
		t.afterLeave(*departed, uuid.Nil)
	}
}

// SetState moves the client to a new room or external address and records
// its username. Returns KindInvalidClientID when the client is not connected.
func (t *Topology) SetState(id string, state ClientState, username string) error {
	defer t.exitOnPanic()

	t.mu.Lock()
	entry, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return errs.New(errs.KindInvalidClientID)
	}
	departed := t.detachLocked(id, entry)
	entry.state = &state
	if username != "" {
		entry.username = username
	}
	t.attachLocked(id, &state)
	t.mu.Unlock()

	next := uuid.Nil
	if state.Browser != nil {
		next = state.Browser.ProjectID
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		if err := t.projects.MarkOccupied(ctx, next); err != nil {
			t.log.Warn().Err(err).Str("project_id", next.String()).Msg("Occupancy update failed")
		}
		if m, err := t.projects.Metadata(ctx, next); err == nil {
			t.SendRoomState(m)
		}
		cancel()
	}

	if departed != nil && departed.ProjectID != next {
		t.afterLeave(*departed, next)
	}
	return nil
}

// SetBrokenClient marks the client's project Broken after an abnormal
// disconnect, if the project is Transient. handle guards against a displaced
// session acting on its replacement's state.
func (t *Topology) SetBrokenClient(id string, handle ClientHandle) {
	t.mu.Lock()
	entry, ok := t.clients[id]
	if ok && handle != nil && entry.handle != handle {
		ok = false
	}
	var projectID uuid.UUID
	if ok && entry.state != nil && entry.state.Browser != nil {
		projectID = entry.state.Browser.ProjectID
	}
	t.mu.Unlock()

	if projectID == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := t.projects.MarkBroken(ctx, projectID); err != nil {
		t.log.Warn().Err(err).Str("project_id", projectID.String()).Msg("Broken transition failed")
	}
}

// Evict clears the client's state and delivers an eviction notice. The
// session stays connected.
func (t *Topology) Evict(id string) {
	defer t.exitOnPanic()

	t.mu.Lock()
	entry, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	departed := t.detachLocked(id, entry)
	entry.state = nil
	handle := entry.handle
	t.mu.Unlock()

	handle.Send(mustMarshal(map[string]string{"type": "eviction-notice"}))
	if departed != nil {
		t.afterLeave(*departed, uuid.Nil)
	}
}

// Disconnect asks the client's session to close. Removal happens when the
// session's read loop exits.
func (t *Topology) Disconnect(id string) {
	t.mu.Lock()
	entry, ok := t.clients[id]
	t.mu.Unlock()
	if ok {
		entry.handle.Close()
	}
}

// detachLocked removes the client from its current room or external address.
// Returns the browser state it left, if any. Caller holds the lock.
func (t *Topology) detachLocked(id string, entry *clientEntry) *BrowserState {
	if entry.state == nil {
		return nil
	}
	if ext := entry.state.External; ext != nil {
		if addrs, ok := t.external[ext.AppID]; ok && addrs[ext.Address] == id {
			delete(addrs, ext.Address)
			if len(addrs) == 0 {
				delete(t.external, ext.AppID)
			}
		}
		return nil
	}

	b := entry.state.Browser
	room, ok := t.rooms[b.ProjectID]
	if !ok {
		return b
	}
	occupants := room[b.RoleID]
	for i, occ := range occupants {
		if occ == id {
			room[b.RoleID] = append(occupants[:i], occupants[i+1:]...)
			break
		}
	}
	if len(room[b.RoleID]) == 0 {
		delete(room, b.RoleID)
	}
	if len(room) == 0 {
		delete(t.rooms, b.ProjectID)
	}
	return b
}

// attachLocked inserts the client into the room or external namespace its
// new state names. Caller holds the lock.
func (t *Topology) attachLocked(id string, state *ClientState) {
	if ext := state.External; ext != nil {
		addrs, ok := t.external[ext.AppID]
		if !ok {
			addrs = make(map[string]string)
			t.external[ext.AppID] = addrs
		}
		addrs[ext.Address] = id
		return
	}

	b := state.Browser
	room, ok := t.rooms[b.ProjectID]
	if !ok {
		room = make(map[uuid.UUID][]string)
		t.rooms[b.ProjectID] = room
	}
	room[b.RoleID] = append(room[b.RoleID], id)
}

// afterLeave applies the empty-room policy for a project a client departed.
// next is the project the client moved to, or Nil.
func (t *Topology) afterLeave(departed BrowserState, next uuid.UUID) {
	t.mu.Lock()
	_, occupied := t.rooms[departed.ProjectID]
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	m, err := t.projects.Metadata(ctx, departed.ProjectID)
	if err != nil {
		if !errs.Is(err, errs.KindProjectNotFound) {
			t.log.Warn().Err(err).Str("project_id", departed.ProjectID.String()).
				Msg("Empty-room policy lookup failed")
		}
		return
	}

	if occupied {
		t.SendRoomState(m)
		return
	}

	switch m.SaveState {
	case project.SaveStateTransient:
		if len(m.Roles) == 1 && next != departed.ProjectID {
			if _, err := t.projects.Delete(ctx, departed.ProjectID); err != nil {
				t.log.Warn().Err(err).Str("project_id", departed.ProjectID.String()).
					Msg("Unsaved project removal failed")
			}
			return
		}
		fallthrough
	case project.SaveStateBroken:
		if err := t.projects.ScheduleDeletion(ctx, departed.ProjectID); err != nil {
			t.log.Warn().Err(err).Str("project_id", departed.ProjectID.String()).
				Msg("Deferred removal scheduling failed")
		}
	}
}

// RoomOccupant is one occupant of a role in a room-state broadcast.
type RoomOccupant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomRole is one role of a room-state broadcast.
type RoomRole struct {
	Name      string         `json:"name"`
	Occupants []RoomOccupant `json:"occupants"`
}

// RoomState is the room view pushed to every occupant after a change.
type RoomState struct {
	Type          string                 `json:"type"`
	ID            uuid.UUID              `json:"id"`
	Owner         string                 `json:"owner"`
	Name          string                 `json:"name"`
	Collaborators []string               `json:"collaborators"`
	Roles         map[uuid.UUID]RoomRole `json:"roles"`
	Version       int64                  `json:"version"`
}

// SendRoomState pushes the current room view to every occupant of the
// project and evicts resolver entries the change may have invalidated.
func (t *Topology) SendRoomState(m *project.Metadata) {
	t.mu.Lock()
	state := t.roomStateLocked(m)
	handles := t.roomHandlesLocked(m.ID)
	t.mu.Unlock()

	t.resolver.InvalidateProject(m.ID)

	payload := mustMarshal(state)
	for _, h := range handles {
		h.Send(payload)
	}
}

// RoomChanged implements project.Notifier.
func (t *Topology) RoomChanged(m *project.Metadata) { t.SendRoomState(m) }

// RoomStateFor returns the live room view for the project. Reports false
// when the project has no connected occupants.
func (t *Topology) RoomStateFor(m *project.Metadata) (RoomState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[m.ID]
	if !ok || len(room) == 0 {
		return RoomState{}, false
	}
	return t.roomStateLocked(m), true
}

// ProjectDeleted implements project.Notifier. Occupants are told and the
// room is dropped.
func (t *Topology) ProjectDeleted(m *project.Metadata) {
	defer t.exitOnPanic()

	t.mu.Lock()
	handles := t.roomHandlesLocked(m.ID)
	if room, ok := t.rooms[m.ID]; ok {
		for _, occupants := range room {
			for _, id := range occupants {
				if entry, ok := t.clients[id]; ok {
					entry.state = nil
				}
			}
		}
		delete(t.rooms, m.ID)
	}
	t.mu.Unlock()

	t.resolver.InvalidateProject(m.ID)

	payload := mustMarshal(map[string]any{"type": "project-deleted", "project": m})
	for _, h := range handles {
		h.Send(payload)
	}
}

// roomStateLocked builds the broadcast view: the metadata's roles annotated
// with live occupants. Caller holds the lock.
func (t *Topology) roomStateLocked(m *project.Metadata) RoomState {
	roles := make(map[uuid.UUID]RoomRole, len(m.Roles))
	room := t.rooms[m.ID]
	for roleID, role := range m.Roles {
		occupants := []RoomOccupant{}
		for _, id := range room[roleID] {
			name := id
			if entry, ok := t.clients[id]; ok && entry.username != "" {
				name = entry.username
			}
			occupants = append(occupants, RoomOccupant{ID: id, Name: name})
		}
		roles[roleID] = RoomRole{Name: role.Name, Occupants: occupants}
	}

	collaborators := m.Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	return RoomState{
		Type:          "room-roles",
		ID:            m.ID,
		Owner:         m.Owner,
		Name:          m.Name,
		Collaborators: collaborators,
		Roles:         roles,
		Version:       time.Now().Unix(),
	}
}

func (t *Topology) roomHandlesLocked(projectID uuid.UUID) []ClientHandle {
	var handles []ClientHandle
	for _, occupants := range t.rooms[projectID] {
		for _, id := range occupants {
			if entry, ok := t.clients[id]; ok {
				handles = append(handles, entry.handle)
			}
		}
	}
	return handles
}

// SendToClient delivers a payload to one client, if connected. Reports
// whether the client was found.
func (t *Topology) SendToClient(id string, payload []byte) bool {
	t.mu.Lock()
	entry, ok := t.clients[id]
	t.mu.Unlock()
	if ok {
		entry.handle.Send(payload)
	}
	return ok
}

// SendToUser delivers a payload to every connected client of the user.
func (t *Topology) SendToUser(username string, payload []byte) {
	t.mu.Lock()
	var handles []ClientHandle
	for _, entry := range t.clients {
		if entry.username == username {
			handles = append(handles, entry.handle)
		}
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.Send(payload)
	}
}

// SendOccupantInvite pushes a room invitation to every connected client of
// the invited user.
func (t *Topology) SendOccupantInvite(inv *invite.OccupantInvite, m *project.Metadata) {
	role := m.Roles[inv.RoleID]
	t.SendToUser(inv.Username, mustMarshal(map[string]any{
		"type":      "room-invitation",
		"id":        inv.ID,
		"inviter":   inv.Inviter,
		"project":   m.Name,
		"projectId": m.ID,
		"role":      role.Name,
		"roleId":    inv.RoleID,
	}))
}

// SendCollabInviteChange pushes a collaboration-invitation change to the
// receiver.
func (t *Topology) SendCollabInviteChange(inv *invite.CollaborationInvite, change string) {
	t.SendToUser(inv.Receiver, mustMarshal(map[string]any{
		"type":    "collaboration-invitation",
		"change":  change,
		"content": inv,
	}))
}

// FriendRequestChanged implements friend.Notifier.
func (t *Topology) FriendRequestChanged(recipient string, change string, link *friend.Link) {
	t.SendToUser(recipient, mustMarshal(map[string]any{
		"type":    "friend-request",
		"change":  change,
		"content": link,
	}))
}

// OnlineUsernames returns a snapshot of the usernames with at least one
// connected client.
func (t *Topology) OnlineUsernames() []string {
	t.mu.Lock()
	seen := make(map[string]struct{})
	for _, entry := range t.clients {
		if entry.username != "" {
			seen[entry.username] = struct{}{}
		}
	}
	t.mu.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientInfo returns the admin view of one connected client.
func (t *Topology) ClientInfo(id string) (*ClientInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.clients[id]
	if !ok {
		return nil, false
	}
	return &ClientInfo{ID: id, Username: entry.username, State: entry.state}, true
}

// ClientUsername returns the username the client authenticated with, if any.
func (t *Topology) ClientUsername(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.clients[id]
	if !ok {
		return "", false
	}
	return entry.username, true
}

// Occupants returns the client ids occupying a role, in join order.
func (t *Topology) Occupants(projectID, roleID uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	occupants := t.rooms[projectID][roleID]
	return append([]string(nil), occupants...)
}

// ExternalClient resolves an external address to its client id.
func (t *Topology) ExternalClient(appID, address string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.external[appID][address]
	return id, ok
}

// ExternalClients returns the admin view of the external namespace.
func (t *Topology) ExternalClients() []ClientInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := []ClientInfo{}
	for appID, addrs := range t.external {
		for address, id := range addrs {
			info := ClientInfo{ID: id, State: &ClientState{
				External: &ExternalState{Address: address, AppID: appID},
			}}
			if entry, ok := t.clients[id]; ok {
				info.Username = entry.username
			}
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ActiveRoomIDs returns the project ids with at least one occupant.
func (t *Topology) ActiveRoomIDs() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns the admin view of every active room.
func (t *Topology) Rooms(ctx context.Context) []RoomState {
	ids := t.ActiveRoomIDs()

	states := []RoomState{}
	for _, id := range ids {
		m, err := t.projects.Metadata(ctx, id)
		if err != nil {
			continue
		}
		t.mu.Lock()
		states = append(states, t.roomStateLocked(m))
		t.mu.Unlock()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// ClientStates returns the current states of the given clients, for trace
// capture. Clients without a declared state are skipped.
func (t *Topology) ClientStates(ids []string) []ClientState {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := []ClientState{}
	for _, id := range ids {
		if entry, ok := t.clients[id]; ok && entry.state != nil {
			states = append(states, *entry.state)
		}
	}
	return states
}

func mustMarshal(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}
