package project

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/blob"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/names"
)

// unoccupiedTTL is how long an unsaved project survives without occupants
// before the reaper removes it.
const unoccupiedTTL = 10 * time.Minute

// defaultRoleName seeds projects created without any roles.
const defaultRoleName = "myRole"

// Store is the metadata persistence required by the service. Implemented by
// PGRepository.
type Store interface {
	Create(ctx context.Context, m *Metadata) error
	ByID(ctx context.Context, id uuid.UUID) (*Metadata, error)
	ByOwnerAndName(ctx context.Context, owner, name string) (*Metadata, error)
	ListByOwner(ctx context.Context, owner string) ([]Metadata, error)
	ListSharedWith(ctx context.Context, username string) ([]Metadata, error)
	ListPendingApproval(ctx context.Context) ([]Metadata, error)
	NamesByOwner(ctx context.Context, owner string) ([]string, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	SetSaveState(ctx context.Context, id uuid.UUID, state SaveState) error
	MarkBroken(ctx context.Context, id uuid.UUID) error
	MarkOccupied(ctx context.Context, id uuid.UUID) error
	SetDeleteAt(ctx context.Context, id uuid.UUID, at *time.Time) error
	SetPublishState(ctx context.Context, id uuid.UUID, state PublishState) error
	UpsertRole(ctx context.Context, projectID, roleID uuid.UUID, role RoleMetadata) error
	RenameRole(ctx context.Context, projectID, roleID uuid.UUID, name string) error
	DeleteRole(ctx context.Context, projectID, roleID uuid.UUID) (*RoleMetadata, error)
	Delete(ctx context.Context, id uuid.UUID) (*Metadata, error)
	AddCollaborator(ctx context.Context, id uuid.UUID, username string) error
	RemoveCollaborator(ctx context.Context, id uuid.UUID, username string) error
	ListExpired(ctx context.Context, now time.Time) ([]Metadata, error)
}

// Notifier receives change notifications to push to connected clients. The
// network layer implements it; a no-op implementation serves tests.
type Notifier interface {
	// RoomChanged is called after any mutation that alters what occupants
	// should see (name, roles, collaborators).
	RoomChanged(m *Metadata)
	// ProjectDeleted is called after the project row is gone.
	ProjectDeleted(m *Metadata)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) RoomChanged(*Metadata)    {}
func (NopNotifier) ProjectDeleted(*Metadata) {}

// Service implements the project actions over the metadata store and the
// blob store. Blob writes happen before metadata writes so a metadata row
// never references a missing blob; blob deletes happen after.
type Service struct {
	store    Store
	blobs    blob.Store
	cache    *Cache
	notifier Notifier
	log      zerolog.Logger
}

// NewService creates the project service.
func NewService(store Store, blobs blob.Store, cache *Cache, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		blobs:    blobs,
		cache:    cache,
		notifier: NopNotifier{},
		log:      logger.With().Str("component", "projects").Logger(),
	}
}

// SetNotifier wires the network layer in after construction. Not safe to call
// once requests are being served.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Create makes a new project for params.Owner. Projects created with no roles
// get a single default role. The name is uniquified against the owner's
// existing projects.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Metadata, error) {
	if !names.IsValid(params.Name) {
		return nil, errs.New(errs.KindInvalidName)
	}

	existing, err := s.store.NamesByOwner(ctx, params.Owner)
	if err != nil {
		return nil, err
	}

	roles := params.Roles
	if len(roles) == 0 {
		roles = []RoleData{{Name: defaultRoleName}}
	}

	saveState := params.SaveState
	if saveState == "" {
		saveState = SaveStateCreated
	}

	m := &Metadata{
		ID:            uuid.New(),
		Owner:         params.Owner,
		Name:          names.Unique(params.Name, existing),
		Collaborators: []string{},
		SaveState:     saveState,
		PublishState:  PublishStatePrivate,
		Roles:         make(map[uuid.UUID]RoleMetadata, len(roles)),
	}
	if saveState != SaveStateSaved {
		deleteAt := time.Now().Add(unoccupiedTTL)
		m.DeleteAt = &deleteAt
	}

	var usedNames []string
	for _, data := range roles {
		roleID := uuid.New()
		name := data.Name
		if name == "" {
			name = defaultRoleName
		}
		name = names.Unique(name, usedNames)
		usedNames = append(usedNames, name)

		role, err := s.uploadRole(ctx, m.Owner, m.ID, roleID, name, data)
		if err != nil {
			return nil, err
		}
		m.Roles[roleID] = role
	}

	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	s.cache.Put(m)
	return m, nil
}

func (s *Service) uploadRole(ctx context.Context, owner string, projectID, roleID uuid.UUID, name string, data RoleData) (RoleMetadata, error) {
	role := RoleMetadata{
		Name:     name,
		CodeKey:  blob.RoleCodeKey(owner, projectID.String(), roleID.String()),
		MediaKey: blob.RoleMediaKey(owner, projectID.String(), roleID.String()),
		Updated:  time.Now(),
	}
	if err := s.blobs.Put(ctx, role.CodeKey, strings.NewReader(data.Code)); err != nil {
		return RoleMetadata{}, errs.Wrap(errs.KindBlobStore, err)
	}
	if err := s.blobs.Put(ctx, role.MediaKey, strings.NewReader(data.Media)); err != nil {
		return RoleMetadata{}, errs.Wrap(errs.KindBlobStore, err)
	}
	return role, nil
}

// Metadata returns project metadata by id, from cache when possible.
func (s *Service) Metadata(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	if m, ok := s.cache.Get(id); ok {
		return m, nil
	}
	m, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(m)
	return m, nil
}

// MetadataByName returns project metadata by owner and name.
func (s *Service) MetadataByName(ctx context.Context, owner, name string) (*Metadata, error) {
	m, err := s.store.ByOwnerAndName(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	s.cache.Put(m)
	return m, nil
}

// ListByOwner returns the owner's projects.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]Metadata, error) {
	return s.store.ListByOwner(ctx, owner)
}

// ListSharedWith returns projects the user collaborates on.
func (s *Service) ListSharedWith(ctx context.Context, username string) ([]Metadata, error) {
	return s.store.ListSharedWith(ctx, username)
}

// ListPendingApproval returns projects awaiting moderator review, oldest
// update first.
func (s *Service) ListPendingApproval(ctx context.Context) ([]Metadata, error) {
	return s.store.ListPendingApproval(ctx)
}

// Load returns the project with the full content of every role.
func (s *Service) Load(ctx context.Context, m *Metadata) (*Project, error) {
	p := &Project{
		Metadata:    *m,
		RoleContent: make(map[uuid.UUID]RoleData, len(m.Roles)),
	}
	for roleID := range m.Roles {
		data, err := s.RoleData(ctx, m, roleID)
		if err != nil {
			return nil, err
		}
		p.RoleContent[roleID] = *data
	}
	return p, nil
}

// RoleData returns the persisted content of one role.
func (s *Service) RoleData(ctx context.Context, m *Metadata, roleID uuid.UUID) (*RoleData, error) {
	role, ok := m.Roles[roleID]
	if !ok {
		return nil, errs.New(errs.KindRoleNotFound)
	}

	code, err := s.readBlob(ctx, role.CodeKey)
	if err != nil {
		return nil, err
	}
	media, err := s.readBlob(ctx, role.MediaKey)
	if err != nil {
		return nil, err
	}
	return &RoleData{Name: role.Name, Code: code, Media: media}, nil
}

func (s *Service) readBlob(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return "", errs.Wrap(errs.KindBlobStore, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", errs.Wrap(errs.KindBlobContent, err)
	}
	return string(data), nil
}

// Rename changes the project name, uniquifying against the owner's other
// projects, and rebroadcasts the room state.
func (s *Service) Rename(ctx context.Context, m *Metadata, newName string) (*Metadata, error) {
	if !names.IsValid(newName) {
		return nil, errs.New(errs.KindInvalidName)
	}

	existing, err := s.store.NamesByOwner(ctx, m.Owner)
	if err != nil {
		return nil, err
	}
	others := existing[:0]
	for _, n := range existing {
		if n != m.Name {
			others = append(others, n)
		}
	}

	unique := names.Unique(newName, others)
	if err := s.store.Rename(ctx, m.ID, unique); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// Publish makes the project visible. Content flagged by the approval
// predicate is demoted to PendingApproval instead of going Public.
func (s *Service) Publish(ctx context.Context, m *Metadata) (PublishState, error) {
	state := PublishStatePublic
	for _, role := range m.Roles {
		if names.ApprovalRequired(role.Name) {
			state = PublishStatePendingApproval
			break
		}
		code, err := s.readBlob(ctx, role.CodeKey)
		if err != nil {
			return "", err
		}
		if names.ApprovalRequired(code) {
			state = PublishStatePendingApproval
			break
		}
	}

	if err := s.store.SetPublishState(ctx, m.ID, state); err != nil {
		return "", err
	}
	if _, err := s.refresh(ctx, m.ID); err != nil {
		return "", err
	}
	return state, nil
}

// Unpublish makes the project private again.
func (s *Service) Unpublish(ctx context.Context, m *Metadata) error {
	if err := s.store.SetPublishState(ctx, m.ID, PublishStatePrivate); err != nil {
		return err
	}
	s.cache.Invalidate(m.ID)
	return nil
}

// Approve clears the moderation hold on a pending project.
func (s *Service) Approve(ctx context.Context, m *Metadata) error {
	if err := s.store.SetPublishState(ctx, m.ID, PublishStatePublic); err != nil {
		return err
	}
	s.cache.Invalidate(m.ID)
	return nil
}

// SaveRole persists new role content and marks the project Saved. Saving
// flagged content into a Public project demotes it to PendingApproval.
func (s *Service) SaveRole(ctx context.Context, m *Metadata, roleID uuid.UUID, data RoleData) (*Metadata, error) {
	if _, ok := m.Roles[roleID]; !ok {
		return nil, errs.New(errs.KindRoleNotFound)
	}
	if !names.IsValid(data.Name) {
		return nil, errs.New(errs.KindInvalidName)
	}

	role, err := s.uploadRole(ctx, m.Owner, m.ID, roleID, data.Name, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertRole(ctx, m.ID, roleID, role); err != nil {
		return nil, err
	}

	if m.PublishState == PublishStatePublic &&
		(names.ApprovalRequired(data.Name) || names.ApprovalRequired(data.Code)) {
		if err := s.store.SetPublishState(ctx, m.ID, PublishStatePendingApproval); err != nil {
			return nil, err
		}
	}

	if err := s.store.SetSaveState(ctx, m.ID, SaveStateSaved); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// CreateRole adds a new role, uniquifying its name against the existing ones.
func (s *Service) CreateRole(ctx context.Context, m *Metadata, data RoleData) (*Metadata, error) {
	name := data.Name
	if name == "" {
		name = defaultRoleName
	}
	if !names.IsValid(name) {
		return nil, errs.New(errs.KindInvalidName)
	}
	name = names.Unique(name, m.RoleNames())

	roleID := uuid.New()
	role, err := s.uploadRole(ctx, m.Owner, m.ID, roleID, name, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertRole(ctx, m.ID, roleID, role); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// RenameRole changes a role's name.
func (s *Service) RenameRole(ctx context.Context, m *Metadata, roleID uuid.UUID, name string) (*Metadata, error) {
	if !names.IsValid(name) {
		return nil, errs.New(errs.KindInvalidName)
	}
	if err := s.store.RenameRole(ctx, m.ID, roleID, name); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// DeleteRole removes a role and its blobs. The last role cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, m *Metadata, roleID uuid.UUID) (*Metadata, error) {
	removed, err := s.store.DeleteRole(ctx, m.ID, roleID)
	if err != nil {
		return nil, err
	}

	// Blobs go after the metadata no longer references them.
	for _, key := range []string{removed.CodeKey, removed.MediaKey} {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Role blob cleanup failed")
		}
	}
	return s.refresh(ctx, m.ID)
}

// Delete removes the project, its blobs, and its cache entry, and notifies
// remaining occupants.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	m, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(id)

	prefix := blob.ProjectPrefix(m.Owner, m.ID.String())
	if err := s.blobs.DeletePrefix(ctx, prefix); err != nil {
		s.log.Warn().Err(err).Str("prefix", prefix).Msg("Project blob cleanup failed")
	}

	s.notifier.ProjectDeleted(m)
	return m, nil
}

// AddCollaborator adds username as a collaborator.
func (s *Service) AddCollaborator(ctx context.Context, m *Metadata, username string) (*Metadata, error) {
	if err := s.store.AddCollaborator(ctx, m.ID, username); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// RemoveCollaborator removes username from the collaborator list.
func (s *Service) RemoveCollaborator(ctx context.Context, m *Metadata, username string) (*Metadata, error) {
	if err := s.store.RemoveCollaborator(ctx, m.ID, username); err != nil {
		return nil, err
	}
	return s.refresh(ctx, m.ID)
}

// Thumbnail extracts the thumbnail PNG from the most recently updated role.
func (s *Service) Thumbnail(ctx context.Context, m *Metadata, aspectRatio float64) ([]byte, error) {
	var latest *RoleMetadata
	for _, role := range m.Roles {
		r := role
		if latest == nil || r.Updated.After(latest.Updated) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, errs.New(errs.KindThumbnailNotFound)
	}

	code, err := s.readBlob(ctx, latest.CodeKey)
	if err != nil {
		return nil, err
	}
	return ExtractThumbnail(code, aspectRatio)
}

// MarkOccupied records that a client entered the project's room.
func (s *Service) MarkOccupied(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkOccupied(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	return nil
}

// MarkBroken transitions a Transient project to Broken after an abnormal
// disconnect. Best effort: a failure here only delays cleanup.
func (s *Service) MarkBroken(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkBroken(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	return nil
}

// ScheduleDeletion sets delete_at for an unsaved project whose room emptied.
func (s *Service) ScheduleDeletion(ctx context.Context, id uuid.UUID) error {
	at := time.Now().Add(unoccupiedTTL)
	if err := s.store.SetDeleteAt(ctx, id, &at); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	return nil
}

// ReapExpired deletes every project whose delete_at has passed. Run
// periodically.
func (s *Service) ReapExpired(ctx context.Context) error {
	expired, err := s.store.ListExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	for i := range expired {
		if _, err := s.Delete(ctx, expired[i].ID); err != nil {
			s.log.Warn().Err(err).
				Str("project_id", expired[i].ID.String()).
				Msg("Expired project cleanup failed")
		}
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	s.cache.Invalidate(id)
	m, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(m)
	s.notifier.RoomChanged(m)
	return m, nil
}
