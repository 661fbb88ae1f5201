package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/project"
)

// ProjectCleanup removes the records other packages keep per project. Called
// after a project is deleted.
type ProjectCleanup interface {
	DeleteByProject(ctx context.Context, projectID uuid.UUID) error
}

// ProjectHandler serves the project endpoints.
type ProjectHandler struct {
	projects    *project.Service
	authz       *authz.Authorizer
	topology    *network.Topology
	cleanups    []ProjectCleanup
	roleTimeout time.Duration
	log         zerolog.Logger
}

// NewProjectHandler creates the project handler. cleanups run after a
// project delete to purge traces and invitations.
func NewProjectHandler(projects *project.Service, authorizer *authz.Authorizer, topology *network.Topology, roleTimeout time.Duration, logger zerolog.Logger, cleanups ...ProjectCleanup) *ProjectHandler {
	return &ProjectHandler{
		projects:    projects,
		authz:       authorizer,
		topology:    topology,
		cleanups:    cleanups,
		roleTimeout: roleTimeout,
		log:         logger.With().Str("handler", "projects").Logger(),
	}
}

type createProjectRequest struct {
	Name      string             `json:"name"`
	ClientID  string             `json:"clientId"`
	Roles     []project.RoleData `json:"roles"`
	SaveState project.SaveState  `json:"saveState"`
}

// Create handles POST /projects/. The owner is the logged-in user, or the
// client id for guest projects.
func (h *ProjectHandler) Create(c fiber.Ctx) error {
	var body createProjectRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	owner := ""
	if r := requester(c); r != nil {
		owner = r.Username
	} else if network.IsValidClientID(body.ClientID) {
		owner = body.ClientID
	} else {
		return httputil.FailErr(c, errs.New(errs.KindLoginRequired))
	}

	m, err := h.projects.Create(c, project.CreateParams{
		Owner:     owner,
		Name:      body.Name,
		Roles:     body.Roles,
		SaveState: body.SaveState,
	})
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// ListByOwner handles GET /projects/user/{owner}. Requesters without edit
// rights on the owner see only public projects.
func (h *ProjectHandler) ListByOwner(c fiber.Ctx) error {
	owner := c.Params("owner")
	list, err := h.projects.ListByOwner(c, owner)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if _, err := h.authz.TryEditUser(c, requester(c), owner); err != nil {
		list = publicOnly(list)
	}
	return httputil.Success(c, list)
}

// ListShared handles GET /projects/shared/{username}.
func (h *ProjectHandler) ListShared(c fiber.Ctx) error {
	w, err := h.authz.TryEditUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	list, err := h.projects.ListSharedWith(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, list)
}

// ByID handles GET /projects/id/{id}: the full project with role contents.
func (h *ProjectHandler) ByID(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	p, err := h.projects.Load(c, w.Metadata())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, p)
}

// MetadataByID handles GET /projects/id/{id}/metadata.
func (h *ProjectHandler) MetadataByID(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, w.Metadata())
}

// ByName handles GET /projects/user/{owner}/{name}.
func (h *ProjectHandler) ByName(c fiber.Ctx) error {
	w, err := h.viewWitnessByName(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	p, err := h.projects.Load(c, w.Metadata())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, p)
}

// MetadataByName handles GET /projects/user/{owner}/{name}/metadata.
func (h *ProjectHandler) MetadataByName(c fiber.Ctx) error {
	w, err := h.viewWitnessByName(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, w.Metadata())
}

// Latest handles GET /projects/id/{id}/latest: role contents fetched live
// from occupants where possible, persisted blobs otherwise.
func (h *ProjectHandler) Latest(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m := w.Metadata()
	p := &project.Project{
		Metadata:    *m,
		RoleContent: make(map[uuid.UUID]project.RoleData, len(m.Roles)),
	}
	for roleID := range m.Roles {
		data, err := h.latestRole(c, m, roleID)
		if err != nil {
			return httputil.FailErr(c, err)
		}
		p.RoleContent[roleID] = *data
	}
	return httputil.Success(c, p)
}

// Thumbnail handles GET /projects/id/{id}/thumbnail?aspectRatio=F.
func (h *ProjectHandler) Thumbnail(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	aspectRatio := 0.0
	if raw := c.Query("aspectRatio"); raw != "" {
		aspectRatio, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "BadRequest", "Invalid aspect ratio.")
		}
	}

	img, err := h.projects.Thumbnail(c, w.Metadata(), aspectRatio)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(img)
}

// Publish handles POST /projects/id/{id}/publish.
func (h *ProjectHandler) Publish(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	state, err := h.projects.Publish(c, w.Metadata())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, state)
}

// Unpublish handles POST /projects/id/{id}/unpublish.
func (h *ProjectHandler) Unpublish(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.projects.Unpublish(c, w.Metadata()); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, project.PublishStatePrivate)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /projects/id/{id}.
func (h *ProjectHandler) Rename(c fiber.Ctx) error {
	var body renameRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.Rename(c, w.Metadata(), body.Name)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// Delete handles DELETE /projects/id/{id}.
func (h *ProjectHandler) Delete(c fiber.Ctx) error {
	projectID, err := parseUUID(c, "id", errs.KindProjectNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.authz.TryDeleteProject(c, requester(c), clientID(c), projectID)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.Delete(c, w.Metadata().ID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	for _, cleanup := range h.cleanups {
		if err := cleanup.DeleteByProject(c, m.ID); err != nil {
			h.log.Warn().Err(err).Str("project_id", m.ID.String()).
				Msg("Post-delete cleanup failed")
		}
	}
	return httputil.Success(c, m)
}

// CreateRole handles POST /projects/id/{id}/.
func (h *ProjectHandler) CreateRole(c fiber.Ctx) error {
	var body project.RoleData
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.CreateRole(c, w.Metadata(), body)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// Role handles GET /projects/id/{id}/{roleId}.
func (h *ProjectHandler) Role(c fiber.Ctx) error {
	roleID, err := parseUUID(c, "roleId", errs.KindRoleNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	data, err := h.projects.RoleData(c, w.Metadata(), roleID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, data)
}

// RoleLatest handles GET /projects/id/{id}/{roleId}/latest: live content
// from the occupant when the role is occupied, the blob otherwise.
func (h *ProjectHandler) RoleLatest(c fiber.Ctx) error {
	roleID, err := parseUUID(c, "roleId", errs.KindRoleNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	data, err := h.latestRole(c, w.Metadata(), roleID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, data)
}

// SaveRole handles POST /projects/id/{id}/{roleId}.
func (h *ProjectHandler) SaveRole(c fiber.Ctx) error {
	var body project.RoleData
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	roleID, err := parseUUID(c, "roleId", errs.KindRoleNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.SaveRole(c, w.Metadata(), roleID, body)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// RenameRole handles PATCH /projects/id/{id}/{roleId}.
func (h *ProjectHandler) RenameRole(c fiber.Ctx) error {
	var body renameRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	roleID, err := parseUUID(c, "roleId", errs.KindRoleNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.RenameRole(c, w.Metadata(), roleID, body.Name)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// DeleteRole handles DELETE /projects/id/{id}/{roleId}.
func (h *ProjectHandler) DeleteRole(c fiber.Ctx) error {
	roleID, err := parseUUID(c, "roleId", errs.KindRoleNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.DeleteRole(c, w.Metadata(), roleID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// ListCollaborators handles GET /projects/id/{id}/collaborators.
func (h *ProjectHandler) ListCollaborators(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	collaborators := w.Metadata().Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	return httputil.Success(c, collaborators)
}

// RemoveCollaborator handles DELETE /projects/id/{id}/collaborators/{username}.
func (h *ProjectHandler) RemoveCollaborator(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.RemoveCollaborator(c, w.Metadata(), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, m)
}

// ListPending handles GET /projects/pending: every project held for
// moderator review, oldest first.
func (h *ProjectHandler) ListPending(c fiber.Ctx) error {
	if _, err := h.authz.TryModerateProjects(requester(c)); err != nil {
		return httputil.FailErr(c, err)
	}

	list, err := h.projects.ListPendingApproval(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, list)
}

// Approve handles POST /projects/id/{id}/approve: a moderator clears the
// review hold and the project goes public.
func (h *ProjectHandler) Approve(c fiber.Ctx) error {
	w, err := h.authz.TryModerateProjects(requester(c))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	projectID, err := parseUUID(c, "id", errs.KindProjectNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m, err := h.projects.Metadata(c, projectID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if err := h.projects.Approve(c, m); err != nil {
		return httputil.FailErr(c, err)
	}
	m.PublishState = project.PublishStatePublic

	h.log.Info().
		Str("project", m.ID.String()).
		Str("moderator", w.Username()).
		Msg("project approved")
	return httputil.Success(c, m)
}

// latestRole prefers the live contents held by the role's occupant and falls
// back to the persisted blobs when the role is unoccupied or slow to answer.
func (h *ProjectHandler) latestRole(c fiber.Ctx, m *project.Metadata, roleID uuid.UUID) (*project.RoleData, error) {
	if data, err := h.topology.RequestRole(c, m.ID, roleID, h.roleTimeout); err == nil {
		return data, nil
	}
	return h.projects.RoleData(c, m, roleID)
}

func (h *ProjectHandler) viewWitness(c fiber.Ctx) (*authz.ViewProject, error) {
	projectID, err := parseUUID(c, "id", errs.KindProjectNotFound)
	if err != nil {
		return nil, err
	}
	return h.authz.TryViewProject(c, requester(c), clientID(c), projectID)
}

func (h *ProjectHandler) viewWitnessByName(c fiber.Ctx) (*authz.ViewProject, error) {
	m, err := h.projects.MetadataByName(c, c.Params("owner"), c.Params("name"))
	if err != nil {
		return nil, err
	}
	return h.authz.TryViewProject(c, requester(c), clientID(c), m.ID)
}

func (h *ProjectHandler) editWitness(c fiber.Ctx) (*authz.EditProject, error) {
	projectID, err := parseUUID(c, "id", errs.KindProjectNotFound)
	if err != nil {
		return nil, err
	}
	return h.authz.TryEditProject(c, requester(c), clientID(c), projectID)
}

func publicOnly(list []project.Metadata) []project.Metadata {
	filtered := make([]project.Metadata, 0, len(list))
	for _, m := range list {
		if m.PublishState == project.PublishStatePublic {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
