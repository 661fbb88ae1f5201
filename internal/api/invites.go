package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/invite"
	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/project"
)

// CollaborationHandler serves the collaboration invitation endpoints.
type CollaborationHandler struct {
	invites  *invite.PGRepository
	projects *project.Service
	topology *network.Topology
	authz    *authz.Authorizer
	log      zerolog.Logger
}

// NewCollaborationHandler creates the collaboration handler.
func NewCollaborationHandler(invites *invite.PGRepository, projects *project.Service, topology *network.Topology, authorizer *authz.Authorizer, logger zerolog.Logger) *CollaborationHandler {
	return &CollaborationHandler{
		invites:  invites,
		projects: projects,
		topology: topology,
		authz:    authorizer,
		log:      logger.With().Str("handler", "collaboration").Logger(),
	}
}

type collaborationInviteRequest struct {
	Username string `json:"username"`
}

// Invite handles POST /projects/id/{id}/collaborators/invite.
func (h *CollaborationHandler) Invite(c fiber.Ctx) error {
	var body collaborationInviteRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	projectID, err := parseUUID(c, "id", errs.KindProjectNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	ew, err := h.authz.TryEditProject(c, requester(c), clientID(c), projectID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	iw, err := h.authz.TryInviteLink(c, requester(c), body.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	m := ew.Metadata()
	if m.HasCollaborator(iw.Target()) {
		return httputil.FailErr(c, errs.New(errs.KindInviteNotAllowed))
	}

	inv, err := h.invites.CreateCollaboration(c, iw.Sender(), iw.Target(), m.ID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	h.topology.SendCollabInviteChange(inv, "created")
	return httputil.Success(c, inv)
}

// ListByReceiver handles GET /collaboration-invites/user/{receiver}.
func (h *CollaborationHandler) ListByReceiver(c fiber.Ctx) error {
	w, err := h.authz.TryEditUser(c, requester(c), c.Params("receiver"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	invites, err := h.invites.ListCollaborationsByReceiver(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, invites)
}

type collaborationResponseRequest struct {
	Response invite.CollaborationState `json:"response"`
}

// Respond handles POST /collaboration-invites/id/{id}. Accepting adds the
// receiver to the project's collaborators.
func (h *CollaborationHandler) Respond(c fiber.Ctx) error {
	var body collaborationResponseRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}
	if body.Response != invite.CollaborationAccepted && body.Response != invite.CollaborationRejected {
		return failBody(c)
	}

	id, err := parseUUID(c, "id", errs.KindInviteNotFound)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	inv, err := h.invites.CollaborationByID(c, id)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if _, err := h.authz.TryEditUser(c, requester(c), inv.Receiver); err != nil {
		return httputil.FailErr(c, err)
	}

	inv, err = h.invites.RespondCollaboration(c, id, body.Response)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if inv.State == invite.CollaborationAccepted {
		m, err := h.projects.Metadata(c, inv.ProjectID)
		if err != nil {
			return httputil.FailErr(c, err)
		}
		if _, err := h.projects.AddCollaborator(c, m, inv.Receiver); err != nil {
			return httputil.FailErr(c, err)
		}
	}
	h.topology.SendCollabInviteChange(inv, string(inv.State))
	return httputil.Success(c, inv)
}
