package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/friend"
	"github.com/netsblox/cloud-go/internal/group"
	"github.com/netsblox/cloud-go/internal/httputil"
)

// GroupHandler serves the group endpoints. Group membership feeds the
// friends derivation, so mutations invalidate the friend cache.
type GroupHandler struct {
	groups  *group.PGRepository
	friends *friend.Service
	authz   *authz.Authorizer
	log     zerolog.Logger
}

// NewGroupHandler creates the group handler.
func NewGroupHandler(groups *group.PGRepository, friends *friend.Service, authorizer *authz.Authorizer, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		groups:  groups,
		friends: friends,
		authz:   authorizer,
		log:     logger.With().Str("handler", "groups").Logger(),
	}
}

type groupRequest struct {
	Name string `json:"name"`
}

// Create handles POST /groups/user/{owner}/.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	var body groupRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	w, err := h.authz.TryEditUser(c, requester(c), c.Params("owner"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	g, err := h.groups.Create(c, w.Target().Username, body.Name)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, g)
}

// ListByOwner handles GET /groups/user/{owner}/.
func (h *GroupHandler) ListByOwner(c fiber.Ctx) error {
	w, err := h.authz.TryEditUser(c, requester(c), c.Params("owner"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	groups, err := h.groups.ListByOwner(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, groups)
}

// ByID handles GET /groups/id/{id}.
func (h *GroupHandler) ByID(c fiber.Ctx) error {
	g, err := h.ownedGroup(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, g)
}

// Rename handles PATCH /groups/id/{id}.
func (h *GroupHandler) Rename(c fiber.Ctx) error {
	var body groupRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	g, err := h.ownedGroup(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.groups.Rename(c, g.ID, body.Name); err != nil {
		return httputil.FailErr(c, err)
	}
	g.Name = body.Name
	return httputil.Success(c, g)
}

// Delete handles DELETE /groups/id/{id}. Members become groupless, which
// changes what their friends derivation yields.
func (h *GroupHandler) Delete(c fiber.Ctx) error {
	g, err := h.ownedGroup(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.groups.Delete(c, g.ID); err != nil {
		return httputil.FailErr(c, err)
	}
	h.friends.InvalidateAll()
	return httputil.Success(c, g)
}

// Members handles GET /groups/id/{id}/members.
func (h *GroupHandler) Members(c fiber.Ctx) error {
	g, err := h.ownedGroup(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	members, err := h.groups.MemberUsernames(c, g.ID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, members)
}

// ownedGroup loads the group and checks the requester may act on its owner.
func (h *GroupHandler) ownedGroup(c fiber.Ctx) (*group.Group, error) {
	id, err := parseUUID(c, "id", errs.KindGroupNotFound)
	if err != nil {
		return nil, err
	}
	g, err := h.groups.ByID(c, id)
	if err != nil {
		return nil, err
	}
	if _, err := h.authz.TryEditUser(c, requester(c), g.Owner); err != nil {
		return nil, err
	}
	return g, nil
}
