package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/friend"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/network"
)

// FriendHandler serves the friend-link endpoints.
type FriendHandler struct {
	friends  *friend.Service
	topology *network.Topology
	authz    *authz.Authorizer
	log      zerolog.Logger
}

// NewFriendHandler creates the friend handler.
func NewFriendHandler(friends *friend.Service, topology *network.Topology, authorizer *authz.Authorizer, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{
		friends:  friends,
		topology: topology,
		authz:    authorizer,
		log:      logger.With().Str("handler", "friends").Logger(),
	}
}

// List handles GET /friends/{owner}/.
func (h *FriendHandler) List(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	friends, err := h.friends.Friends(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, friends)
}

// ListOnline handles GET /friends/{owner}/online.
func (h *FriendHandler) ListOnline(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	online, err := h.friends.OnlineFriends(c, w.Target().Username, h.topology.OnlineUsernames())
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, online)
}

// ListInvites handles GET /friends/{owner}/invites/.
func (h *FriendHandler) ListInvites(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	invites, err := h.friends.ListInvites(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, invites)
}

// SendInvite handles POST /friends/{owner}/invite/{recipient}.
func (h *FriendHandler) SendInvite(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	link, err := h.friends.SendInvite(c, w.Target().Username, c.Params("recipient"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, link)
}

type inviteResponseRequest struct {
	Sender   string `json:"sender"`
	Response string `json:"response"` // "approved" or "rejected"
}

// RespondToInvite handles POST /friends/{owner}/response/.
func (h *FriendHandler) RespondToInvite(c fiber.Ctx) error {
	var body inviteResponseRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}
	if body.Response != "approved" && body.Response != "rejected" {
		return failBody(c)
	}

	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	link, err := h.friends.Respond(c, w.Target().Username, body.Sender, body.Response == "approved")
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, link)
}

// Block handles POST /friends/{owner}/block/{username}.
func (h *FriendHandler) Block(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.friends.Block(c, w.Target().Username, c.Params("username")); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, c.Params("username"))
}

// Unblock handles POST /friends/{owner}/unblock/{username}.
func (h *FriendHandler) Unblock(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.friends.Unblock(c, w.Target().Username, c.Params("username")); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, c.Params("username"))
}

// Unfriend handles POST /friends/{owner}/unfriend/{username}.
func (h *FriendHandler) Unfriend(c fiber.Ctx) error {
	w, err := h.ownerWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.friends.Unfriend(c, w.Target().Username, c.Params("username")); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, c.Params("username"))
}

func (h *FriendHandler) ownerWitness(c fiber.Ctx) (*authz.EditUser, error) {
	return h.authz.TryEditUser(c, requester(c), c.Params("owner"))
}
