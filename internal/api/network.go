package api

import (
	"encoding/json"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/invite"
	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/project"
	"github.com/netsblox/cloud-go/internal/trace"
)

// NetworkHandler serves the real-time state and messaging endpoints.
type NetworkHandler struct {
	topology *network.Topology
	router   *network.Router
	projects *project.Service
	traces   *trace.PGRepository
	invites  *invite.PGRepository
	authz    *authz.Authorizer
	log      zerolog.Logger
}

// NewNetworkHandler creates the network handler.
func NewNetworkHandler(topology *network.Topology, router *network.Router, projects *project.Service, traces *trace.PGRepository, invites *invite.PGRepository, authorizer *authz.Authorizer, logger zerolog.Logger) *NetworkHandler {
	return &NetworkHandler{
		topology: topology,
		router:   router,
		projects: projects,
		traces:   traces,
		invites:  invites,
		authz:    authorizer,
		log:      logger.With().Str("handler", "network").Logger(),
	}
}

// Connect handles GET /network/{clientId}/connect. It upgrades the HTTP
// connection to a WebSocket and runs the session until the peer goes away.
func (h *NetworkHandler) Connect(c fiber.Ctx) error {
	id := c.Params("clientId")
	if !network.IsValidClientID(id) {
		return httputil.FailErr(c, errs.New(errs.KindInvalidClientID))
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	topology, router, log := h.topology, h.router, h.log
	return websocket.New(func(conn *websocket.Conn) {
		network.NewSession(topology, router, conn.Conn, id, log).Run()
	})(c)
}

// SetState handles POST /network/{clientId}/state.
func (h *NetworkHandler) SetState(c fiber.Ctx) error {
	id := c.Params("clientId")
	if !network.IsValidClientID(id) {
		return httputil.FailErr(c, errs.New(errs.KindInvalidClientID))
	}

	var state network.ClientState
	if err := c.Bind().Body(&state); err != nil {
		return failBody(c)
	}
	if state.External != nil {
		appID, err := network.ParseAppID(state.External.AppID)
		if err != nil {
			return httputil.FailErr(c, err)
		}
		state.External.AppID = appID
	}

	username := ""
	if r := requester(c); r != nil {
		username = r.Username
	}
	if err := h.topology.SetState(id, state, username); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, state)
}

// ListRooms handles GET /network/. Admin only.
func (h *NetworkHandler) ListRooms(c fiber.Ctx) error {
	if _, err := h.authz.TryListRooms(requester(c)); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, h.topology.Rooms(c))
}

// ListExternal handles GET /network/external. Admin only.
func (h *NetworkHandler) ListExternal(c fiber.Ctx) error {
	if _, err := h.authz.TryListClients(requester(c)); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, h.topology.ExternalClients())
}

// RoomState handles GET /network/id/{projectId}: the live room view.
func (h *NetworkHandler) RoomState(c fiber.Ctx) error {
	w, err := h.viewWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	state, ok := h.topology.RoomStateFor(w.Metadata())
	if !ok {
		return httputil.FailErr(c, errs.New(errs.KindProjectNotActive))
	}
	return httputil.Success(c, state)
}

// ClientInfo handles GET /network/clients/{clientId}.
func (h *NetworkHandler) ClientInfo(c fiber.Ctx) error {
	w, err := h.authz.TryViewClient(requester(c), c.Params("clientId"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, w.Info())
}

// Evict handles POST /network/clients/{clientId}/evict.
func (h *NetworkHandler) Evict(c fiber.Ctx) error {
	w, err := h.authz.TryEvictClient(c, requester(c), c.Params("clientId"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	h.topology.Evict(w.ClientID())
	return httputil.Success(c, w.ClientID())
}

type occupantInviteRequest struct {
	Username string    `json:"username"`
	RoleID   uuid.UUID `json:"roleId"`
}

// InviteOccupant handles POST /network/id/{projectId}/occupants/invite.
func (h *NetworkHandler) InviteOccupant(c fiber.Ctx) error {
	var body occupantInviteRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	projectID, err := parseUUID(c, "projectId", errs.KindProjectNotFound)
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
	if _, ok := m.Roles[body.RoleID]; !ok {
		return httputil.FailErr(c, errs.New(errs.KindRoleNotFound))
	}

	inv, err := h.invites.CreateOccupant(c, iw.Sender(), iw.Target(), m.ID, body.RoleID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	h.topology.SendOccupantInvite(inv, m)
	return httputil.Success(c, inv)
}

// ListOccupantInvites handles GET /network/invites/{username}.
func (h *NetworkHandler) ListOccupantInvites(c fiber.Ctx) error {
	w, err := h.authz.TryEditUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	invites, err := h.invites.ListOccupantsByUser(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, invites)
}

// StartTrace handles POST /network/id/{projectId}/trace/.
func (h *NetworkHandler) StartTrace(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	t, err := h.traces.Start(c, w.Metadata().ID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, t)
}

// ListTraces handles GET /network/id/{projectId}/trace/.
func (h *NetworkHandler) ListTraces(c fiber.Ctx) error {
	w, err := h.editWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	traces, err := h.traces.ListByProject(c, w.Metadata().ID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, traces)
}

// Trace handles GET /network/id/{projectId}/trace/{traceId}.
func (h *NetworkHandler) Trace(c fiber.Ctx) error {
	w, traceID, err := h.traceWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	t, err := h.traces.ByID(c, w.Metadata().ID, traceID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, t)
}

// StopTrace handles POST /network/id/{projectId}/trace/{traceId}/stop.
func (h *NetworkHandler) StopTrace(c fiber.Ctx) error {
	w, traceID, err := h.traceWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	t, err := h.traces.Stop(c, w.Metadata().ID, traceID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, t)
}

// TraceMessages handles GET /network/id/{projectId}/trace/{traceId}/messages.
func (h *NetworkHandler) TraceMessages(c fiber.Ctx) error {
	w, traceID, err := h.traceWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	t, err := h.traces.ByID(c, w.Metadata().ID, traceID)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	messages, err := h.traces.Messages(c, t)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, messages)
}

// DeleteTrace handles DELETE /network/id/{projectId}/trace/{traceId}.
func (h *NetworkHandler) DeleteTrace(c fiber.Ctx) error {
	w, traceID, err := h.traceWitness(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	if err := h.traces.Delete(c, w.Metadata().ID, traceID); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, traceID)
}

type serviceMessageRequest struct {
	Type    string          `json:"type"`
	Address string          `json:"address"`
	Client  string          `json:"client"`
	Content json.RawMessage `json:"content"`
}

// SendMessage handles POST /network/messages/: message injection for
// authorized service hosts.
func (h *NetworkHandler) SendMessage(c fiber.Ctx) error {
	host, _ := auth.HostFrom(c)
	w, err := h.authz.TrySendMessage(host)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	var body serviceMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}
	if len(body.Content) == 0 {
		return failBody(c)
	}

	frame, err := serviceFrame(body.Type, w.Host(), body.Content)
	if err != nil {
		return failBody(c)
	}

	switch {
	case body.Address != "":
		h.router.Send(c, "", []string{body.Address}, frame)
	case body.Client != "":
		if !h.topology.SendToClient(body.Client, frame) {
			return httputil.FailErr(c, errs.New(errs.KindInvalidClientID))
		}
	default:
		return failBody(c)
	}
	return httputil.Success(c, "sent")
}

type roleDataResponse struct {
	ID   uuid.UUID        `json:"id"`
	Data project.RoleData `json:"data"`
}

// RespondRoleRequest handles POST /projects/id/{id}/{roleId}/latest: a
// client answering an out-of-band role-data request.
func (h *NetworkHandler) RespondRoleRequest(c fiber.Ctx) error {
	var body roleDataResponse
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	if err := h.topology.RespondRoleRequest(body.ID, body.Data); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, body.ID)
}

func (h *NetworkHandler) viewWitness(c fiber.Ctx) (*authz.ViewProject, error) {
	projectID, err := parseUUID(c, "projectId", errs.KindProjectNotFound)
	if err != nil {
		return nil, err
	}
	return h.authz.TryViewProject(c, requester(c), clientID(c), projectID)
}

func (h *NetworkHandler) editWitness(c fiber.Ctx) (*authz.EditProject, error) {
	projectID, err := parseUUID(c, "projectId", errs.KindProjectNotFound)
	if err != nil {
		return nil, err
	}
	return h.authz.TryEditProject(c, requester(c), clientID(c), projectID)
}

func (h *NetworkHandler) traceWitness(c fiber.Ctx) (*authz.EditProject, uuid.UUID, error) {
	w, err := h.editWitness(c)
	if err != nil {
		return nil, uuid.Nil, err
	}
	traceID, err := parseUUID(c, "traceId", errs.KindNetworkTraceNotFound)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return w, traceID, nil
}

// serviceFrame wraps injected content in a message envelope stamped with the
// sending host.
func serviceFrame(msgType, host string, content json.RawMessage) (json.RawMessage, error) {
	frame := map[string]any{}
	if err := json.Unmarshal(content, &frame); err != nil {
		return nil, err
	}
	frame["type"] = "message"
	if msgType != "" {
		frame["msgType"] = msgType
	}
	frame["sender"] = host
	out, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return out, nil
}
