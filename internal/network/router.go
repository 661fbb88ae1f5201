package network

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageRecorder captures routed messages for projects with an open trace.
// Implemented by trace.Recorder; must not block.
type MessageRecorder interface {
	Record(projectID uuid.UUID, source, recipients, content json.RawMessage)
}

// Router dispatches inbound client frames: user messages by address,
// ide-messages by explicit recipient, pings inline. Unrecognized frames are
// logged and dropped.
type Router struct {
	topology *Topology
	resolver *Resolver
	recorder MessageRecorder
	log      zerolog.Logger
}

// NewRouter creates the message router.
func NewRouter(topology *Topology, resolver *Resolver, recorder MessageRecorder, logger zerolog.Logger) *Router {
	return &Router{
		topology: topology,
		resolver: resolver,
		recorder: recorder,
		log:      logger.With().Str("component", "router").Logger(),
	}
}

// inboundFrame is the minimal envelope the router inspects. The payload is
// forwarded verbatim; only addressing fields are decoded.
type inboundFrame struct {
	Type       string          `json:"type"`
	DstID      json.RawMessage `json:"dstId"`
	Recipients []string        `json:"recipients"`
}

// Dispatch routes one inbound text frame from a connected client.
func (r *Router) Dispatch(ctx context.Context, senderID string, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.log.Debug().Err(err).Str("client_id", senderID).Msg("Undecodable frame dropped")
		return
	}

	switch frame.Type {
	case "message":
		r.Send(ctx, senderID, decodeDstID(frame.DstID), raw)
	case "ide-message":
		r.SendIDEMessage(senderID, frame.Recipients, raw)
	case "ping":
		r.topology.SendToClient(senderID, mustMarshal(map[string]string{"type": "pong"}))
	default:
		r.log.Debug().Str("type", frame.Type).Str("client_id", senderID).
			Msg("Unrecognized frame type dropped")
	}
}

// Send resolves each address and delivers content unchanged to every unique
// connected target, then records the message for any involved project with
// an open trace. Recording never delays delivery.
func (r *Router) Send(ctx context.Context, senderID string, addresses []string, content json.RawMessage) {
	targets := []string{}
	seen := map[string]struct{}{}
	projectIDs := map[uuid.UUID]struct{}{}

	for _, raw := range addresses {
		addr := ParseAddress(raw)
		if addr.IsExternal() {
			if id, ok := r.topology.ExternalClient(addr.AppID, addr.Local()); ok {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					targets = append(targets, id)
				}
			}
			continue
		}

		resolved, err := r.resolver.Resolve(ctx, addr)
		if err != nil {
			r.log.Warn().Err(err).Str("address", raw).Msg("Address resolution failed")
			continue
		}
		for _, browser := range resolved {
			projectIDs[browser.ProjectID] = struct{}{}
			for _, id := range r.topology.Occupants(browser.ProjectID, browser.RoleID) {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					targets = append(targets, id)
				}
			}
		}
	}

	for _, id := range targets {
		r.topology.SendToClient(id, content)
	}

	r.record(senderID, targets, projectIDs, content)
}

// record persists the message once per involved project. The recorder checks
// trace state itself and runs asynchronously.
func (r *Router) record(senderID string, targets []string, projectIDs map[uuid.UUID]struct{}, content json.RawMessage) {
	if r.recorder == nil {
		return
	}

	senderStates := r.topology.ClientStates([]string{senderID})
	var source json.RawMessage
	if len(senderStates) > 0 {
		source = mustMarshal(senderStates[0])
		if b := senderStates[0].Browser; b != nil {
			projectIDs[b.ProjectID] = struct{}{}
		}
	} else {
		source = mustMarshal(map[string]string{"id": senderID})
	}

	if len(projectIDs) == 0 {
		return
	}
	recipients := mustMarshal(r.topology.ClientStates(targets))

	for projectID := range projectIDs {
		r.recorder.Record(projectID, source, recipients, content)
	}
}

// SendIDEMessage stamps the sender id into the frame and delivers it to each
// listed client.
func (r *Router) SendIDEMessage(senderID string, recipients []string, raw []byte) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.log.Debug().Err(err).Str("client_id", senderID).Msg("Undecodable ide-message dropped")
		return
	}
	frame["sender"] = senderID
	payload := mustMarshal(frame)

	for _, id := range recipients {
		r.topology.SendToClient(id, payload)
	}
}

// decodeDstID accepts the dstId field as either a string or an array of
// strings.
func decodeDstID(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	return nil
}
