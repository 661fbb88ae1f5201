package network

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/project"
)

// RequestRole asks the first occupant of the role for its live, unsaved
// contents. The occupant answers through RespondRoleRequest; if nothing
// arrives before the timeout the caller should fall back to the persisted
// blob. Returns KindProjectNotActive when the role is unoccupied.
func (t *Topology) RequestRole(ctx context.Context, projectID, roleID uuid.UUID, timeout time.Duration) (*project.RoleData, error) {
	requestID := uuid.New()
	ch := make(chan project.RoleData, 1)

	t.mu.Lock()
	occupants := t.rooms[projectID][roleID]
	if len(occupants) == 0 {
		t.mu.Unlock()
		return nil, errs.New(errs.KindProjectNotActive)
	}
	entry := t.clients[occupants[0]]
	t.pending[requestID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, requestID)
		t.mu.Unlock()
	}()

	entry.handle.Send(mustMarshal(map[string]any{
		"type": "role-data-request",
		"id":   requestID,
	}))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-ch:
		return &data, nil
	case <-timer.C:
		return nil, errs.New(errs.KindTimeout)
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, ctx.Err())
	}
}

// RespondRoleRequest resolves a parked role request with the client's live
// role contents. Unknown or already-resolved request ids are rejected.
func (t *Topology) RespondRoleRequest(requestID uuid.UUID, data project.RoleData) error {
	t.mu.Lock()
	ch, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()

	if !ok {
		return errs.New(errs.KindProjectNotActive)
	}
	ch <- data
	return nil
}
