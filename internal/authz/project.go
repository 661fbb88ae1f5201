package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/project"
)

// ViewProject authorizes reading a project's metadata and contents.
type ViewProject struct {
	metadata *project.Metadata
}

// Metadata returns the project the witness was minted for.
func (w *ViewProject) Metadata() *project.Metadata { return w.metadata }

// EditProject authorizes mutating a project.
type EditProject struct {
	metadata *project.Metadata
}

func (w *EditProject) Metadata() *project.Metadata { return w.metadata }

// DeleteProject authorizes removing a project.
type DeleteProject struct {
	metadata *project.Metadata
}

func (w *DeleteProject) Metadata() *project.Metadata { return w.metadata }

// ModerateProjects authorizes acting on pending-approval projects.
type ModerateProjects struct {
	username string
}

func (w *ModerateProjects) Username() string { return w.username }

// canEditProject reports whether the identity may mutate the project: the
// owner (by username, or by client id for guest projects), a collaborator,
// or anyone who can edit the owner's account.
func (a *Authorizer) canEditProject(ctx context.Context, r *auth.Requester, clientID string, m *project.Metadata) (bool, error) {
	if r != nil {
		if r.Username == m.Owner || m.HasCollaborator(r.Username) {
			return true, nil
		}
	}
	return a.canEditUsername(ctx, r, clientID, m.Owner)
}

// TryViewProject mints a view witness. Private projects require edit rights;
// others are visible to anyone.
func (a *Authorizer) TryViewProject(ctx context.Context, r *auth.Requester, clientID string, projectID uuid.UUID) (*ViewProject, error) {
	m, err := a.projects.Metadata(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if m.PublishState != project.PublishStatePrivate {
		return &ViewProject{metadata: m}, nil
	}

	ok, err := a.canEditProject(ctx, r, clientID, m)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := requireLogin(r); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.KindPermissions)
	}
	return &ViewProject{metadata: m}, nil
}

// TryEditProject mints an edit witness.
func (a *Authorizer) TryEditProject(ctx context.Context, r *auth.Requester, clientID string, projectID uuid.UUID) (*EditProject, error) {
	m, err := a.projects.Metadata(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ok, err := a.canEditProject(ctx, r, clientID, m)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := requireLogin(r); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.KindPermissions)
	}
	return &EditProject{metadata: m}, nil
}

// TryDeleteProject mints a delete witness. Deletion follows the edit
// predicate.
func (a *Authorizer) TryDeleteProject(ctx context.Context, r *auth.Requester, clientID string, projectID uuid.UUID) (*DeleteProject, error) {
	ep, err := a.TryEditProject(ctx, r, clientID, projectID)
	if err != nil {
		return nil, err
	}
	return &DeleteProject{metadata: ep.metadata}, nil
}

// TryModerateProjects mints a moderation witness for moderators and admins.
func (a *Authorizer) TryModerateProjects(r *auth.Requester) (*ModerateProjects, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if !r.IsModerator() {
		return nil, errs.New(errs.KindPermissions)
	}
	return &ModerateProjects{username: r.Username}, nil
}
