package invite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

const occupantColumns = `id, username, inviter, project_id, role_id, created_at`

func scanOccupant(row pgx.Row) (*OccupantInvite, error) {
	var inv OccupantInvite
	err := row.Scan(&inv.ID, &inv.Username, &inv.Inviter, &inv.ProjectID, &inv.RoleID, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan occupant invite: %w", err)
	}
	return &inv, nil
}

const collabColumns = `id, sender, receiver, project_id, state, created_at`

func scanCollab(row pgx.Row) (*CollaborationInvite, error) {
	var inv CollaborationInvite
	err := row.Scan(&inv.ID, &inv.Sender, &inv.Receiver, &inv.ProjectID, &inv.State, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan collaboration invite: %w", err)
	}
	return &inv, nil
}

// PGRepository stores invitations in PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed invite repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// CreateOccupant records an invite for username to join the given role.
// Repeating the same invite returns the existing one.
func (r *PGRepository) CreateOccupant(ctx context.Context, inviter, username string, projectID, roleID uuid.UUID) (*OccupantInvite, error) {
	inv, err := scanOccupant(r.db.QueryRow(ctx,
		`INSERT INTO occupant_invites (id, username, inviter, project_id, role_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username, project_id, role_id) DO UPDATE SET inviter = EXCLUDED.inviter
		 RETURNING `+occupantColumns,
		uuid.New(), username, inviter, projectID, roleID))
	if err != nil {
		return nil, errs.Database(err)
	}
	return inv, nil
}

// ListOccupantsByUser returns the occupant invites addressed to username.
func (r *PGRepository) ListOccupantsByUser(ctx context.Context, username string) ([]OccupantInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+occupantColumns+` FROM occupant_invites
		 WHERE username = $1 ORDER BY created_at`, username)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	invites := []OccupantInvite{}
	for rows.Next() {
		inv, err := scanOccupant(rows)
		if err != nil {
			return nil, errs.Database(err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return invites, nil
}

// DeleteOccupant removes an occupant invite.
func (r *PGRepository) DeleteOccupant(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM occupant_invites WHERE id = $1`, id)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindInviteNotFound)
	}
	return nil
}

// DeleteOccupantsByProject removes every occupant invite to the project.
// Called when the project is deleted.
func (r *PGRepository) DeleteOccupantsByProject(ctx context.Context, projectID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM occupant_invites WHERE project_id = $1`, projectID)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// CreateCollaboration records a pending collaboration invite. A prior invite
// for the same receiver and project is replaced unless it is still pending,
// which is returned as-is.
func (r *PGRepository) CreateCollaboration(ctx context.Context, sender, receiver string, projectID uuid.UUID) (*CollaborationInvite, error) {
	var result *CollaborationInvite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := scanCollab(tx.QueryRow(ctx,
			`SELECT `+collabColumns+` FROM collaboration_invites
			 WHERE receiver = $1 AND project_id = $2 FOR UPDATE`,
			receiver, projectID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errs.Database(err)
		}
		if existing != nil {
			if existing.State == CollaborationPending {
				result = existing
				return nil
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM collaboration_invites WHERE id = $1`, existing.ID); err != nil {
				return errs.Database(err)
			}
		}

		inv, err := scanCollab(tx.QueryRow(ctx,
			`INSERT INTO collaboration_invites (id, sender, receiver, project_id)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+collabColumns,
			uuid.New(), sender, receiver, projectID))
		if err != nil {
			return errs.Database(err)
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CollaborationByID returns one collaboration invite.
func (r *PGRepository) CollaborationByID(ctx context.Context, id uuid.UUID) (*CollaborationInvite, error) {
	inv, err := scanCollab(r.db.QueryRow(ctx,
		`SELECT `+collabColumns+` FROM collaboration_invites WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindInviteNotFound)
		}
		return nil, errs.Database(err)
	}
	return inv, nil
}

// ListCollaborationsByReceiver returns the pending collaboration invites
// addressed to username.
func (r *PGRepository) ListCollaborationsByReceiver(ctx context.Context, username string) ([]CollaborationInvite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+collabColumns+` FROM collaboration_invites
		 WHERE receiver = $1 AND state = $2 ORDER BY created_at`,
		username, CollaborationPending)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	invites := []CollaborationInvite{}
	for rows.Next() {
		inv, err := scanCollab(rows)
		if err != nil {
			return nil, errs.Database(err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return invites, nil
}

// RespondCollaboration resolves a pending invite. Returns the updated invite.
func (r *PGRepository) RespondCollaboration(ctx context.Context, id uuid.UUID, state CollaborationState) (*CollaborationInvite, error) {
	inv, err := scanCollab(r.db.QueryRow(ctx,
		`UPDATE collaboration_invites SET state = $2
		 WHERE id = $1 AND state = $3
		 RETURNING `+collabColumns,
		id, state, CollaborationPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindInviteNotFound)
		}
		return nil, errs.Database(err)
	}
	return inv, nil
}

// DeleteCollaborationsByProject removes every collaboration invite to the
// project. Called when the project is deleted.
func (r *PGRepository) DeleteCollaborationsByProject(ctx context.Context, projectID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM collaboration_invites WHERE project_id = $1`, projectID)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}
