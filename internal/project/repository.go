package project

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so metadata loading
// can run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository implements project metadata storage using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed project repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create persists the metadata and its roles in one transaction. The caller
// is responsible for having uploaded the role blobs first.
func (r *PGRepository) Create(ctx context.Context, m *Metadata) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO projects (id, owner, name, save_state, publish_state, delete_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING origin_time, updated_at`,
			m.ID, m.Owner, m.Name, m.SaveState, m.PublishState, m.DeleteAt,
		).Scan(&m.OriginTime, &m.Updated)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return errs.New(errs.KindProjectExists)
			}
			return errs.Database(err)
		}

		for id, role := range m.Roles {
			_, err := tx.Exec(ctx,
				`INSERT INTO roles (project_id, id, name, code_key, media_key)
				 VALUES ($1, $2, $3, $4, $5)`,
				m.ID, id, role.Name, role.CodeKey, role.MediaKey,
			)
			if err != nil {
				return errs.Database(err)
			}
		}
		return nil
	})
}

func loadMetadata(ctx context.Context, q querier, id uuid.UUID) (*Metadata, error) {
	var m Metadata
	err := q.QueryRow(ctx,
		`SELECT id, owner, name, save_state, publish_state, origin_time, updated_at, delete_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&m.ID, &m.Owner, &m.Name, &m.SaveState, &m.PublishState, &m.OriginTime, &m.Updated, &m.DeleteAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindProjectNotFound)
		}
		return nil, errs.Database(err)
	}

	m.Roles = map[uuid.UUID]RoleMetadata{}
	rows, err := q.Query(ctx,
		`SELECT id, name, code_key, media_key, updated_at FROM roles WHERE project_id = $1`, id)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID uuid.UUID
		var role RoleMetadata
		if err := rows.Scan(&roleID, &role.Name, &role.CodeKey, &role.MediaKey, &role.Updated); err != nil {
			return nil, errs.Database(err)
		}
		m.Roles[roleID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}

	m.Collaborators = []string{}
	collabRows, err := q.Query(ctx,
		`SELECT username FROM project_collaborators WHERE project_id = $1 ORDER BY username`, id)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer collabRows.Close()
	for collabRows.Next() {
		var username string
		if err := collabRows.Scan(&username); err != nil {
			return nil, errs.Database(err)
		}
		m.Collaborators = append(m.Collaborators, username)
	}
	if err := collabRows.Err(); err != nil {
		return nil, errs.Database(err)
	}

	return &m, nil
}

// ByID returns the metadata for the given project id.
func (r *PGRepository) ByID(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	return loadMetadata(ctx, r.db, id)
}

// ByOwnerAndName returns the metadata for the owner's project with the given name.
func (r *PGRepository) ByOwnerAndName(ctx context.Context, owner, name string) (*Metadata, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM projects WHERE owner = $1 AND name = $2`, owner, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindProjectNotFound)
		}
		return nil, errs.Database(err)
	}
	return loadMetadata(ctx, r.db, id)
}

func (r *PGRepository) listByIDs(ctx context.Context, ids []uuid.UUID) ([]Metadata, error) {
	projects := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		m, err := loadMetadata(ctx, r.db, id)
		if err != nil {
			if errs.KindOf(err) == errs.KindProjectNotFound {
				continue
			}
			return nil, err
		}
		projects = append(projects, *m)
	}
	return projects, nil
}

func (r *PGRepository) idsFromQuery(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Database(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return ids, nil
}

// ListByOwner returns every project owned by owner.
func (r *PGRepository) ListByOwner(ctx context.Context, owner string) ([]Metadata, error) {
	ids, err := r.idsFromQuery(ctx,
		`SELECT id FROM projects WHERE owner = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, err
	}
	return r.listByIDs(ctx, ids)
}

// ListSharedWith returns every project username collaborates on.
func (r *PGRepository) ListSharedWith(ctx context.Context, username string) ([]Metadata, error) {
	ids, err := r.idsFromQuery(ctx,
		`SELECT p.id FROM projects p
		 JOIN project_collaborators c ON c.project_id = p.id
		 WHERE c.username = $1
		 ORDER BY p.name`, username)
	if err != nil {
		return nil, err
	}
	return r.listByIDs(ctx, ids)
}

// ListPendingApproval returns every project held for moderator review.
func (r *PGRepository) ListPendingApproval(ctx context.Context) ([]Metadata, error) {
	ids, err := r.idsFromQuery(ctx,
		`SELECT id FROM projects WHERE publish_state = $1 ORDER BY updated_at`,
		PublishStatePendingApproval)
	if err != nil {
		return nil, err
	}
	return r.listByIDs(ctx, ids)
}

// NamesByOwner returns the project names of the owner, for unique naming.
func (r *PGRepository) NamesByOwner(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT name FROM projects WHERE owner = $1`, owner)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Database(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return names, nil
}

// Rename changes the project name.
func (r *PGRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return errs.New(errs.KindProjectExists)
		}
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindProjectNotFound)
	}
	return nil
}

// SetSaveState transitions the lifecycle state. Entering Transient or Saved
// clears any scheduled deletion.
func (r *PGRepository) SetSaveState(ctx context.Context, id uuid.UUID, state SaveState) error {
	clearDelete := state == SaveStateTransient || state == SaveStateSaved
	tag, err := r.db.Exec(ctx,
		`UPDATE projects
		 SET save_state = $2,
		     delete_at = CASE WHEN $3 THEN NULL ELSE delete_at END
		 WHERE id = $1`,
		id, state, clearDelete)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindProjectNotFound)
	}
	return nil
}

// MarkBroken transitions a Transient project to Broken. Projects in any other
// state are left untouched.
func (r *PGRepository) MarkBroken(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE projects SET save_state = $2 WHERE id = $1 AND save_state = $3`,
		id, SaveStateBroken, SaveStateTransient)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// MarkOccupied transitions the project to Transient when a client enters an
// unsaved room and clears any scheduled deletion.
func (r *PGRepository) MarkOccupied(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE projects
		 SET save_state = CASE WHEN save_state = $2 THEN save_state ELSE $3 END,
		     delete_at = NULL
		 WHERE id = $1`,
		id, SaveStateSaved, SaveStateTransient)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// SetDeleteAt schedules (or, with nil, cancels) deferred deletion. Saved
// projects are never scheduled.
func (r *PGRepository) SetDeleteAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE projects SET delete_at = $2 WHERE id = $1 AND save_state <> $3`,
		id, at, SaveStateSaved)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// SetPublishState changes the project visibility.
func (r *PGRepository) SetPublishState(ctx context.Context, id uuid.UUID, state PublishState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET publish_state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindProjectNotFound)
	}
	return nil
}

// UpsertRole inserts or replaces a role record and touches the project's
// updated time.
func (r *PGRepository) UpsertRole(ctx context.Context, projectID, roleID uuid.UUID, role RoleMetadata) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO roles (project_id, id, name, code_key, media_key, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (project_id, id) DO UPDATE
			 SET name = EXCLUDED.name, code_key = EXCLUDED.code_key,
			     media_key = EXCLUDED.media_key, updated_at = now()`,
			projectID, roleID, role.Name, role.CodeKey, role.MediaKey,
		)
		if err != nil {
			return errs.Database(err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE projects SET updated_at = now() WHERE id = $1`, projectID)
		if err != nil {
			return errs.Database(err)
		}
		if tag.RowsAffected() == 0 {
			return errs.New(errs.KindProjectNotFound)
		}
		return nil
	})
}

// RenameRole changes a role's name.
func (r *PGRepository) RenameRole(ctx context.Context, projectID, roleID uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE roles SET name = $3 WHERE project_id = $1 AND id = $2`,
		projectID, roleID, name)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindRoleNotFound)
	}
	return nil
}

// DeleteRole removes a role. The last role of a project cannot be deleted.
func (r *PGRepository) DeleteRole(ctx context.Context, projectID, roleID uuid.UUID) (*RoleMetadata, error) {
	var removed RoleMetadata
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		// Locking clauses cannot be combined with aggregates, so lock the
		// rows in a subquery and count the result.
		var count int
		err := tx.QueryRow(ctx,
			`SELECT count(*) FROM (
				SELECT id FROM roles WHERE project_id = $1 FOR UPDATE
			 ) locked`, projectID).Scan(&count)
		if err != nil {
			return errs.Database(err)
		}
		if count <= 1 {
			return errs.New(errs.KindCannotDeleteLastRole)
		}

		err = tx.QueryRow(ctx,
			`DELETE FROM roles WHERE project_id = $1 AND id = $2
			 RETURNING name, code_key, media_key`,
			projectID, roleID,
		).Scan(&removed.Name, &removed.CodeKey, &removed.MediaKey)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.New(errs.KindRoleNotFound)
			}
			return errs.Database(err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE projects SET updated_at = now() WHERE id = $1`, projectID); err != nil {
			return errs.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// Delete removes the project row and returns the final metadata so the caller
// can delete the role blobs afterwards.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	var m *Metadata
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		m, err = loadMetadata(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
			return errs.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AddCollaborator adds username to the collaborator list, idempotently.
func (r *PGRepository) AddCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO project_collaborators (project_id, username)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, id, username)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return errs.New(errs.KindProjectNotFound)
		}
		return errs.Database(err)
	}
	return nil
}

// RemoveCollaborator removes username from the collaborator list.
func (r *PGRepository) RemoveCollaborator(ctx context.Context, id uuid.UUID, username string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM project_collaborators WHERE project_id = $1 AND username = $2`,
		id, username)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindUserNotFound)
	}
	return nil
}

// ListExpired returns projects whose scheduled deletion time has passed.
// Saved projects never carry a delete_at, so they cannot appear here.
func (r *PGRepository) ListExpired(ctx context.Context, now time.Time) ([]Metadata, error) {
	ids, err := r.idsFromQuery(ctx,
		`SELECT id FROM projects
		 WHERE delete_at IS NOT NULL AND delete_at <= $1 AND save_state <> $2`,
		now, SaveStateSaved)
	if err != nil {
		return nil, err
	}
	return r.listByIDs(ctx, ids)
}
