package group

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

// PGRepository implements group storage using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed group repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new group owned by owner. Group names are unique per owner.
func (r *PGRepository) Create(ctx context.Context, owner, name string) (*Group, error) {
	g := Group{ID: uuid.New(), Name: name, Owner: owner}
	err := r.db.QueryRow(ctx,
		`INSERT INTO groups (id, name, owner)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		g.ID, g.Name, g.Owner,
	).Scan(&g.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, errs.New(errs.KindGroupExists)
		}
		return nil, errs.Database(err)
	}
	return &g, nil
}

// ByID returns the group with the given id.
func (r *PGRepository) ByID(ctx context.Context, id uuid.UUID) (*Group, error) {
	var g Group
	err := r.db.QueryRow(ctx,
		`SELECT id, name, owner, created_at FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Owner, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindGroupNotFound)
		}
		return nil, errs.Database(err)
	}
	return &g, nil
}

// OwnerOf returns the username owning the group.
func (r *PGRepository) OwnerOf(ctx context.Context, id uuid.UUID) (string, error) {
	var owner string
	err := r.db.QueryRow(ctx,
		`SELECT owner FROM groups WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.New(errs.KindGroupNotFound)
		}
		return "", errs.Database(err)
	}
	return owner, nil
}

// ListByOwner returns the groups owned by the given account.
func (r *PGRepository) ListByOwner(ctx context.Context, owner string) ([]Group, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, owner, created_at FROM groups WHERE owner = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Owner, &g.CreatedAt); err != nil {
			return nil, errs.Database(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return groups, nil
}

// Rename changes the group name.
func (r *PGRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE groups SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return errs.New(errs.KindGroupExists)
		}
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindGroupNotFound)
	}
	return nil
}

// Delete removes the group. Members are detached, not deleted.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET group_id = NULL WHERE group_id = $1`, id); err != nil {
			return errs.Database(err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
		if err != nil {
			return errs.Database(err)
		}
		if tag.RowsAffected() == 0 {
			return errs.New(errs.KindGroupNotFound)
		}
		return nil
	})
}

// MemberUsernames returns the usernames of the group's members.
func (r *PGRepository) MemberUsernames(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT username FROM users WHERE group_id = $1 ORDER BY username`, id)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errs.Database(err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return members, nil
}

// OwnedMemberUsernames returns the usernames of every member of every group
// owned by owner, for the friends derivation.
func (r *PGRepository) OwnedMemberUsernames(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username
		 FROM users u
		 JOIN groups g ON u.group_id = g.id
		 WHERE g.owner = $1
		 ORDER BY u.username`, owner)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errs.Database(err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return members, nil
}
