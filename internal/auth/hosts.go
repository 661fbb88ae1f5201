package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

// HostVisibility controls whether a services host is listed publicly.
type HostVisibility string

const (
	HostPublic  HostVisibility = "public"
	HostPrivate HostVisibility = "private"
)

// Host is a services server trusted to send messages and read client state on
// behalf of the cloud.
type Host struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Secret     string         `json:"-"`
	Visibility HostVisibility `json:"visibility"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// HostRepository stores authorized hosts in PostgreSQL.
type HostRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewHostRepository creates a new PostgreSQL-backed host repository.
func NewHostRepository(db *pgxpool.Pool, logger zerolog.Logger) *HostRepository {
	return &HostRepository{db: db, log: logger}
}

// Create registers a services host.
func (r *HostRepository) Create(ctx context.Context, host Host) error {
	if host.Visibility == "" {
		host.Visibility = HostPrivate
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO authorized_hosts (id, url, secret, visibility)
		 VALUES ($1, $2, $3, $4)`,
		host.ID, host.URL, host.Secret, host.Visibility,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return errs.New(errs.KindUserExists)
		}
		return errs.Database(err)
	}
	return nil
}

// Delete removes a services host registration.
func (r *HostRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM authorized_hosts WHERE id = $1`, id)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindUserNotFound)
	}
	return nil
}

// List returns every registered host.
func (r *HostRepository) List(ctx context.Context) ([]Host, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, url, secret, visibility, created_at FROM authorized_hosts ORDER BY id`)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.URL, &h.Secret, &h.Visibility, &h.CreatedAt); err != nil {
			return nil, errs.Database(err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return hosts, nil
}

// Authenticate checks an id/secret pair against the registry and returns the
// matching host. The comparison is constant time.
func (r *HostRepository) Authenticate(ctx context.Context, id, secret string) (*Host, error) {
	var h Host
	err := r.db.QueryRow(ctx,
		`SELECT id, url, secret, visibility, created_at FROM authorized_hosts WHERE id = $1`, id,
	).Scan(&h.ID, &h.URL, &h.Secret, &h.Visibility, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindPermissions)
		}
		return nil, errs.Database(err)
	}
	if subtle.ConstantTimeCompare([]byte(h.Secret), []byte(secret)) != 1 {
		return nil, errs.New(errs.KindPermissions)
	}
	return &h, nil
}
