package user

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

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = `username, email, role, group_id, created_at`

// scanUser scans a single row into a *User. The row must contain the columns listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.Username, &u.Email, &u.Role, &u.GroupID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// PGRepository implements account storage using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new account. Usernames and emails of banned accounts are
// refused so a ban cannot be shed by re-registering.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) error {
	role := params.Role
	if role == "" {
		role = RoleUser
	}

	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var banned bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM banned_accounts WHERE username = $1 OR email = $2)`,
			params.Username, params.Email,
		).Scan(&banned)
		if err != nil {
			return errs.Database(err)
		}
		if banned {
			return errs.New(errs.KindUserExists)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO users (username, email, password_hash, role, group_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			params.Username, params.Email, params.PasswordHash, role, params.GroupID,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return errs.New(errs.KindUserExists)
			}
			return errs.Database(err)
		}
		return nil
	})
}

// ByUsername returns the account with the given username.
func (r *PGRepository) ByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindUserNotFound)
		}
		return nil, errs.Database(err)
	}
	return u, nil
}

// Credentials returns the account plus its password hash, for the login path.
func (r *PGRepository) Credentials(ctx context.Context, username string) (*Credentials, error) {
	var c Credentials
	err := r.db.QueryRow(ctx,
		`SELECT `+selectColumns+`, password_hash FROM users WHERE username = $1`, username,
	).Scan(&c.Username, &c.Email, &c.Role, &c.GroupID, &c.CreatedAt, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindUserNotFound)
		}
		return nil, errs.Database(err)
	}
	return &c, nil
}

// SetPasswordHash replaces the stored password hash for the account.
func (r *PGRepository) SetPasswordHash(ctx context.Context, username, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE username = $1`, username, hash)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindUserNotFound)
	}
	return nil
}

// SetRole changes the account privilege level.
func (r *PGRepository) SetRole(ctx context.Context, username string, role Role) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $2 WHERE username = $1`, username, role)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindUserNotFound)
	}
	return nil
}

// Delete removes the account.
func (r *PGRepository) Delete(ctx context.Context, username string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindUserNotFound)
	}
	return nil
}

// ListUsernames returns every username, for admin tooling.
func (r *PGRepository) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errs.Database(err)
		}
		usernames = append(usernames, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return usernames, nil
}

// ListByGroup returns the members of a group.
func (r *PGRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM users WHERE group_id = $1 ORDER BY username`, groupID)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errs.Database(err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return users, nil
}

// Ban records the account as banned. Banning an already banned account is a
// no-op, so the operation is idempotent.
func (r *PGRepository) Ban(ctx context.Context, username string) (*BannedAccount, error) {
	var account BannedAccount
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var email string
		err := tx.QueryRow(ctx,
			`SELECT email FROM users WHERE username = $1`, username).Scan(&email)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.New(errs.KindUserNotFound)
			}
			return errs.Database(err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO banned_accounts (username, email)
			 VALUES ($1, $2)
			 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
			 RETURNING username, email, banned_at`,
			username, email,
		).Scan(&account.Username, &account.Email, &account.BannedAt)
		if err != nil {
			return errs.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Unban lifts a ban.
func (r *PGRepository) Unban(ctx context.Context, username string) (*BannedAccount, error) {
	var account BannedAccount
	err := r.db.QueryRow(ctx,
		`DELETE FROM banned_accounts WHERE username = $1
		 RETURNING username, email, banned_at`, username,
	).Scan(&account.Username, &account.Email, &account.BannedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindUserNotFound)
		}
		return nil, errs.Database(err)
	}
	return &account, nil
}

// IsBanned reports whether the username is banned.
func (r *PGRepository) IsBanned(ctx context.Context, username string) (bool, error) {
	var banned bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM banned_accounts WHERE username = $1)`, username,
	).Scan(&banned)
	if err != nil {
		return false, errs.Database(err)
	}
	return banned, nil
}

// CreateSetPasswordToken stores a one-shot password reset token. Only one
// token may be outstanding per account; a second request is refused until the
// first is consumed.
func (r *PGRepository) CreateSetPasswordToken(ctx context.Context, username string, secret uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO set_password_tokens (username, secret)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO NOTHING`,
		username, secret,
	)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindPasswordResetLinkSent)
	}
	return nil
}

// ConsumeSetPasswordToken deletes and returns the outstanding token for the
// account. The token is removed whether or not the caller's secret matches;
// a compromised token must not survive a failed attempt.
func (r *PGRepository) ConsumeSetPasswordToken(ctx context.Context, username string) (uuid.UUID, error) {
	var secret uuid.UUID
	err := r.db.QueryRow(ctx,
		`DELETE FROM set_password_tokens WHERE username = $1 RETURNING secret`, username,
	).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errs.New(errs.KindPermissions)
		}
		return uuid.Nil, errs.Database(err)
	}
	return secret, nil
}
