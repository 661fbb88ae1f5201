package friend

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

const linkColumns = `id, sender, recipient, state, created_at, updated_at`

func scanLink(row pgx.Row) (*Link, error) {
	var l Link
	if err := row.Scan(&l.ID, &l.Sender, &l.Recipient, &l.State, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan friend link: %w", err)
	}
	return &l, nil
}

// PGRepository stores friend links in PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed friend link repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// SendInvite records a friend invite from sender to recipient. A pending
// counter-invite is approved instead; repeating an invite is a no-op. Returns
// the resulting link.
func (r *PGRepository) SendInvite(ctx context.Context, sender, recipient string) (*Link, error) {
	var result *Link
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := lockPair(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}

		if existing == nil {
			l, err := scanLink(tx.QueryRow(ctx,
				`INSERT INTO friend_links (id, sender, recipient, state)
				 VALUES ($1, $2, $3, $4)
				 RETURNING `+linkColumns,
				uuid.New(), sender, recipient, LinkStatePending))
			if err != nil {
				return errs.Database(err)
			}
			result = l
			return nil
		}

		switch existing.State {
		case LinkStatePending:
			if existing.Sender == recipient {
				// Mutual interest: the counter-invite approves the pair.
				l, err := scanLink(tx.QueryRow(ctx,
					`UPDATE friend_links SET state = $2, updated_at = now()
					 WHERE id = $1 RETURNING `+linkColumns,
					existing.ID, LinkStateApproved))
				if err != nil {
					return errs.Database(err)
				}
				result = l
				return nil
			}
			result = existing
			return nil
		case LinkStateApproved:
			result = existing
			return nil
		default:
			return errs.New(errs.KindInviteNotAllowed)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Respond resolves a pending invite from sender to recipient. Approval keeps
// the link; rejection removes it.
func (r *PGRepository) Respond(ctx context.Context, recipient, sender string, approve bool) (*Link, error) {
	var result *Link
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := lockPair(ctx, tx, sender, recipient)
		if err != nil {
			return err
		}
		if existing == nil || existing.State != LinkStatePending ||
			existing.Sender != sender || existing.Recipient != recipient {
			return errs.New(errs.KindInviteNotFound)
		}

		if !approve {
			if _, err := tx.Exec(ctx,
				`DELETE FROM friend_links WHERE id = $1`, existing.ID); err != nil {
				return errs.Database(err)
			}
			result = existing
			return nil
		}

		l, err := scanLink(tx.QueryRow(ctx,
			`UPDATE friend_links SET state = $2, updated_at = now()
			 WHERE id = $1 RETURNING `+linkColumns,
			existing.ID, LinkStateApproved))
		if err != nil {
			return errs.Database(err)
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Block replaces whatever link exists between the pair with a block from
// sender to recipient.
func (r *PGRepository) Block(ctx context.Context, sender, recipient string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM friend_links
			 WHERE LEAST(sender, recipient) = LEAST($1, $2)
			   AND GREATEST(sender, recipient) = GREATEST($1, $2)`,
			sender, recipient); err != nil {
			return errs.Database(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO friend_links (id, sender, recipient, state)
			 VALUES ($1, $2, $3, $4)`,
			uuid.New(), sender, recipient, LinkStateBlocked); err != nil {
			return errs.Database(err)
		}
		return nil
	})
}

// Unblock removes a block placed by sender on recipient. Removing a block
// that does not exist is a no-op.
func (r *PGRepository) Unblock(ctx context.Context, sender, recipient string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM friend_links
		 WHERE sender = $1 AND recipient = $2 AND state = $3`,
		sender, recipient, LinkStateBlocked)
	if err != nil {
		return errs.Database(err)
	}
	return nil
}

// Unfriend removes an approved link between the pair, in either direction.
func (r *PGRepository) Unfriend(ctx context.Context, a, b string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM friend_links
		 WHERE LEAST(sender, recipient) = LEAST($1, $2)
		   AND GREATEST(sender, recipient) = GREATEST($1, $2)
		   AND state = $3`,
		a, b, LinkStateApproved)
	if err != nil {
		return errs.Database(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindFriendNotFound)
	}
	return nil
}

// ListInvites returns the pending invites addressed to username.
func (r *PGRepository) ListInvites(ctx context.Context, username string) ([]Link, error) {
	return r.list(ctx,
		`SELECT `+linkColumns+` FROM friend_links
		 WHERE recipient = $1 AND state = $2 ORDER BY created_at`,
		username, LinkStatePending)
}

// ApprovedNeighbors returns the usernames linked to username by an approved
// link, in either direction.
func (r *PGRepository) ApprovedNeighbors(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT CASE WHEN sender = $1 THEN recipient ELSE sender END
		 FROM friend_links
		 WHERE (sender = $1 OR recipient = $1) AND state = $2`,
		username, LinkStateApproved)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	neighbors := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Database(err)
		}
		neighbors = append(neighbors, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return neighbors, nil
}

// HasBlock reports whether either side of the pair has blocked the other.
func (r *PGRepository) HasBlock(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM friend_links
		     WHERE LEAST(sender, recipient) = LEAST($1, $2)
		       AND GREATEST(sender, recipient) = GREATEST($1, $2)
		       AND state = $3)`,
		a, b, LinkStateBlocked).Scan(&blocked)
	if err != nil {
		return false, errs.Database(err)
	}
	return blocked, nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Link, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, errs.Database(err)
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Database(err)
	}
	return links, nil
}

// lockPair reads and row-locks the link between the unordered pair, or
// returns nil when none exists.
func lockPair(ctx context.Context, tx pgx.Tx, a, b string) (*Link, error) {
	l, err := scanLink(tx.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM friend_links
		 WHERE LEAST(sender, recipient) = LEAST($1, $2)
		   AND GREATEST(sender, recipient) = GREATEST($1, $2)
		 FOR UPDATE`,
		a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Database(err)
	}
	return l, nil
}
