package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqlState returns the SQLSTATE code carried by err, or "" when err did not
// originate from the server.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation
// (SQLSTATE 23505), e.g. a duplicate username or a second project with the
// same owner and name.
func IsUniqueViolation(err error) bool { return sqlState(err) == "23505" }

// IsForeignKeyViolation reports whether err is a foreign key violation
// (SQLSTATE 23503), e.g. a role insert racing a concurrent project delete.
func IsForeignKeyViolation(err error) bool { return sqlState(err) == "23503" }
