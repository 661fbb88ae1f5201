// Package bootstrap seeds the first admin account on an empty database so a
// fresh deployment can be administered without manual SQL.
package bootstrap

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/config"
	"github.com/netsblox/cloud-go/internal/names"
)

// IsFirstRun returns true when no accounts exist yet.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit creates the initial admin account from the INIT_ADMIN_*
// configuration values.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config) error {
	if cfg.InitAdminUsername == "" || cfg.InitAdminPassword == "" {
		return fmt.Errorf("INIT_ADMIN_USERNAME and INIT_ADMIN_PASSWORD must be set for first-run initialization")
	}
	if !names.IsValidUsername(cfg.InitAdminUsername) {
		return fmt.Errorf("INIT_ADMIN_USERNAME %q is not a valid username", cfg.InitAdminUsername)
	}
	if cfg.InitAdminEmail != "" {
		if _, err := mail.ParseAddress(cfg.InitAdminEmail); err != nil {
			return fmt.Errorf("invalid INIT_ADMIN_EMAIL: %w", err)
		}
	}

	hash, err := auth.HashPassword(
		cfg.InitAdminPassword,
		cfg.Argon2Memory,
		cfg.Argon2Iterations,
		cfg.Argon2Parallelism,
		cfg.Argon2SaltLength,
		cfg.Argon2KeyLength,
	)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO users (username, email, password_hash, role)
		 VALUES ($1, $2, $3, 'admin')`,
		cfg.InitAdminUsername, cfg.InitAdminEmail, hash,
	)
	if err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}

	return nil
}
