package project

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/postgres"
)

// testRepository connects to the database named by TEST_DATABASE_URL and
// skips the test when none is configured.
func testRepository(t *testing.T) *PGRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := postgres.Connect(context.Background(), dsn, 4, 1)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := postgres.Migrate(dsn, zerolog.Nop()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewPGRepository(db, zerolog.Nop())
}

func TestDeleteRoleLastRoleGuard(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	mainRole := uuid.New()
	otherRole := uuid.New()
	m := &Metadata{
		ID:           uuid.New(),
		Owner:        "alice",
		Name:         "roles " + uuid.NewString()[:8],
		SaveState:    SaveStateSaved,
		PublishState: PublishStatePrivate,
		Roles: map[uuid.UUID]RoleMetadata{
			mainRole:  {Name: "main"},
			otherRole: {Name: "other"},
		},
	}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() {
		if _, err := repo.Delete(context.Background(), m.ID); err != nil {
			t.Errorf("cleanup Delete() error = %v", err)
		}
	})

	removed, err := repo.DeleteRole(ctx, m.ID, otherRole)
	if err != nil {
		t.Fatalf("DeleteRole() error = %v", err)
	}
	if removed.Name != "other" {
		t.Errorf("DeleteRole() removed %q, want %q", removed.Name, "other")
	}

	if _, err := repo.DeleteRole(ctx, m.ID, mainRole); !errs.Is(err, errs.KindCannotDeleteLastRole) {
		t.Errorf("DeleteRole() last role error = %v, want kind CannotDeleteLastRole", err)
	}
}
