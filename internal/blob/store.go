// Package blob stores role code and media XML outside the metadata database.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrKeyNotFound is returned by Get when no blob exists at the key.
var ErrKeyNotFound = errors.New("blob key not found")

// Store abstracts blob storage so the server can swap between local disk, S3,
// or other backends without changing business logic.
type Store interface {
	// Put writes the contents of r to the given key, creating parent
	// directories as needed. The caller is responsible for closing r.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the blob at key for reading. The caller must close the
	// returned ReadCloser. Returns ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob at key. Missing keys are not treated as errors.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every blob under the given key prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Role blob keys are laid out as
//
//	{users|guests}/{owner}/{projectID}/{roleID}/{code|media}.xml
//
// Guest owners are client IDs, which always start with '_'.

// RoleCodeKey returns the storage key for a role's code XML.
func RoleCodeKey(owner, projectID, roleID string) string {
	return projectPrefix(owner, projectID) + "/" + roleID + "/code.xml"
}

// RoleMediaKey returns the storage key for a role's media XML.
func RoleMediaKey(owner, projectID, roleID string) string {
	return projectPrefix(owner, projectID) + "/" + roleID + "/media.xml"
}

// ProjectPrefix returns the key prefix shared by every blob of a project, for
// bulk deletion when the project is removed.
func ProjectPrefix(owner, projectID string) string {
	return projectPrefix(owner, projectID) + "/"
}

func projectPrefix(owner, projectID string) string {
	bucket := "users"
	if strings.HasPrefix(owner, "_") {
		bucket = "guests"
	}
	return bucket + "/" + owner + "/" + projectID
}
