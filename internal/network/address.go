package network

import (
	"context"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/project"
)

// Address is a parsed message destination. Browser addresses take the form
// "[role@]project@owner"; a "#appId" suffix targets an external namespace
// instead.
type Address struct {
	Role    string
	Project string
	Owner   string
	AppID   string
}

// IsExternal reports whether the address targets an external app namespace.
func (a *Address) IsExternal() bool { return a.AppID != DefaultAppID }

// Local returns the address without its app suffix, as external clients
// register it.
func (a *Address) Local() string {
	var b strings.Builder
	if a.Role != "" {
		b.WriteString(a.Role)
		b.WriteByte('@')
	}
	b.WriteString(a.Project)
	if a.Owner != "" {
		b.WriteByte('@')
		b.WriteString(a.Owner)
	}
	return b.String()
}

// ParseAddress splits a destination string into its segments. Role, project,
// and owner names cannot contain '@' or '#', so the last separators win.
func ParseAddress(s string) Address {
	addr := Address{AppID: DefaultAppID}

	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		addr.AppID = strings.ToLower(s[i+1:])
		s = s[:i]
	}

	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		addr.Owner = s[i+1:]
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		addr.Role = s[:i]
		s = s[i+1:]
	}
	addr.Project = s
	return addr
}

// BrowserAddress is one resolved (project, role) target.
type BrowserAddress struct {
	ProjectID uuid.UUID
	RoleID    uuid.UUID
}

// MetadataSource loads project metadata for address resolution.
type MetadataSource interface {
	MetadataByName(ctx context.Context, owner, name string) (*project.Metadata, error)
}

// Resolver memoizes browser address resolution. Entries are evicted whenever
// the project they mention changes, since a rename or role change alters what
// the same address string resolves to.
type Resolver struct {
	projects MetadataSource
	cache    *lru.Cache[string, []BrowserAddress]
}

// NewResolver creates a resolver with a bounded memoization cache.
func NewResolver(projects MetadataSource, cacheSize int) *Resolver {
	cache, err := lru.New[string, []BrowserAddress](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Resolver{projects: projects, cache: cache}
}

// Resolve maps a browser address to its (project, role) targets: every role
// of the project when the role segment is omitted, otherwise the one named
// role. Empty resolutions are not cached.
func (r *Resolver) Resolve(ctx context.Context, addr Address) ([]BrowserAddress, error) {
	key := addr.Local()
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	m, err := r.projects.MetadataByName(ctx, addr.Owner, addr.Project)
	if err != nil {
		if errs.Is(err, errs.KindProjectNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var targets []BrowserAddress
	if addr.Role == "" {
		for _, roleID := range m.RoleIDs() {
			targets = append(targets, BrowserAddress{ProjectID: m.ID, RoleID: roleID})
		}
	} else if roleID, ok := m.RoleByName(addr.Role); ok {
		targets = append(targets, BrowserAddress{ProjectID: m.ID, RoleID: roleID})
	}

	if len(targets) > 0 {
		r.cache.Add(key, targets)
	}
	return targets, nil
}

// InvalidateProject evicts every cached entry that resolved to the project.
func (r *Resolver) InvalidateProject(projectID uuid.UUID) {
	for _, key := range r.cache.Keys() {
		targets, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		for _, t := range targets {
			if t.ProjectID == projectID {
				r.cache.Remove(key)
				break
			}
		}
	}
}
