package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/user"
)

type fakeUsers struct {
	users  map[string]*user.User
	banned map[string]bool
}

func (f *fakeUsers) ByUsername(_ context.Context, username string) (*user.User, error) {
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, errs.New(errs.KindUserNotFound)
}

func (f *fakeUsers) IsBanned(_ context.Context, username string) (bool, error) {
	return f.banned[username], nil
}

type fakeHosts struct {
	id     string
	secret string
}

func (f *fakeHosts) Authenticate(_ context.Context, id, secret string) (*Host, error) {
	if id == f.id && secret == f.secret {
		return &Host{ID: id, Visibility: HostPrivate}, nil
	}
	return nil, errs.New(errs.KindPermissions)
}

func newTestExtractor(t *testing.T, users *fakeUsers, hosts *fakeHosts) (*Extractor, *SessionStore) {
	t.Helper()
	_, rdb := newTestRedis(t)
	sessions := NewSessionStore(rdb, time.Hour)
	return NewExtractor(sessions, users, hosts, "netsblox", zerolog.Nop()), sessions
}

func identityApp(e *Extractor) *fiber.App {
	app := fiber.New()
	app.Use(e.Middleware())
	app.Get("/whoami", func(c fiber.Ctx) error {
		if r, ok := RequesterFrom(c); ok {
			return c.SendString("user:" + r.Username)
		}
		if h, ok := HostFrom(c); ok {
			return c.SendString("host:" + h.ID)
		}
		return c.SendString("anonymous")
	})
	return app
}

func whoami(t *testing.T, app *fiber.App, mutate func(*http.Request)) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if mutate != nil {
		mutate(req)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	return string(buf[:n])
}

func TestIdentityFromSessionCookie(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{
		users:  map[string]*user.User{"alice": {Username: "alice", Role: user.RoleUser}},
		banned: map[string]bool{},
	}
	e, sessions := newTestExtractor(t, users, &fakeHosts{})
	app := identityApp(e)

	token, err := sessions.Create(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got := whoami(t, app, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "netsblox", Value: token})
	})
	if got != "user:alice" {
		t.Errorf("whoami = %q, want user:alice", got)
	}
}

func TestIdentityMissingCookie(t *testing.T) {
	t.Parallel()

	e, _ := newTestExtractor(t, &fakeUsers{users: map[string]*user.User{}}, &fakeHosts{})
	app := identityApp(e)

	if got := whoami(t, app, nil); got != "anonymous" {
		t.Errorf("whoami = %q, want anonymous", got)
	}
}

func TestIdentityStaleToken(t *testing.T) {
	t.Parallel()

	e, _ := newTestExtractor(t, &fakeUsers{users: map[string]*user.User{}}, &fakeHosts{})
	app := identityApp(e)

	got := whoami(t, app, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "netsblox", Value: "stale"})
	})
	if got != "anonymous" {
		t.Errorf("whoami = %q, want anonymous", got)
	}
}

func TestIdentityBannedUserLosesIdentity(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{
		users:  map[string]*user.User{"mallory": {Username: "mallory", Role: user.RoleUser}},
		banned: map[string]bool{"mallory": true},
	}
	e, sessions := newTestExtractor(t, users, &fakeHosts{})
	app := identityApp(e)

	token, err := sessions.Create(context.Background(), "mallory")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got := whoami(t, app, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "netsblox", Value: token})
	})
	if got != "anonymous" {
		t.Errorf("whoami = %q, want anonymous for banned account", got)
	}
}

func TestIdentityFromHostHeader(t *testing.T) {
	t.Parallel()

	e, _ := newTestExtractor(t, &fakeUsers{users: map[string]*user.User{}}, &fakeHosts{id: "svc", secret: "s3cret"})
	app := identityApp(e)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid credentials", "svc:s3cret", "host:svc"},
		{"wrong secret", "svc:nope", "anonymous"},
		{"malformed header", "svc", "anonymous"},
		{"empty secret", "svc:", "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := whoami(t, app, func(req *http.Request) {
				req.Header.Set("X-Authorization", tt.header)
			})
			if got != tt.want {
				t.Errorf("whoami = %q, want %q", got, tt.want)
			}
		})
	}
}
