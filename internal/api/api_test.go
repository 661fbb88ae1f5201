package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/user"
)

const testCookie = "netsblox"

type fakeUserSource struct {
	users  map[string]*user.User
	banned map[string]bool
}

func (f *fakeUserSource) ByUsername(_ context.Context, username string) (*user.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errs.New(errs.KindUserNotFound)
	}
	return u, nil
}

func (f *fakeUserSource) IsBanned(_ context.Context, username string) (bool, error) {
	return f.banned[username], nil
}

type fakeHostSource struct {
	hosts map[string]*auth.Host
}

func (f *fakeHostSource) Authenticate(_ context.Context, id, secret string) (*auth.Host, error) {
	h, ok := f.hosts[id]
	if !ok || h.Secret != secret {
		return nil, errs.New(errs.KindPermissions)
	}
	return h, nil
}

// identityApp builds an app with the real identity middleware backed by
// miniredis sessions and in-memory user and host sources.
func identityApp(t *testing.T) (*fiber.App, *auth.SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sessions := auth.NewSessionStore(rdb, time.Hour)
	users := &fakeUserSource{
		users: map[string]*user.User{
			"alice": {Username: "alice", Role: user.RoleUser},
			"troll": {Username: "troll", Role: user.RoleUser},
		},
		banned: map[string]bool{"troll": true},
	}
	hosts := &fakeHostSource{
		hosts: map[string]*auth.Host{
			"svc1": {ID: "svc1", Secret: "s3cret"},
		},
	}

	extractor := auth.NewExtractor(sessions, users, hosts, testCookie, zerolog.Nop())
	app := fiber.New()
	app.Use(extractor.Middleware())

	app.Get("/whoami", func(c fiber.Ctx) error {
		r := requester(c)
		if r == nil {
			return httputil.FailErr(c, errs.New(errs.KindLoginRequired))
		}
		return httputil.Success(c, r.Username)
	})
	app.Get("/host", func(c fiber.Ctx) error {
		h, ok := auth.HostFrom(c)
		if !ok {
			return httputil.FailErr(c, errs.New(errs.KindPermissions))
		}
		return httputil.Success(c, h.ID)
	})
	app.Get("/things/:id", func(c fiber.Ctx) error {
		id, err := parseUUID(c, "id", errs.KindProjectNotFound)
		if err != nil {
			return httputil.FailErr(c, err)
		}
		return httputil.Success(c, id.String())
	})
	app.Get("/client", func(c fiber.Ctx) error {
		return httputil.Success(c, clientID(c))
	})

	return app, sessions
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal body %q: %v", raw, err)
	}
	return body.Data
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body httputil.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal body %q: %v", raw, err)
	}
	return body.Error.Code
}

func sessionCookie(t *testing.T, sessions *auth.SessionStore, username string) *http.Cookie {
	t.Helper()
	token, err := sessions.Create(context.Background(), username)
	if err != nil {
		t.Fatalf("sessions.Create() error = %v", err)
	}
	return &http.Cookie{Name: testCookie, Value: token}
}

func TestRequesterAnonymous(t *testing.T) {
	t.Parallel()
	app, _ := identityApp(t)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	if code := decodeErrorCode(t, resp); code != "LoginRequired" {
		t.Errorf("code = %q, want LoginRequired", code)
	}
}

func TestRequesterFromSession(t *testing.T) {
	t.Parallel()
	app, sessions := identityApp(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(sessionCookie(t, sessions, "alice"))

	resp := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if got := decodeData(t, resp); got != "alice" {
		t.Errorf("whoami = %q, want alice", got)
	}
}

func TestRequesterBannedLosesIdentity(t *testing.T) {
	t.Parallel()
	app, sessions := identityApp(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(sessionCookie(t, sessions, "troll"))

	resp := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestHostFromHeader(t *testing.T) {
	t.Parallel()
	app, _ := identityApp(t)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid credentials", header: "svc1:s3cret", wantStatus: fiber.StatusOK},
		{name: "wrong secret", header: "svc1:nope", wantStatus: fiber.StatusForbidden},
		{name: "malformed header", header: "svc1", wantStatus: fiber.StatusForbidden},
		{name: "no header", header: "", wantStatus: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/host", nil)
			if tt.header != "" {
				req.Header.Set("X-Authorization", tt.header)
			}
			resp := doRequest(t, app, req)
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestParseUUIDParam(t *testing.T) {
	t.Parallel()
	app, _ := identityApp(t)

	id := uuid.New()
	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/things/"+id.String(), nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if got := decodeData(t, resp); got != id.String() {
		t.Errorf("id = %q, want %q", got, id)
	}
}

func TestParseUUIDParamMalformed(t *testing.T) {
	t.Parallel()
	app, _ := identityApp(t)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/things/not-a-uuid", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
	if code := decodeErrorCode(t, resp); code != "ProjectNotFound" {
		t.Errorf("code = %q, want ProjectNotFound", code)
	}
}

func TestClientIDQuery(t *testing.T) {
	t.Parallel()
	app, _ := identityApp(t)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/client?clientId=_netsblox123", nil))
	if got := decodeData(t, resp); got != "_netsblox123" {
		t.Errorf("clientId = %q, want _netsblox123", got)
	}
}
