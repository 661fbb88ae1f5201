package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/user"
)

// Locals keys set by the identity middleware.
const (
	localRequester = "requester"
	localHost      = "authorizedHost"
)

// Requester identifies the logged-in account behind a request.
type Requester struct {
	Username string
	Role     user.Role
}

// IsAdmin reports whether the requester has admin privileges.
func (r Requester) IsAdmin() bool { return r.Role == user.RoleAdmin }

// IsModerator reports whether the requester can moderate content.
func (r Requester) IsModerator() bool {
	return r.Role == user.RoleModerator || r.Role == user.RoleAdmin
}

// UserSource looks up accounts for identity extraction.
type UserSource interface {
	ByUsername(ctx context.Context, username string) (*user.User, error)
	IsBanned(ctx context.Context, username string) (bool, error)
}

// HostSource authenticates services hosts for identity extraction.
type HostSource interface {
	Authenticate(ctx context.Context, id, secret string) (*Host, error)
}

// Extractor populates request Locals with the requester identity (from the
// session cookie) and the authorized host identity (from the X-Authorization
// header). Extraction is best effort: requests without valid credentials
// proceed unauthenticated and the authorization checks downstream decide what
// they may do.
type Extractor struct {
	sessions   *SessionStore
	users      UserSource
	hosts      HostSource
	cookieName string
	log        zerolog.Logger
}

// NewExtractor creates the identity middleware.
func NewExtractor(sessions *SessionStore, users UserSource, hosts HostSource, cookieName string, logger zerolog.Logger) *Extractor {
	return &Extractor{
		sessions:   sessions,
		users:      users,
		hosts:      hosts,
		cookieName: cookieName,
		log:        logger.With().Str("component", "identity").Logger(),
	}
}

// Middleware returns the Fiber handler performing the extraction.
func (e *Extractor) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		if token := c.Cookies(e.cookieName); token != "" {
			e.extractRequester(c, token)
		}
		if header := c.Get("X-Authorization"); header != "" {
			e.extractHost(c, header)
		}
		return c.Next()
	}
}

func (e *Extractor) extractRequester(c fiber.Ctx, token string) {
	username, err := e.sessions.Username(c, token)
	if err != nil {
		return
	}

	u, err := e.users.ByUsername(c, username)
	if err != nil {
		e.log.Warn().Err(err).Str("username", username).Msg("Session user lookup failed")
		return
	}

	// Banned accounts keep their session cookie but lose their identity.
	banned, err := e.users.IsBanned(c, username)
	if err != nil {
		e.log.Warn().Err(err).Str("username", username).Msg("Ban check failed")
		return
	}
	if banned {
		return
	}

	c.Locals(localRequester, Requester{Username: u.Username, Role: u.Role})
}

func (e *Extractor) extractHost(c fiber.Ctx, header string) {
	id, secret, ok := strings.Cut(header, ":")
	if !ok || id == "" || secret == "" {
		return
	}

	host, err := e.hosts.Authenticate(c, id, secret)
	if err != nil {
		return
	}
	c.Locals(localHost, host)
}

// RequesterFrom returns the requester identity set by the middleware.
func RequesterFrom(c fiber.Ctx) (Requester, bool) {
	r, ok := c.Locals(localRequester).(Requester)
	return r, ok
}

// HostFrom returns the authorized host identity set by the middleware.
func HostFrom(c fiber.Ctx) (*Host, bool) {
	h, ok := c.Locals(localHost).(*Host)
	return h, ok
}
