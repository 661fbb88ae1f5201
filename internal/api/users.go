package api

import (
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/config"
	"github.com/netsblox/cloud-go/internal/disposable"
	"github.com/netsblox/cloud-go/internal/email"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/friend"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/names"
	"github.com/netsblox/cloud-go/internal/user"
)

// UserHandler serves the account endpoints.
type UserHandler struct {
	users     *user.PGRepository
	sessions  *auth.SessionStore
	friends   *friend.Service
	authz     *authz.Authorizer
	mail      email.Sender
	blocklist *disposable.Blocklist
	cfg       *config.Config
	log       zerolog.Logger
}

// NewUserHandler creates the user handler.
func NewUserHandler(users *user.PGRepository, sessions *auth.SessionStore, friends *friend.Service, authorizer *authz.Authorizer, mail email.Sender, blocklist *disposable.Blocklist, cfg *config.Config, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:     users,
		sessions:  sessions,
		friends:   friends,
		authz:     authorizer,
		mail:      mail,
		blocklist: blocklist,
		cfg:       cfg,
		log:       logger.With().Str("handler", "users").Logger(),
	}
}

type createUserRequest struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     user.Role  `json:"role"`
	GroupID  *uuid.UUID `json:"groupId"`
}

// Create handles POST /users/create.
func (h *UserHandler) Create(c fiber.Ctx) error {
	var body createUserRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}
	if !names.IsValidUsername(body.Username) {
		return httputil.FailErr(c, errs.New(errs.KindInvalidUsername))
	}
	addr, err := mail.ParseAddress(body.Email)
	if err != nil {
		return httputil.FailErr(c, errs.New(errs.KindInvalidEmailAddress))
	}
	if at := strings.LastIndex(addr.Address, "@"); at >= 0 {
		blocked, err := h.blocklist.IsBlocked(c, addr.Address[at+1:])
		if err != nil {
			h.log.Warn().Err(err).Msg("Blocklist check failed, allowing registration")
		} else if blocked {
			return httputil.FailErr(c, errs.New(errs.KindInvalidEmailAddress))
		}
	}

	w, err := h.authz.TryCreateUser(c, requester(c), body.Role, body.GroupID)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	// Banned accounts keep their username reserved.
	banned, err := h.users.IsBanned(c, body.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if banned {
		return httputil.FailErr(c, errs.New(errs.KindUserExists))
	}

	hash, err := h.hashPassword(body.Password)
	if err != nil {
		return httputil.FailErr(c, errs.Wrap(errs.KindInternal, err))
	}
	if err := h.users.Create(c, user.CreateParams{
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hash,
		Role:         w.Role(),
		GroupID:      w.GroupID(),
	}); err != nil {
		return httputil.FailErr(c, err)
	}

	u, err := h.users.ByUsername(c, body.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusOK, u)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /users/login. The session token travels as an HTTP-only
// cookie.
func (h *UserHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	creds, err := h.users.Credentials(c, body.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	match, err := auth.VerifyPassword(body.Password, creds.PasswordHash)
	if err != nil {
		return httputil.FailErr(c, errs.Wrap(errs.KindInternal, err))
	}
	if !match {
		return httputil.FailErr(c, errs.New(errs.KindIncorrectPassword))
	}

	banned, err := h.users.IsBanned(c, creds.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if banned {
		return httputil.FailErr(c, errs.New(errs.KindBannedUser))
	}

	if auth.NeedsRehash(creds.PasswordHash, h.cfg.Argon2Memory, h.cfg.Argon2Iterations,
		h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength) {
		if hash, err := h.hashPassword(body.Password); err == nil {
			if err := h.users.SetPasswordHash(c, creds.Username, hash); err != nil {
				h.log.Warn().Err(err).Str("username", creds.Username).Msg("Password rehash failed")
			}
		}
	}

	token, err := h.sessions.Create(c, creds.Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	h.setSessionCookie(c, token, time.Now().Add(h.cfg.SessionTTL))
	return httputil.Success(c, creds.User)
}

// Logout handles POST /users/logout.
func (h *UserHandler) Logout(c fiber.Ctx) error {
	if token := c.Cookies(h.cfg.CookieName); token != "" {
		if err := h.sessions.Delete(c, token); err != nil {
			h.log.Warn().Err(err).Msg("Session delete failed")
		}
	}
	h.setSessionCookie(c, "", time.Unix(0, 0))
	return httputil.Success(c, "logged out")
}

// Whoami handles GET /users/whoami.
func (h *UserHandler) Whoami(c fiber.Ctx) error {
	r := requester(c)
	if r == nil {
		return httputil.FailErr(c, errs.New(errs.KindLoginRequired))
	}
	return httputil.Success(c, r.Username)
}

// List handles GET /users/: every username, admins only.
func (h *UserHandler) List(c fiber.Ctx) error {
	if _, err := h.authz.TryListUsers(requester(c)); err != nil {
		return httputil.FailErr(c, err)
	}

	usernames, err := h.users.ListUsernames(c)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if usernames == nil {
		usernames = []string{}
	}
	return httputil.Success(c, usernames)
}

// View handles GET /users/{username}.
func (h *UserHandler) View(c fiber.Ctx) error {
	w, err := h.authz.TryViewUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, w.Target())
}

// Delete handles DELETE /users/{username}.
func (h *UserHandler) Delete(c fiber.Ctx) error {
	w, err := h.authz.TryEditUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	username := w.Target().Username
	if err := h.users.Delete(c, username); err != nil {
		return httputil.FailErr(c, err)
	}
	h.friends.Invalidate(username)
	return httputil.Success(c, username)
}

// Ban handles POST /users/{username}/ban.
func (h *UserHandler) Ban(c fiber.Ctx) error {
	w, err := h.authz.TryBanUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	account, err := h.users.Ban(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if account.Email != "" {
		if err := h.mail.SendBanNotice(account.Email, account.Username); err != nil {
			h.log.Warn().Err(err).Str("username", account.Username).Msg("Ban notice failed")
		}
	}
	return httputil.Success(c, account)
}

// Unban handles POST /users/{username}/unban.
func (h *UserHandler) Unban(c fiber.Ctx) error {
	w, err := h.authz.TryBanUser(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	account, err := h.users.Unban(c, w.Target().Username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, account)
}

// The form tag lets the browser-facing reset page submit this body as a
// regular form post.
type setPasswordRequest struct {
	Password string `json:"password" form:"password"`
}

// SetPassword handles PATCH /users/{username}/password.
func (h *UserHandler) SetPassword(c fiber.Ctx) error {
	var body setPasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	w, err := h.authz.TrySetPassword(c, requester(c), c.Params("username"))
	if err != nil {
		return httputil.FailErr(c, err)
	}

	hash, err := h.hashPassword(body.Password)
	if err != nil {
		return httputil.FailErr(c, errs.Wrap(errs.KindInternal, err))
	}
	if err := h.users.SetPasswordHash(c, w.Username(), hash); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, w.Username())
}

// ResetPassword handles POST /users/{username}/password. With a token query
// parameter it consumes the one-shot token and sets the password; without
// one it lets an authorized host start the reset flow by mailing a link.
// The token is deleted on use whether or not it matches.
func (h *UserHandler) ResetPassword(c fiber.Ctx) error {
	username := c.Params("username")
	if token := c.Query("token"); token != "" {
		return h.consumeResetToken(c, username, token)
	}

	host, _ := auth.HostFrom(c)
	w, err := h.authz.TrySetPasswordToken(host)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	u, err := h.users.ByUsername(c, username)
	if err != nil {
		return httputil.FailErr(c, err)
	}

	secret := uuid.New()
	if err := h.users.CreateSetPasswordToken(c, u.Username, secret); err != nil {
		return httputil.FailErr(c, err)
	}
	if err := h.mail.SendPasswordReset(u.Email, u.Username, secret.String(), h.cfg.PublicURL); err != nil {
		h.log.Warn().Err(err).Str("username", u.Username).Str("host", w.Host()).
			Msg("Password reset mail failed")
	}
	return httputil.Success(c, "sent")
}

func (h *UserHandler) consumeResetToken(c fiber.Ctx, username, token string) error {
	var body setPasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return failBody(c)
	}

	secret, err := h.users.ConsumeSetPasswordToken(c, username)
	if err != nil {
		return httputil.FailErr(c, err)
	}
	if secret.String() != token {
		return httputil.FailErr(c, errs.New(errs.KindPermissions))
	}

	hash, err := h.hashPassword(body.Password)
	if err != nil {
		return httputil.FailErr(c, errs.Wrap(errs.KindInternal, err))
	}
	if err := h.users.SetPasswordHash(c, username, hash); err != nil {
		return httputil.FailErr(c, err)
	}
	return httputil.Success(c, username)
}

func (h *UserHandler) hashPassword(password string) (string, error) {
	return auth.HashPassword(password, h.cfg.Argon2Memory, h.cfg.Argon2Iterations,
		h.cfg.Argon2Parallelism, h.cfg.Argon2SaltLength, h.cfg.Argon2KeyLength)
}

func (h *UserHandler) setSessionCookie(c fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}
