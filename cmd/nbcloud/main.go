package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netsblox/cloud-go/internal/api"
	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/authz"
	"github.com/netsblox/cloud-go/internal/blob"
	"github.com/netsblox/cloud-go/internal/bootstrap"
	"github.com/netsblox/cloud-go/internal/config"
	"github.com/netsblox/cloud-go/internal/disposable"
	"github.com/netsblox/cloud-go/internal/email"
	"github.com/netsblox/cloud-go/internal/friend"
	"github.com/netsblox/cloud-go/internal/group"
	"github.com/netsblox/cloud-go/internal/httputil"
	"github.com/netsblox/cloud-go/internal/invite"
	"github.com/netsblox/cloud-go/internal/network"
	"github.com/netsblox/cloud-go/internal/page"
	"github.com/netsblox/cloud-go/internal/postgres"
	"github.com/netsblox/cloud-go/internal/project"
	"github.com/netsblox/cloud-go/internal/redisutil"
	"github.com/netsblox/cloud-go/internal/trace"
	"github.com/netsblox/cloud-go/internal/user"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting NetsBlox Cloud")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard \"*\". Set an explicit origin for production deployments.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Redis
	rdb, err := redisutil.Connect(ctx, cfg.RedisURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Redis connected")

	// Check first-run and seed if needed
	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun && cfg.InitAdminUsername != "" {
		log.Info().Msg("First run detected, seeding admin account")
		if err := bootstrap.RunFirstInit(ctx, db, cfg); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Str("username", cfg.InitAdminUsername).Msg("Admin account created")
	}

	// Initialize disposable email blocklist and prefetch asynchronously so the
	// first registration request does not block on a network call.
	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled, log.Logger)
	go blocklist.Prefetch(ctx)

	// Blob store
	blobs, err := blob.NewLocalStore(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer func() { _ = blobs.Close() }()

	// Repositories
	userRepo := user.NewPGRepository(db, log.Logger)
	groupRepo := group.NewPGRepository(db, log.Logger)
	projectRepo := project.NewPGRepository(db, log.Logger)
	friendRepo := friend.NewPGRepository(db, log.Logger)
	inviteRepo := invite.NewPGRepository(db, log.Logger)
	traceRepo := trace.NewPGRepository(db, log.Logger)
	hostRepo := auth.NewHostRepository(db, log.Logger)

	// Project actions
	projectCache, err := project.NewCache(cfg.ProjectCacheSize)
	if err != nil {
		return fmt.Errorf("project cache: %w", err)
	}
	projects := project.NewService(projectRepo, blobs, projectCache, log.Logger)

	// Network layer
	resolver := network.NewResolver(projects, cfg.AddressCacheSize)
	topology := network.NewTopology(projects, resolver, log.Logger)
	projects.SetNotifier(topology)
	recorder := trace.NewRecorder(traceRepo, log.Logger)
	router := network.NewRouter(topology, resolver, recorder, log.Logger)

	// Friends
	friends := friend.NewService(friendRepo, userRepo, groupRepo, cfg.FriendCacheSize, log.Logger)
	friends.SetNotifier(topology)

	// Identity and authorization
	sessions := auth.NewSessionStore(rdb, cfg.SessionTTL)
	extractor := auth.NewExtractor(sessions, userRepo, hostRepo, cfg.CookieName, log.Logger)
	authorizer := authz.NewAuthorizer(userRepo, groupRepo, projects, topology, friends, log.Logger)

	// Email
	var mail email.Sender
	if cfg.SMTPConfigured() {
		client := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err := client.Ping(); err != nil {
			log.Warn().Err(err).Msg("SMTP server unreachable (non-fatal)")
		}
		mail = client
	} else {
		mail = email.NewLogSender(log.Logger)
	}

	// Reaper for expired unsaved projects
	reaperCtx, reaperCancel := context.WithCancel(ctx)
	defer reaperCancel()
	go runReaper(reaperCtx, projects, cfg.ReaperInterval)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "NetsBlox Cloud",
		// ErrorHandler catches errors returned by handlers that are not
		// already mapped to structured API responses (e.g. built-in 404).
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred. Please try again later."
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    statusToCode(status),
					Message: message,
				},
			})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	reqLog := httputil.RequestLogger(log.Logger)
	app.Use(func(c fiber.Ctx) error {
		if !cfg.LogHealthRequests && c.Path() == "/health" {
			return c.Next()
		}
		return reqLog(c)
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Authorization"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: cfg.CORSAllowOrigins != "*",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))
	app.Use(extractor.Middleware())

	registerRoutes(app, &handlers{
		health:   api.NewHealthHandler(db, redisPinger{client: rdb}),
		projects: api.NewProjectHandler(projects, authorizer, topology, cfg.RoleRequestTimeout, log.Logger, traceRepo, inviteCleanup{inviteRepo}),
		network:  api.NewNetworkHandler(topology, router, projects, traceRepo, inviteRepo, authorizer, log.Logger),
		friends:  api.NewFriendHandler(friends, topology, authorizer, log.Logger),
		users:    api.NewUserHandler(userRepo, sessions, friends, authorizer, mail, blocklist, cfg, log.Logger),
		groups:   api.NewGroupHandler(groupRepo, friends, authorizer, log.Logger),
		collab:   api.NewCollaborationHandler(inviteRepo, projects, topology, authorizer, log.Logger),
		reset:    page.NewResetHandler(),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		reaperCancel()
		_ = app.Shutdown()
	}()

	// Listen
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

type handlers struct {
	health   *api.HealthHandler
	projects *api.ProjectHandler
	network  *api.NetworkHandler
	friends  *api.FriendHandler
	users    *api.UserHandler
	groups   *api.GroupHandler
	collab   *api.CollaborationHandler
	reset    *page.ResetHandler
}

func registerRoutes(app *fiber.App, h *handlers) {
	app.Get("/health", h.health.Health)

	// Projects
	proj := app.Group("/projects")
	proj.Post("/", h.projects.Create)
	proj.Get("/pending", h.projects.ListPending)
	proj.Get("/user/:owner", h.projects.ListByOwner)
	proj.Get("/user/:owner/:name", h.projects.ByName)
	proj.Get("/user/:owner/:name/metadata", h.projects.MetadataByName)
	proj.Get("/shared/:username", h.projects.ListShared)
	proj.Get("/id/:id", h.projects.ByID)
	proj.Get("/id/:id/metadata", h.projects.MetadataByID)
	proj.Get("/id/:id/latest", h.projects.Latest)
	proj.Get("/id/:id/thumbnail", h.projects.Thumbnail)
	proj.Post("/id/:id/publish", h.projects.Publish)
	proj.Post("/id/:id/unpublish", h.projects.Unpublish)
	proj.Post("/id/:id/approve", h.projects.Approve)
	proj.Patch("/id/:id", h.projects.Rename)
	proj.Delete("/id/:id", h.projects.Delete)
	proj.Post("/id/:id/", h.projects.CreateRole)
	proj.Get("/id/:id/collaborators", h.projects.ListCollaborators)
	proj.Post("/id/:id/collaborators/invite", h.collab.Invite)
	proj.Delete("/id/:id/collaborators/:username", h.projects.RemoveCollaborator)
	proj.Get("/id/:id/:roleId", h.projects.Role)
	proj.Get("/id/:id/:roleId/latest", h.projects.RoleLatest)
	proj.Post("/id/:id/:roleId/latest", h.network.RespondRoleRequest)
	proj.Post("/id/:id/:roleId", h.projects.SaveRole)
	proj.Patch("/id/:id/:roleId", h.projects.RenameRole)
	proj.Delete("/id/:id/:roleId", h.projects.DeleteRole)

	// Collaboration invites
	collab := app.Group("/collaboration-invites")
	collab.Get("/user/:receiver", h.collab.ListByReceiver)
	collab.Post("/id/:id", h.collab.Respond)

	// Network
	net := app.Group("/network")
	net.Get("/", h.network.ListRooms)
	net.Get("/external", h.network.ListExternal)
	net.Get("/:clientId/connect", h.network.Connect)
	net.Post("/:clientId/state", h.network.SetState)
	net.Get("/id/:projectId", h.network.RoomState)
	net.Get("/clients/:clientId", h.network.ClientInfo)
	net.Post("/clients/:clientId/evict", h.network.Evict)
	net.Post("/id/:projectId/occupants/invite", h.network.InviteOccupant)
	net.Get("/invites/:username", h.network.ListOccupantInvites)
	net.Post("/id/:projectId/trace/", h.network.StartTrace)
	net.Get("/id/:projectId/trace/", h.network.ListTraces)
	net.Get("/id/:projectId/trace/:traceId", h.network.Trace)
	net.Post("/id/:projectId/trace/:traceId/stop", h.network.StopTrace)
	net.Get("/id/:projectId/trace/:traceId/messages", h.network.TraceMessages)
	net.Delete("/id/:projectId/trace/:traceId", h.network.DeleteTrace)
	net.Post("/messages/", h.network.SendMessage)

	// Friends
	fr := app.Group("/friends")
	fr.Get("/:owner/", h.friends.List)
	fr.Get("/:owner/online", h.friends.ListOnline)
	fr.Get("/:owner/invites/", h.friends.ListInvites)
	fr.Post("/:owner/invite/:recipient", h.friends.SendInvite)
	fr.Post("/:owner/response/", h.friends.RespondToInvite)
	fr.Post("/:owner/block/:username", h.friends.Block)
	fr.Post("/:owner/unblock/:username", h.friends.Unblock)
	fr.Post("/:owner/unfriend/:username", h.friends.Unfriend)

	// Users
	users := app.Group("/users")
	users.Get("/", h.users.List)
	users.Post("/create", h.users.Create)
	users.Post("/login", h.users.Login)
	users.Post("/logout", h.users.Logout)
	users.Get("/whoami", h.users.Whoami)
	users.Get("/:username", h.users.View)
	users.Delete("/:username", h.users.Delete)
	users.Post("/:username/ban", h.users.Ban)
	users.Post("/:username/unban", h.users.Unban)
	users.Patch("/:username/password", h.users.SetPassword)
	users.Post("/:username/password", h.users.ResetPassword)
	users.Get("/:username/password", h.reset.ResetPassword)

	// Groups
	groups := app.Group("/groups")
	groups.Post("/user/:owner/", h.groups.Create)
	groups.Get("/user/:owner/", h.groups.ListByOwner)
	groups.Get("/id/:id", h.groups.ByID)
	groups.Patch("/id/:id", h.groups.Rename)
	groups.Delete("/id/:id", h.groups.Delete)
	groups.Get("/id/:id/members", h.groups.Members)
}

// runReaper deletes unsaved projects whose grace period has passed.
func runReaper(ctx context.Context, projects *project.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := projects.ReapExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("Project reaper sweep failed")
			}
		}
	}
}

// statusToCode maps HTTP statuses from Fiber's built-in errors (404, 405,
// etc.) to the closest API error code.
func statusToCode(status int) string {
	switch {
	case status == fiber.StatusNotFound:
		return "NotFound"
	case status == fiber.StatusTooManyRequests:
		return "RateLimited"
	case status == fiber.StatusServiceUnavailable:
		return "ServiceUnavailable"
	case status >= 400 && status < 500:
		return "BadRequest"
	default:
		return "Internal"
	}
}

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// inviteCleanup purges both invitation kinds when a project is deleted.
type inviteCleanup struct{ repo *invite.PGRepository }

func (c inviteCleanup) DeleteByProject(ctx context.Context, projectID uuid.UUID) error {
	if err := c.repo.DeleteOccupantsByProject(ctx, projectID); err != nil {
		return err
	}
	return c.repo.DeleteCollaborationsByProject(ctx, projectID)
}
