package http

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clipnote/internal/config"
	"clipnote/internal/metrics"
	"clipnote/internal/model"
	"clipnote/internal/services"
	"clipnote/internal/store"
	"clipnote/internal/usage"
)

// DataStore is the persistence used by the handlers. *store.Store
// implements it.
type DataStore interface {
	CreateNote(ctx context.Context, in store.NewNote) (store.Note, error)
	GetNote(ctx context.Context, userID string, id uuid.UUID) (store.Note, error)
	ListNotes(ctx context.Context, userID string, f store.NoteFilter) ([]store.Note, error)
	UpdateNote(ctx context.Context, userID string, id uuid.UUID, p store.NotePatch) (store.Note, error)
	DeleteNote(ctx context.Context, userID string, id uuid.UUID) error

	ListCategories(ctx context.Context, userID string) ([]store.Category, error)
	CreateCategory(ctx context.Context, userID, name string) (store.Category, error)
	GetCategory(ctx context.Context, userID string, id uuid.UUID) (store.Category, error)
	UpdateCategory(ctx context.Context, userID string, id uuid.UUID, p store.CategoryPatch) (store.Category, error)
	DeleteCategory(ctx context.Context, userID string, id uuid.UUID) error

	ListPages(ctx context.Context, userID string) ([]store.Page, error)
	CreatePage(ctx context.Context, p store.Page) (store.Page, error)
	GetPage(ctx context.Context, userID string, id uuid.UUID) (store.Page, error)
	GetPublishedPage(ctx context.Context, slug string) (store.Page, error)
	UpdatePage(ctx context.Context, userID string, id uuid.UUID, p store.PagePatch) (store.Page, error)
	DeletePage(ctx context.Context, userID string, id uuid.UUID) error

	GetSettings(ctx context.Context, userID string) (store.Settings, error)
	UpdateSettings(ctx context.Context, userID string, upd store.SettingsUpdate) (store.Settings, error)

	ListPasskeys(ctx context.Context, userID string) ([]store.Passkey, error)
	CreatePasskey(ctx context.Context, userID, name string, credentialID []byte, credential json.RawMessage) (store.Passkey, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (store.Passkey, error)
	TouchPasskey(ctx context.Context, id uuid.UUID, credential json.RawMessage) error
	DeletePasskey(ctx context.Context, userID string, id uuid.UUID) error

	GetClipJob(ctx context.Context, userID string, id uuid.UUID) (store.ClipJob, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Clipper interface {
	Clip(ctx context.Context, userID string, req model.SourceRequest) (services.Outcome, error)
}

type UsageReporter interface {
	Status(ctx context.Context, userID string) (usage.Snapshot, error)
}

// ImageStore persists uploaded images. *blob.Store implements it.
type ImageStore interface {
	Put(ctx context.Context, userID, mimeType string, data []byte) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Dependencies wires the server to the rest of the application. Redis,
// Images and WebAuthn are optional.
type Dependencies struct {
	Store    DataStore
	DB       Pinger
	Redis    *redis.Client
	Clipper  Clipper
	Bulk     services.BulkClipService
	Usage    UsageReporter
	Images   ImageStore
	WebAuthn *webauthn.WebAuthn
	Logger   *zap.Logger

	// counter overrides Redis for the clip rate limit.
	counter windowCounter
}

type Server struct {
	app        *fiber.App
	cfg        *config.Config
	deps       Dependencies
	ceremonies ceremonyStore
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Server.BodyLimitMB << 20,
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})

	s := &Server{app: app, cfg: cfg, deps: deps, logger: logger}
	if deps.Redis != nil {
		s.ceremonies = newRedisCeremonyStore(deps.Redis)
	} else {
		s.ceremonies = newMemoryCeremonyStore()
	}

	app.Use(requestMiddleware(logger))

	app.Get("/healthz", s.healthHandler)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})
	app.Get("/p/:slug", s.publicPageHandler)

	authGroup := app.Group("/auth")
	authGroup.Post("/passkey/login/begin", s.passkeyLoginBeginHandler)
	authGroup.Post("/passkey/login/finish", s.passkeyLoginFinishHandler)
	authGroup.Post("/logout", s.logoutHandler)

	counter := deps.counter
	if counter == nil && deps.Redis != nil {
		counter = deps.Redis
	}

	v1 := app.Group("/v1", authMiddleware(cfg))
	registerClipRoutes(v1.Group("/clip"), s, rateLimitMiddleware(cfg.RateLimit.ClipPerMinute, counter, nil))
	registerV1Routes(v1, s)

	return s
}

// registerClipRoutes mounts the clip endpoints. limit applies to clip
// submissions only; polling a bulk job does not count against it.
func registerClipRoutes(group fiber.Router, s *Server, limit fiber.Handler) {
	group.Post("/url", limit, s.clipURLHandler)
	group.Post("/text", limit, s.clipTextHandler)
	group.Post("/image", limit, s.clipImageHandler)
	group.Post("/video", limit, s.clipVideoHandler)
	group.Post("/bulk", limit, s.bulkClipHandler)
	group.Get("/bulk/:id", s.bulkClipStatusHandler)
}

func registerV1Routes(group fiber.Router, s *Server) {
	group.Get("/notes", s.listNotesHandler)
	group.Post("/notes", s.createNoteHandler)
	group.Get("/notes/:id", s.getNoteHandler)
	group.Patch("/notes/:id", s.updateNoteHandler)
	group.Delete("/notes/:id", s.deleteNoteHandler)
	group.Get("/notes/:id/html", s.noteHTMLHandler)

	group.Get("/categories", s.listCategoriesHandler)
	group.Post("/categories", s.createCategoryHandler)
	group.Patch("/categories/:id", s.updateCategoryHandler)
	group.Delete("/categories/:id", s.deleteCategoryHandler)

	group.Get("/pages", s.listPagesHandler)
	group.Post("/pages", s.createPageHandler)
	group.Get("/pages/:id", s.getPageHandler)
	group.Patch("/pages/:id", s.updatePageHandler)
	group.Delete("/pages/:id", s.deletePageHandler)

	group.Get("/settings", s.getSettingsHandler)
	group.Put("/settings", s.updateSettingsHandler)
	group.Get("/usage", s.usageHandler)

	group.Get("/passkeys", s.listPasskeysHandler)
	group.Delete("/passkeys/:id", s.deletePasskeyHandler)
	group.Post("/passkeys/register/begin", s.passkeyRegisterBeginHandler)
	group.Post("/passkeys/register/finish", s.passkeyRegisterFinishHandler)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.deps.DB != nil {
		dbStatus = "ok"
		if err := s.deps.DB.PingContext(ctx); err != nil {
			requestLogger(c).Warn("database ping failed", zap.Error(err))
			dbStatus = "error"
		}
	}

	redisStatus := "disabled"
	if s.deps.Redis != nil {
		redisStatus = "ok"
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			requestLogger(c).Warn("redis ping failed", zap.Error(err))
			redisStatus = "error"
		}
	}

	storageStatus := "disabled"
	if s.deps.Images != nil {
		storageStatus = "enabled"
	}

	status := "ok"
	code := fiber.StatusOK
	if dbStatus == "error" || redisStatus == "error" {
		status = "error"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"db":      dbStatus,
		"redis":   redisStatus,
		"storage": storageStatus,
	})
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
