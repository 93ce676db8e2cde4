package http

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/realtime"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/infra/middleware"
)

// Deps carries the wired core the control plane serves.
type Deps struct {
	Mail     in.MailService
	Accounts in.AccountService
	Sync     in.SyncService
	Store    out.Store
	Hub      *realtime.Hub
	DB       *sqlx.DB
	Log      zerolog.Logger

	// JWTSecret guards /api/v1; empty disables auth.
	JWTSecret string
	// RateLimitPerMin caps requests per client and minute; zero disables.
	RateLimitPerMin int
}

// NewApp builds the fiber application with the full /api/v1 surface.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(deps.Log),
		DisableStartupMessage: true,

		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Attachment uploads come through here.
		BodyLimit: 32 * 1024 * 1024,

		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	app.Use(middleware.Recover(deps.Log))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(deps.Log))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
	}))

	NewHealthHandler(deps.DB).Register(app)

	api := app.Group("/api/v1", middleware.JWTAuth(deps.JWTSecret, deps.Log))
	if deps.RateLimitPerMin > 0 {
		api.Use(middleware.NewRateLimiter(deps.RateLimitPerMin, time.Minute).Handler())
	}

	NewMessageHandler(deps.Mail).Register(api)
	NewAccountHandler(deps.Accounts, deps.Mail, deps.Sync, deps.Log).Register(api)
	NewDraftHandler(deps.Mail, deps.Store).Register(api)
	NewPushHandler(deps.Store).Register(api)
	NewSSEHandler(deps.Hub, deps.Log).Register(api)

	return app
}
