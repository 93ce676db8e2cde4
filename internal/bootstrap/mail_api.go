package bootstrap

import (
	"github.com/gofiber/fiber/v2"

	httpadapter "github.com/kcalvelli/axios-ai-mail-sub000/adapter/in/http"
)

// NewAPI assembles the control-plane application over an already wired
// dependency graph. The caller owns both lifecycles: Shutdown the app
// before running the deps cleanup.
func NewAPI(deps *Dependencies) *fiber.App {
	return httpadapter.NewApp(httpadapter.Deps{
		Mail:     deps.MailService,
		Accounts: deps.Accounts,
		Sync:     deps.SyncEngine,
		Store:    deps.Store,
		Hub:      deps.Hub,
		DB:       deps.DB,
		Log:      deps.Log,

		JWTSecret:       deps.Config.JWTSecret,
		RateLimitPerMin: deps.Config.RateLimitPerMin,
	})
}
