// Package bootstrap wires the engine's dependency graph and owns process
// lifecycle for the api and engine modes.
package bootstrap

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/persistence"
	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/provider"
	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/realtime"
	"github.com/kcalvelli/axios-ai-mail-sub000/config"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/agent/ollama"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/agent/tools"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/accounts"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/action"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/classify"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/mailops"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/sync"
	"github.com/kcalvelli/axios-ai-mail-sub000/infra/database"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/credentials"
)

// Dependencies is the wired core shared by both modes.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *sqlx.DB
	Store *persistence.Store

	Credentials *credentials.Loader
	Pool        *provider.Pool
	Providers   *provider.Factory

	Inference *ollama.Client
	Gateway   out.ToolGateway
	Actions   *tools.ActionRegistry

	Hub *realtime.Hub

	Classifier  *classify.Classifier
	SyncEngine  *sync.Engine
	MailService *mailops.Service
	Accounts    *accounts.Service
	ActionAgent *action.Agent
}

// NewDependencies opens the store, builds every adapter and service, and
// reconciles the accounts file. The returned cleanup closes the IMAP pool
// and the store; call it exactly once at shutdown.
func NewDependencies(cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Store
	db, err := database.Open(cfg.StorePath, log)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps.Store = persistence.NewStore(db, database.HasSearchIndex(ctx, db), log)

	// Providers
	deps.Credentials = credentials.NewLoader(log)
	deps.Pool = provider.NewPool(time.Duration(cfg.PoolMaxIdleSec)*time.Second, log)
	cleanups = append(cleanups, deps.Pool.CloseAll)
	deps.Providers = provider.NewFactory(deps.Credentials, deps.Pool, log)

	// Inference
	deps.Inference = ollama.NewClient(ollama.ClientConfig{
		BaseURL: cfg.InferenceURL,
		Model:   cfg.InferenceModel,
		Timeout: time.Duration(cfg.InferenceTimeoutSec) * time.Second,
	})

	// Tool endpoint; unset leaves the action pipeline dormant.
	if cfg.ToolEndpointURL != "" {
		deps.Gateway = tools.NewGatewayClient(cfg.ToolEndpointURL, log)
	} else {
		log.Warn().Msg("TOOL_ENDPOINT_URL not set, action pipeline disabled")
	}
	deps.Actions = tools.NewActionRegistry()
	deps.Actions.RegisterAll(tools.DefaultActions()...)

	// Events
	deps.Hub = realtime.NewHub(log)

	// Services
	deps.Classifier = classify.NewClassifier(deps.Inference, classify.Config{
		Taxonomy:    cfg.Taxonomy,
		Temperature: cfg.ClassifyTemperature,
		ReplyTemp:   cfg.ReplyTemperature,
		Timeout:     time.Duration(cfg.InferenceTimeoutSec) * time.Second,
	}, log)

	deps.SyncEngine = sync.NewEngine(deps.Store, deps.Providers, deps.Classifier, deps.Hub, sync.Config{
		LabelPrefix: cfg.LabelPrefix,
		MaxMessages: cfg.SyncMaxMessages,
		DrainLimit:  cfg.PendingDrainSize,
	}, log)

	deps.MailService = mailops.NewService(deps.Store, deps.Providers, deps.Classifier, log)
	deps.Accounts = accounts.NewService(deps.Store, log)

	deps.ActionAgent = action.NewAgent(deps.Store, deps.Inference, deps.Gateway, deps.Actions, action.Config{
		MaxRetries:        cfg.ActionMaxRetries,
		ExtractionTimeout: time.Duration(cfg.ExtractionTimeoutSec) * time.Second,
	}, log)

	if err := reconcileAccounts(ctx, deps); err != nil {
		cleanup()
		return nil, nil, err
	}

	return deps, cleanup, nil
}

// reconcileAccounts loads the accounts file and upserts its entries. A
// missing file is fatal: an engine with no accounts has nothing to do.
func reconcileAccounts(ctx context.Context, deps *Dependencies) error {
	file, err := config.LoadAccounts(deps.Config.AccountsFile)
	if err != nil {
		return err
	}
	if _, err := deps.Accounts.Reconcile(ctx, file); err != nil {
		return err
	}
	if _, err := deps.Accounts.CleanupRemoved(ctx, file); err != nil {
		return err
	}
	return nil
}
