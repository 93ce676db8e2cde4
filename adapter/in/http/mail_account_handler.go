package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

// Triggered runs detach from the request; this bounds them instead.
const triggeredRunTimeout = 10 * time.Minute

// AccountHandler exposes configured accounts, their sync state, the manual
// sync/reclassify triggers and the per-account trusted-sender list.
type AccountHandler struct {
	accounts in.AccountService
	mail     in.MailService
	sync     in.SyncService
	log      zerolog.Logger
}

func NewAccountHandler(accounts in.AccountService, mail in.MailService, sync in.SyncService, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		mail:     mail,
		sync:     sync,
		log:      log.With().Str("handler", "accounts").Logger(),
	}
}

func (h *AccountHandler) Register(api fiber.Router) {
	accounts := api.Group("/accounts")

	accounts.Get("/", h.List)
	accounts.Get("/:id", h.Get)
	accounts.Get("/:id/status", h.Status)

	accounts.Post("/:id/sync", h.TriggerSync)
	accounts.Post("/:id/reclassify", h.TriggerReclassify)

	accounts.Get("/:id/trusted-senders", h.ListTrustedSenders)
	accounts.Post("/:id/trusted-senders", h.AddTrustedSender)
	accounts.Delete("/:id/trusted-senders", h.RemoveTrustedSender)

	api.Post("/sync", h.TriggerSyncAll)
}

func (h *AccountHandler) List(c *fiber.Ctx) error {
	accounts, err := h.accounts.ListAccounts(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, accounts)
}

func (h *AccountHandler) Get(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, account)
}

// Status reports the sync cursor and any echoes that exhausted their
// retries and now need operator attention.
func (h *AccountHandler) Status(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	failed, err := h.accounts.ListFailedOperations(c.Context(), account.ID)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{
		"account_id":        account.ID,
		"email":             account.Email,
		"provider":          account.Provider,
		"last_sync":         account.LastSync,
		"failed_operations": failed,
	})
}

// =============================================================================
// Sync triggers
// =============================================================================

// TriggerSync starts a sync run in the background. Progress and the final
// result arrive on the event stream; concurrent triggers for the same
// account coalesce into one run.
func (h *AccountHandler) TriggerSync(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	max := c.QueryInt("max", 0)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggeredRunTimeout)
		defer cancel()
		if _, err := h.sync.Sync(ctx, account.ID, max); err != nil {
			h.log.Error().Err(err).Str("account_id", account.ID).Msg("triggered sync failed")
		}
	}()

	return response.Accepted(c, fiber.Map{"account_id": account.ID, "status": "started"})
}

func (h *AccountHandler) TriggerSyncAll(c *fiber.Ctx) error {
	max := c.QueryInt("max", 0)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggeredRunTimeout)
		defer cancel()
		h.sync.SyncAll(ctx, max)
	}()

	return response.Accepted(c, fiber.Map{"status": "started"})
}

// TriggerReclassify reruns classification over stored messages without
// touching the sync cursor.
func (h *AccountHandler) TriggerReclassify(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	max := c.QueryInt("max", 0)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggeredRunTimeout)
		defer cancel()
		if _, err := h.sync.Reclassify(ctx, account.ID, max); err != nil {
			h.log.Error().Err(err).Str("account_id", account.ID).Msg("triggered reclassify failed")
		}
	}()

	return response.Accepted(c, fiber.Map{"account_id": account.ID, "status": "started"})
}

// =============================================================================
// Trusted senders
// =============================================================================

type trustedSenderRequest struct {
	Sender string `json:"sender"`
}

func (h *AccountHandler) ListTrustedSenders(c *fiber.Ctx) error {
	senders, err := h.mail.ListTrustedSenders(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, senders)
}

func (h *AccountHandler) AddTrustedSender(c *fiber.Ctx) error {
	var req trustedSenderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed JSON")
	}
	if err := h.mail.AddTrustedSender(c.Context(), c.Params("id"), req.Sender); err != nil {
		return err
	}
	return response.Created(c, fiber.Map{"sender": req.Sender})
}

func (h *AccountHandler) RemoveTrustedSender(c *fiber.Ctx) error {
	sender := c.Query("sender")
	if sender == "" {
		return apperr.InvalidInput("sender", "query parameter is required")
	}
	if err := h.mail.RemoveTrustedSender(c.Context(), c.Params("id"), sender); err != nil {
		return err
	}
	return response.NoContent(c)
}
