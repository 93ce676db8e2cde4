package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

// PushHandler manages browser push registrations. Registrations are keyed
// by endpoint URL; re-registering the same endpoint refreshes the keys.
type PushHandler struct {
	store out.PushSubscriptionStore
}

func NewPushHandler(store out.PushSubscriptionStore) *PushHandler {
	return &PushHandler{store: store}
}

func (h *PushHandler) Register(api fiber.Router) {
	subs := api.Group("/push-subscriptions")

	subs.Get("/", h.List)
	subs.Post("/", h.Create)
	subs.Delete("/", h.Delete)
}

func (h *PushHandler) List(c *fiber.Ctx) error {
	subs, err := h.store.ListPushSubscriptions(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, subs)
}

type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

func (h *PushHandler) Create(c *fiber.Ctx) error {
	var req pushSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed JSON")
	}
	if req.Endpoint == "" {
		return apperr.InvalidInput("endpoint", "must not be empty")
	}
	sub := &domain.PushSubscription{
		Endpoint: req.Endpoint,
		P256dh:   req.P256dh,
		Auth:     req.Auth,
	}
	if err := h.store.SavePushSubscription(c.Context(), sub); err != nil {
		return err
	}
	return response.Created(c, sub)
}

func (h *PushHandler) Delete(c *fiber.Ctx) error {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		return apperr.InvalidInput("endpoint", "query parameter is required")
	}
	if err := h.store.DeletePushSubscription(c.Context(), endpoint); err != nil {
		return err
	}
	return response.NoContent(c)
}
