package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageHandler exposes messages: listing and reads, the local mutations
// that queue provider echoes, attachments, classification feedback and the
// action log.
type MessageHandler struct {
	mail in.MailService
}

func NewMessageHandler(mail in.MailService) *MessageHandler {
	return &MessageHandler{mail: mail}
}

func (h *MessageHandler) Register(api fiber.Router) {
	msgs := api.Group("/messages")

	msgs.Get("/", h.List)
	msgs.Get("/:id", h.Get)
	msgs.Get("/:id/body", h.Body)

	msgs.Post("/:id/read", h.MarkRead)
	msgs.Post("/:id/unread", h.MarkUnread)
	msgs.Post("/:id/trash", h.Trash)
	msgs.Post("/:id/restore", h.Restore)
	msgs.Delete("/:id", h.Delete)

	msgs.Get("/:id/attachments", h.ListAttachments)
	msgs.Post("/:id/feedback", h.RecordFeedback)
	msgs.Post("/:id/replies", h.SuggestReplies)

	msgs.Get("/:id/actions", h.ListActions)
	msgs.Delete("/:id/actions", h.ResetActions)

	api.Get("/attachments/:id", h.DownloadAttachment)
}

// List returns messages matching the query filters. Filters combine with
// AND; q goes through the full-text index when the store has one.
func (h *MessageHandler) List(c *fiber.Ctx) error {
	page := response.GetPagination(c, defaultPageSize, maxPageSize)
	filter := &domain.MessageFilter{
		AccountID: c.Query("account_id"),
		Folder:    c.Query("folder"),
		ThreadID:  c.Query("thread_id"),
		Text:      c.Query("q"),
		Tags:      splitCSV(c.Query("tag")),
		Unread:    QueryBool(c, "unread"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}

	messages, err := h.mail.ListMessages(c.Context(), filter)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, messages, response.NewMeta(len(messages), page))
}

func (h *MessageHandler) Get(c *fiber.Ctx) error {
	message, err := h.mail.GetMessage(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, message)
}

// Body returns both flavors, fetching from the provider on a cache miss.
func (h *MessageHandler) Body(c *fiber.Ctx) error {
	text, html, err := h.mail.GetMessageBody(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"text": text, "html": html})
}

// =============================================================================
// Local mutations
// =============================================================================

func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	if err := h.mail.MarkRead(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *MessageHandler) MarkUnread(c *fiber.Ctx) error {
	if err := h.mail.MarkUnread(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *MessageHandler) Trash(c *fiber.Ctx) error {
	if err := h.mail.Trash(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *MessageHandler) Restore(c *fiber.Ctx) error {
	if err := h.mail.Restore(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	if err := h.mail.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

// =============================================================================
// Attachments
// =============================================================================

// ListAttachments returns attachment metadata, pulling provider-hosted
// parts into the store on first access.
func (h *MessageHandler) ListAttachments(c *fiber.Ctx) error {
	attachments, err := h.mail.ListMessageAttachments(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, attachments)
}

// DownloadAttachment streams the stored bytes.
func (h *MessageHandler) DownloadAttachment(c *fiber.Ctx) error {
	attachment, err := h.mail.GetAttachment(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	mimeType := attachment.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, mimeType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", attachment.Filename))
	return c.Send(attachment.Data)
}

// =============================================================================
// Feedback, replies, action log
// =============================================================================

type feedbackRequest struct {
	CorrectedTags []string `json:"corrected_tags"`
}

// RecordFeedback stores a tag correction as a future few-shot example and
// rewrites the stored verdict.
func (h *MessageHandler) RecordFeedback(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidInput("body", "malformed JSON")
	}
	if err := h.mail.RecordFeedback(c.Context(), c.Params("id"), req.CorrectedTags); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"corrected_tags": req.CorrectedTags})
}

func (h *MessageHandler) SuggestReplies(c *fiber.Ctx) error {
	replies, err := h.mail.SuggestReplies(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"replies": replies})
}

func (h *MessageHandler) ListActions(c *fiber.Ctx) error {
	logs, err := h.mail.ListActionLogs(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, logs)
}

// ResetActions clears the per-message action log so the next sync pass
// runs the configured actions again.
func (h *MessageHandler) ResetActions(c *fiber.Ctx) error {
	if err := h.mail.ResetActionLogs(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}
