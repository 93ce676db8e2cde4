package http

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

// DraftHandler exposes draft composition: CRUD, file attachment and send.
type DraftHandler struct {
	mail  in.MailService
	store out.Store
}

func NewDraftHandler(mail in.MailService, store out.Store) *DraftHandler {
	return &DraftHandler{mail: mail, store: store}
}

func (h *DraftHandler) Register(api fiber.Router) {
	drafts := api.Group("/drafts")

	drafts.Get("/", h.List)
	drafts.Post("/", h.Create)
	drafts.Get("/:id", h.Get)
	drafts.Put("/:id", h.Update)
	drafts.Delete("/:id", h.Delete)
	drafts.Post("/:id/send", h.Send)

	drafts.Get("/:id/attachments", h.ListAttachments)
	drafts.Post("/:id/attachments", h.UploadAttachment)
	drafts.Delete("/:id/attachments/:attachmentId", h.DeleteAttachment)
}

func (h *DraftHandler) List(c *fiber.Ctx) error {
	accountID := c.Query("account_id")
	if accountID == "" {
		return apperr.InvalidInput("account_id", "query parameter is required")
	}
	drafts, err := h.mail.ListDrafts(c.Context(), accountID)
	if err != nil {
		return err
	}
	return response.OK(c, drafts)
}

func (h *DraftHandler) Create(c *fiber.Ctx) error {
	var draft domain.Draft
	if err := c.BodyParser(&draft); err != nil {
		return apperr.InvalidInput("body", "malformed JSON")
	}
	draft.ID = ""
	if err := h.mail.SaveDraft(c.Context(), &draft); err != nil {
		return err
	}
	return response.Created(c, &draft)
}

func (h *DraftHandler) Get(c *fiber.Ctx) error {
	draft, err := h.mail.GetDraft(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, draft)
}

func (h *DraftHandler) Update(c *fiber.Ctx) error {
	var draft domain.Draft
	if err := c.BodyParser(&draft); err != nil {
		return apperr.InvalidInput("body", "malformed JSON")
	}
	// The path owns the identity; reject silent cross-draft writes.
	id := c.Params("id")
	if draft.ID != "" && draft.ID != id {
		return apperr.InvalidInput("id", "body and path disagree")
	}
	draft.ID = id
	if _, err := h.mail.GetDraft(c.Context(), id); err != nil {
		return err
	}
	if err := h.mail.SaveDraft(c.Context(), &draft); err != nil {
		return err
	}
	return response.OK(c, &draft)
}

func (h *DraftHandler) Delete(c *fiber.Ctx) error {
	if err := h.mail.DeleteDraft(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

// Send builds the MIME message, hands it to the account's provider and
// removes the draft.
func (h *DraftHandler) Send(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.mail.SendDraft(c.Context(), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"draft_id": id, "status": "sent"})
}

// =============================================================================
// Draft attachments
// =============================================================================

func (h *DraftHandler) ListAttachments(c *fiber.Ctx) error {
	if _, err := h.mail.GetDraft(c.Context(), c.Params("id")); err != nil {
		return err
	}
	attachments, err := h.store.ListDraftAttachments(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, attachments)
}

// UploadAttachment accepts one multipart file field named "file".
func (h *DraftHandler) UploadAttachment(c *fiber.Ctx) error {
	draft, err := h.mail.GetDraft(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperr.InvalidInput("file", "multipart file field is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return apperr.Internal("cannot open uploaded file", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return apperr.Internal("cannot read uploaded file", err)
	}

	attachment := &domain.Attachment{
		DraftID:  draft.ID,
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get(fiber.HeaderContentType),
		Size:     int64(len(data)),
		Data:     data,
	}
	if err := h.store.SaveAttachment(c.Context(), attachment); err != nil {
		return err
	}
	// Echo metadata only; the bytes just came from the client.
	attachment.Data = nil
	return response.Created(c, attachment)
}

func (h *DraftHandler) DeleteAttachment(c *fiber.Ctx) error {
	attachment, err := h.store.GetAttachment(c.Context(), c.Params("attachmentId"))
	if err != nil {
		return err
	}
	if attachment.DraftID != c.Params("id") {
		return apperr.NotFound("attachment")
	}
	if err := h.store.DeleteAttachment(c.Context(), attachment.ID); err != nil {
		return err
	}
	return response.NoContent(c)
}
