// Package response defines the wire envelope shared by every JSON endpoint.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every endpoint returns. Exactly one of Data and
// Error is set.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo is the structured error triple. Kind tells the client how to
// react (retry, reauth, fix configuration); Code names the exact failure.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries the paging window of a list response. Total counts the rows
// in this window, not the whole table; HasMore means the window was full
// and another page may exist.
type Meta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// =============================================================================
// Success builders
// =============================================================================

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// Accepted reports that work was queued; the outcome arrives on the event
// stream.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// =============================================================================
// Error builders
// =============================================================================

// Fail writes the error envelope with an explicit status. Handlers normally
// just return their error and let the app error handler map it; Fail is for
// the few places that must answer inline (middleware, stream setup).
func Fail(c *fiber.Ctx, status int, kind, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error:   &ErrorInfo{Kind: kind, Code: code, Message: message},
	})
}

// =============================================================================
// Pagination
// =============================================================================

// Pagination is the list window parsed from the query string.
type Pagination struct {
	Limit  int
	Offset int
}

// GetPagination reads limit/offset, clamping to sane bounds.
func GetPagination(c *fiber.Ctx, defaultLimit, maxLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// NewMeta builds the list meta for one returned window.
func NewMeta(returned int, p Pagination) *Meta {
	return &Meta{
		Total:   returned,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: returned == p.Limit,
	}
}
