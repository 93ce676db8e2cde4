// Package http is the control-plane adapter: a fiber app exposing the
// store-backed mail surface, sync triggers and the push-event stream.
package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// QueryBool reads a tri-state boolean filter. Absent means "no filter",
// which is distinct from false.
func QueryBool(c *fiber.Ctx, key string) *bool {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	b := val == "true" || val == "1"
	return &b
}

// splitCSV parses a comma separated query value, dropping empties.
func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
