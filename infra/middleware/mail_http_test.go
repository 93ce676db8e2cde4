package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

func newTestApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(zerolog.Nop()),
		DisableStartupMessage: true,
	})
	app.Use(Recover(zerolog.Nop()))
	app.Use(RequestID())
	return app
}

func decodeEnvelope(t *testing.T, body io.Reader) *response.Response {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var envelope response.Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (body %q)", err, raw)
	}
	return &envelope
}

func TestErrorHandlerMapsStructuredErrors(t *testing.T) {
	app := newTestApp()
	app.Get("/missing", func(c *fiber.Ctx) error {
		return apperr.NotFound("message")
	})
	app.Get("/rejected", func(c *fiber.Ctx) error {
		return apperr.AuthRejected("imap", nil)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp.Body)
	resp.Body.Close()
	if envelope.Success || envelope.Error == nil || envelope.Error.Code != apperr.CodeNotFound {
		t.Fatalf("envelope = %+v", envelope)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/rejected", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	envelope = decodeEnvelope(t, resp.Body)
	resp.Body.Close()
	if envelope.Error.Kind != string(apperr.KindAuthentication) {
		t.Fatalf("kind = %q, want authentication", envelope.Error.Kind)
	}
}

func TestErrorHandlerHidesUnstructuredErrors(t *testing.T) {
	app := newTestApp()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return io.ErrUnexpectedEOF
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp.Body)
	if envelope.Error.Message == io.ErrUnexpectedEOF.Error() {
		t.Fatal("raw error leaked to the client")
	}
	if envelope.Error.Code != apperr.CodeInternalError {
		t.Fatalf("code = %q, want internal", envelope.Error.Code)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	app := newTestApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp.Body)
	if envelope.Success || envelope.Error.Code != apperr.CodeNotFound {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	app := newTestApp()
	app.Get("/ping", func(c *fiber.Ctx) error {
		return response.OK(c, fiber.Map{"id": c.Locals("request_id")})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID not set")
	}

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want inbound id preserved", got)
	}
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	app := newTestApp()
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/panic", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp.Body)
	if envelope.Success || envelope.Error.Code != apperr.CodeInternalError {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestSecurityHeaders(t *testing.T) {
	app := newTestApp()
	app.Use(SecurityHeaders())
	app.Get("/ping", func(c *fiber.Ctx) error { return response.NoContent(c) })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	app := newTestApp()
	app.Use(NewRateLimiter(2, time.Minute).Handler())
	app.Get("/ping", func(c *fiber.Ctx) error { return response.NoContent(c) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("Retry-After not set")
	}
	envelope := decodeEnvelope(t, resp.Body)
	if envelope.Error == nil || envelope.Error.Code != apperr.CodeRateLimited {
		t.Fatalf("envelope = %+v, want rate limited", envelope)
	}
}
