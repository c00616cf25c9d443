package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"go.uber.org/zap"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Get("/bad", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "validation error: url is required")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "not found")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: password authentication failed")
	})

	tests := []struct {
		path        string
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{path: "/bad", wantStatus: 400, wantCode: "validation_error", wantMessage: "validation error: url is required"},
		{path: "/missing", wantStatus: 404, wantCode: "not_found", wantMessage: "not found"},
		{path: "/boom", wantStatus: 500, wantCode: "internal_error", wantMessage: "internal server error"},
		{path: "/nope", wantStatus: 404, wantCode: "not_found", wantMessage: "Cannot GET /nope"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body map[string]string
			raw, _ := io.ReadAll(resp.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("json unmarshal error = %v, body=%s", err, raw)
			}
			if body["code"] != tt.wantCode {
				t.Fatalf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if body["error"] != tt.wantMessage {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantMessage)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		id, ok := observability.RequestIDFromContext(c.UserContext())
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(id)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "req-42" {
		t.Fatalf("context request id = %q, want req-42", body)
	}
	if got := resp.Header.Get(fiber.HeaderXRequestID); got != "req-42" {
		t.Fatalf("response header = %q, want req-42", got)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Fatal("a request id should be generated when none is sent")
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	if got := StatusCode(418); got != "request_error" {
		t.Fatalf("StatusCode(418) = %q, want request_error", got)
	}
	if got := StatusCode(502); got != "internal_error" {
		t.Fatalf("StatusCode(502) = %q, want internal_error", got)
	}
}
