package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/taskflow/internal/auth"
	"github.com/kursadbilgin/taskflow/internal/transport"
	"go.uber.org/zap"
)

const handlerTestSecret = "handler-test-secret-0123456789abcdef"

// testAPI mounts every route group on a fresh app with a real access-token
// middleware so handlers see authenticated user ids.
type testAPI struct {
	app    *fiber.App
	issuer *auth.TokenIssuer
}

type testServices struct {
	auth          AuthService
	subscriptions SubscriptionService
	notifications NotificationService
}

func newTestAPI(t *testing.T, svcs testServices) *testAPI {
	t.Helper()

	issuer, err := auth.NewTokenIssuer(handlerTestSecret, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	app.Use(transport.RequestID())
	requireAuth := auth.RequireAccessToken(issuer)

	if svcs.auth != nil {
		if err := RegisterAuthRoutes(app, svcs.auth, requireAuth); err != nil {
			t.Fatalf("RegisterAuthRoutes() error = %v", err)
		}
	}
	if svcs.subscriptions != nil {
		if err := RegisterWebhookRoutes(app, svcs.subscriptions, requireAuth); err != nil {
			t.Fatalf("RegisterWebhookRoutes() error = %v", err)
		}
	}
	if svcs.notifications != nil {
		if err := RegisterNotificationRoutes(app, svcs.notifications, requireAuth); err != nil {
			t.Fatalf("RegisterNotificationRoutes() error = %v", err)
		}
	}

	return &testAPI{app: app, issuer: issuer}
}

func (a *testAPI) tokenFor(t *testing.T, userID string) string {
	t.Helper()

	token, _, err := a.issuer.IssueAccessToken(userID, "session-"+userID)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return token
}

// do sends a JSON request; an empty token sends no Authorization header.
func (a *testAPI) do(t *testing.T, method string, path string, token string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func decodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v, body=%s", err, string(body))
	}
	return parsed
}
