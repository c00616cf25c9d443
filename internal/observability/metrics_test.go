package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncWebhookDelivery("task_completed", true)
	metrics.IncWebhookDelivery("TASK_COMPLETED", false)
	metrics.IncWebhookDelivery("task_completed", false)
	metrics.ObserveWebhookDuration("task_completed", 120*time.Millisecond)
	metrics.IncDeliveryJob("retried")
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncTokenRefresh("invalid_token")
	metrics.IncDeliveryPublish("scanner", true)
	metrics.IncDeliveryPublish("api", false)

	if got := testutil.ToFloat64(metrics.webhookDeliveriesTotal.WithLabelValues("task_completed", "delivered")); got != 1 {
		t.Fatalf("webhook_deliveries_total{delivered} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.webhookDeliveriesTotal.WithLabelValues("task_completed", "failed")); got != 2 {
		t.Fatalf("webhook_deliveries_total{failed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryJobsTotal.WithLabelValues("retried")); got != 1 {
		t.Fatalf("delivery_jobs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryPublishTotal.WithLabelValues("api", "failed")); got != 1 {
		t.Fatalf("delivery_publish_total{api,failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryPublishTotal.WithLabelValues("scanner", "ok")); got != 1 {
		t.Fatalf("delivery_publish_total{scanner,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tokenRefreshTotal.WithLabelValues("invalid_token")); got != 1 {
		t.Fatalf("token_refresh_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncWebhookDelivery("task_completed", true)
	metrics.IncDeliveryJob("completed")
	metrics.IncTokenRefresh("ok")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Post("/v1/auth/refresh", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	if _, err := app.Test(httptest.NewRequest("POST", "/v1/auth/refresh", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if _, err := app.Test(httptest.NewRequest("GET", "/boom", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("POST", "/v1/auth/refresh", "401")); got != 1 {
		t.Fatalf("http_requests_total{401} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total{500} = %v, want 1", got)
	}
}
