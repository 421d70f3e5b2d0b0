package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMetricsMiddleware_ExposesCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Init()
	Init()

	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", PrometheusHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}

	RecordTransition("ENVIADO", "submitted")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`http_requests_total{endpoint="/ping",method="GET",status="204"}`,
		`attempt_transitions_total{reason="submitted",state="ENVIADO"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in metrics output", want)
		}
	}
}
