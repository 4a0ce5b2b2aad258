package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/events/{eventId}/is-registered", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/events/{eventId}/is-registered", "418"))
	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/"+id+"/is-registered", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/events/{eventId}/is-registered", "418"))
	assert.Equal(t, float64(3), after-before)
}

func TestRecordersExposeSeries(t *testing.T) {
	RecordRegistration("created")
	RecordPaymentProcessed("paid")
	RecordNotification("event_announcement", "sent")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `registrations_total{outcome="created"}`))
	assert.True(t, strings.Contains(body, `payments_processed_total{status="paid"}`))
	assert.True(t, strings.Contains(body, `notifications_total{kind="event_announcement",outcome="sent"}`))
}
