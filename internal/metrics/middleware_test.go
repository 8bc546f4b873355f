package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "/run")

	before := testutil.ToFloat64(EndpointResponses.WithLabelValues("/run", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues("/run", "418")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(EndpointDuration, "endpoint_duration_seconds"), 1)
}

func TestMiddlewareDefaultStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}), "/device")

	before := testutil.ToFloat64(EndpointResponses.WithLabelValues("/device", "200"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/device", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(EndpointResponses.WithLabelValues("/device", "200")))
}
