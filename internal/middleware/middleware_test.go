package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"challenge-system/internal/apperr"
	"challenge-system/pkg/logger"
	"challenge-system/pkg/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New("info", &buf)
	m := metrics.New()

	router := mux.NewRouter()
	router.Use(RequestLogger(log, m))
	router.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		SetUserID(r.Context(), "user_42")
		assert.NotEmpty(t, RequestID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/9", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http_request", line["message"])
	assert.Equal(t, "user_42", line["user_id"])
	assert.Equal(t, float64(http.StatusTeapot), line["status_code"])
	assert.Equal(t, "warning", line["level"])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/items/{id}", "418")))
}

func TestRequestLoggerKeepsIncomingRequestID(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RequestLogger(logger.Discard(), nil))
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc-123", RequestID(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverer(t *testing.T) {
	handler := Recoverer(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret connection string")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apperr.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.KindInternal, body.Error)
	assert.NotContains(t, rec.Body.String(), "secret")
}
