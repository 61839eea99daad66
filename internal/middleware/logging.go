package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"challenge-system/pkg/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextKey string

const requestInfoKey contextKey = "request_info"

// RequestInfo is filled in while a request travels through the handler chain.
type RequestInfo struct {
	ID     string
	UserID string
}

func requestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey).(*RequestInfo)
	return info
}

func RequestID(ctx context.Context) string {
	if info := requestInfo(ctx); info != nil {
		return info.ID
	}
	return ""
}

// SetUserID records the authenticated caller for the request log line.
func SetUserID(ctx context.Context, userID string) {
	if info := requestInfo(ctx); info != nil {
		info.UserID = userID
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogger tags each request with an id, logs it once finished and records
// request metrics. m may be nil.
func RequestLogger(log *logrus.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			info := &RequestInfo{ID: requestID}
			w.Header().Set("X-Request-ID", requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

			latency := time.Since(start)
			route := routeTemplate(r)

			entry := log.WithFields(logrus.Fields{
				"request_id":  info.ID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rec.status,
				"latency_ms":  latency.Milliseconds(),
			})
			if info.UserID != "" {
				entry = entry.WithField("user_id", info.UserID)
			}
			switch {
			case rec.status >= 500:
				entry.Error("http_request")
			case rec.status >= 400:
				entry.Warn("http_request")
			default:
				entry.Info("http_request")
			}

			if m != nil {
				m.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
				m.RequestDuration.WithLabelValues(r.Method, route).Observe(latency.Seconds())
			}
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
