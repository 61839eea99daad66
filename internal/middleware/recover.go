package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"challenge-system/internal/apperr"

	"github.com/sirupsen/logrus"
)

// Recoverer turns a panic in a handler into an internal error response.
func Recoverer(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.WithFields(logrus.Fields{
					"request_id": RequestID(r.Context()),
					"path":       r.URL.Path,
					"panic":      fmt.Sprint(rec),
					"stack":      string(debug.Stack()),
				}).Error("handler panicked")

				apperr.Write(w, apperr.Internal(fmt.Errorf("panic: %v", rec)))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
