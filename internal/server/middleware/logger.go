// Package middleware содержит промежуточные HTTP-обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Logger логирует каждый запрос кассы.
// Записывает: метод, путь, статус, длительность, request_id.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
			"remote":      r.RemoteAddr,
		})
		switch {
		case status >= 500:
			entry.Error("HTTP-запрос")
		case status >= 400:
			entry.Warn("HTTP-запрос")
		default:
			entry.Debug("HTTP-запрос")
		}
	})
}
