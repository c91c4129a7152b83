package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/valuecard/internal/server/respond"
)

// Recover перехватывает панику в обработчике и отвечает 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(log.Fields{
					"component": "panic_recovery",
					"panic":     fmt.Sprintf("%v", rec),
					"path":      r.URL.Path,
					"stack":     string(debug.Stack()),
				}).Error("ПАНИКА в обработчике — восстановлено")
				respond.Fail(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "внутренняя ошибка сервера")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
