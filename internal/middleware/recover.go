package middleware

import (
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/pkg/utils"
)

// Recover turns a handler panic into the structured internal error body.
// The panic value and stack go to the log only.
func Recover(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				log.WithFields(logrus.Fields{
					"request_id": chimiddleware.GetReqID(r.Context()),
					"panic":      rvr,
					"stack":      string(debug.Stack()),
				}).Error("handler panicked")

				// A hijacked socket has no response to write.
				if r.Header.Get("Connection") == "Upgrade" {
					return
				}
				utils.RespondError(w, http.StatusInternalServerError, string(diet.KindInternal), diet.PublicMessage(diet.KindInternal))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
