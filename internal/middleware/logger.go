package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request through log, without the query
// string: the stream endpoint carries the user message there.
func RequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	formatter := &chimiddleware.DefaultLogFormatter{Logger: log, NoColor: true}
	logRequests := chimiddleware.RequestLogger(formatter)

	return func(next http.Handler) http.Handler {
		logged := logRequests(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				logged.ServeHTTP(w, r)
				return
			}
			original := r.RequestURI
			r.RequestURI = r.URL.Path
			defer func() { r.RequestURI = original }()
			logged.ServeHTTP(w, r)
		})
	}
}
