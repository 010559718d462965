// Package routes wires the HTTP endpoints of the read surface.
package routes

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/papervault/handler"
	"github.com/collapsinghierarchy/papervault/pkc/custodian"
	"github.com/collapsinghierarchy/papervault/service"
)

// SetupRoutes wires all HTTP endpoints.
func SetupRoutes(svc *service.Service, cust *custodian.Custodian, log *logrus.Logger) http.Handler {
	if log == nil {
		log = logrus.New()
	}
	srv := handler.New(svc, cust)

	mux := http.NewServeMux()
	mux.Handle("/pv/v1/candidates", http.HandlerFunc(srv.Candidates))
	mux.Handle("/pv/v1/pubkey", http.HandlerFunc(srv.PublicKey))

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	chain := alice.New(logRequest(log))
	return chain.Then(mux)
}

// logRequest logs basic request information.
func logRequest(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("request")
		})
	}
}
