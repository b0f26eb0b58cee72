// Package api assembles the HTTP router.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"querydesk/pkg/api/handlers"
	"querydesk/pkg/logger"
	"querydesk/pkg/store"
)

// Deps is everything the router serves.
type Deps struct {
	QueryActions *handlers.QueryActions
	RateLimit    RateLimit
}

// NewRouter builds the versioned router with logging and rate limiting
// applied to the API subtree.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(requestLogMiddleware)
	v1.Use(rateLimitMiddleware(&limiterPool{cfg: deps.RateLimit}))
	deps.QueryActions.Register(v1)

	return r
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}
