package app

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"querydesk/pkg/logger"
	"querydesk/pkg/store"
)

// setupHTTPHandlers builds the root mux: versioned API plus the
// operational endpoints that sit outside the rate-limited surface.
func (a *App) setupHTTPHandlers() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !store.Ready() {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))

	mux.Handle("/", a.buildRouter())
	return mux
}

// startHTTP launches the listener and returns a channel delivering the
// terminal server error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	a.srv = &http.Server{
		Addr:    a.eff.Addr,
		Handler: a.setupHTTPHandlers(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", "addr", a.eff.Addr)
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
