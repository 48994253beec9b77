// Command ccrelayd is the proxy server: it loads a bootstrap config, wires a
// ccrelay.Proxy, and serves the CLI-facing catch-all route alongside the
// admin facade, health check, and metrics endpoints.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccrelay/ccrelay"
	"github.com/ccrelay/ccrelay/internal/admin"
	"github.com/ccrelay/ccrelay/internal/logging"
	"github.com/ccrelay/ccrelay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfgPath := os.Getenv("CCRELAY_CONFIG")
	if cfgPath == "" {
		log.Fatal("CCRELAY_CONFIG must point at a bootstrap config file (JSON or YAML)")
	}

	cfg, err := ccrelay.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	proxy, err := ccrelay.New(*cfg)
	if err != nil {
		log.Fatalf("failed to start proxy: %v", err)
	}
	defer func() {
		proxy.LogSystemEvent(context.Background(), "INFO", "server_stopped", "ccrelayd shutting down")
		if err := proxy.Close(); err != nil {
			log.Printf("error closing proxy: %v", err)
		}
	}()

	proxy.LogSystemEvent(context.Background(), "INFO", "server_started", "ccrelayd "+version.Short()+" starting")

	r := newRouter(proxy, *cfg)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("ccrelayd %s listening on %s", version.Short(), cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("server error: %v", err)
	}
	log.Println("server stopped.")
}

func newRouter(proxy *ccrelay.Proxy, cfg ccrelay.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)

	r.Get("/healthz", healthzHandler(proxy))
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminToken != "" {
		adminHandlers := &admin.Handlers{Config: proxy.ConfigStore(), Logs: proxy.LogStore(), AuditLog: proxy.AuditLogStore()}
		r.Route("/admin", func(r chi.Router) {
			r.Use(corsMiddleware(cfg.CORSOrigins...))
			r.Use(admin.AuthMiddleware(cfg.AdminToken))
			r.Mount("/", adminHandlers.Routes())
		})
	} else {
		log.Println("warning: admin_token not set, /admin facade disabled")
	}

	// Catch-all: every other path is CLI-facing traffic forwarded to a
	// provider (§6). Must be registered last so /healthz, /metrics, and
	// /admin take precedence.
	r.Handle("/*", proxy)

	return r
}

func healthzHandler(proxy *ccrelay.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := proxy.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
