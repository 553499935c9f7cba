package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ent0n29/navi/internal/config"
	"github.com/ent0n29/navi/internal/engine"
	"github.com/ent0n29/navi/internal/httpapi"
	"github.com/ent0n29/navi/internal/observability"
	"github.com/ent0n29/navi/internal/plan"
	"github.com/ent0n29/navi/internal/runtime"
	"github.com/ent0n29/navi/internal/session"
	"github.com/ent0n29/navi/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	if store != nil {
		defer store.Close()
		log.Printf("task store: postgres")
	} else {
		log.Printf("task store: in-memory")
	}

	registry := tasks.NewRegistry()
	registry.SetStore(store)
	registry.SetMaxSubscribers(cfg.MaxSubscribers)
	registry.SetEventHistoryLimit(cfg.EventHistoryMax)

	process, err := engine.New(engine.Config{Mode: cfg.EngineMode, HTTPURL: cfg.EngineHTTPURL})
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	log.Printf("engine: %s", cfg.EngineMode)

	svc := runtime.New(runtime.Config{TaskTimeout: cfg.TaskTimeout}, registry, process, metrics)
	plans := plan.NewCoordinator(registry)
	plans.SetMaxSubscribers(cfg.MaxSubscribers)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		for _, task := range svc.ListTasks(s.ID, 0) {
			if task.Terminal() {
				continue
			}
			svc.Cancel(task.ID, "Session expired.")
		}
	})

	api := httpapi.New(cfg, sessions, registry, svc, plans, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("task drain incomplete: %v", err)
	}

	log.Printf("shutdown complete")
}
