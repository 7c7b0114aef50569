// cmd/apiserver/main.go
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

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/config"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/events"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/repository/postgresql"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/storage"
	httptransport "github.com/manish-singh-bisht/Remote-Job-Executor/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	adapter, err := storage.Open(ctx, cfg.Database.DSN, 0)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer adapter.Close(ctx)

	jobRepo := postgresql.NewJobRepository(adapter)
	queueRepo := postgresql.NewQueueRepository(adapter)

	bus := events.NewBus()
	jobSvc := service.NewJobService(jobRepo, adapter)
	queueSvc := service.NewQueueService(queueRepo, jobSvc, bus)

	handler := httptransport.NewHandler(jobSvc, queueSvc)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[http] listening addr=%s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[http] serve: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[http] shutdown: %v", err)
	}
	log.Println("apiserver stopped")
}
