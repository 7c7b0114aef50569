// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/config"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/events"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/remote"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/repository/postgresql"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/storage"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	adapter, err := storage.Open(ctx, cfg.Database.DSN, cfg.Worker.Concurrency)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer adapter.Close(ctx)

	if err := adapter.Migrate(ctx); err != nil {
		log.Fatalf("storage: migrate: %v", err)
	}

	jobRepo := postgresql.NewJobRepository(adapter)
	queueRepo := postgresql.NewQueueRepository(adapter)

	bus := events.NewBus()
	jobSvc := service.NewJobService(jobRepo, adapter)
	queueSvc := service.NewQueueService(queueRepo, jobSvc, bus)

	bus.On(events.JobStarted, func(e events.Event) {
		log.Printf("[event] kind=%s job_id=%d", e.Kind, e.Job.ID)
	})
	bus.On(events.JobCompleted, func(e events.Event) {
		log.Printf("[event] kind=%s job_id=%d", e.Kind, e.Job.ID)
	})
	bus.On(events.JobFailed, func(e events.Event) {
		log.Printf("[event] kind=%s job_id=%d err=%v", e.Kind, e.Job.ID, e.Err)
	})
	bus.On(events.JobStalled, func(e events.Event) {
		log.Printf("[event] kind=%s queue=%s count=%d", e.Kind, e.QueueName, len(e.Jobs))
	})

	exec, err := remote.New(remote.Config{
		Host:       cfg.SSH.Host,
		Port:       cfg.SSH.Port,
		Username:   cfg.SSH.Username,
		Password:   cfg.SSH.Password,
		PrivateKey: []byte(cfg.SSH.PrivateKey),
		Passphrase: cfg.SSH.Passphrase,
		WorkingDir: cfg.SSH.WorkingDir,
	})
	if err != nil {
		log.Fatalf("remote: %v", err)
	}

	if _, err := queueSvc.WaitUntilReady(ctx, cfg.Queue.Name, defaultQueueOptions(cfg)); err != nil {
		log.Fatalf("queue: %v", err)
	}

	processor := worker.NewProcessor(jobSvc, exec, bus)
	pool := worker.NewPool(worker.Config{
		QueueName:      cfg.Queue.Name,
		Concurrency:    cfg.Worker.Concurrency,
		PollInterval:   cfg.Worker.PollInterval,
		StalledTimeout: cfg.Worker.StalledTimeout,
	}, jobSvc, queueSvc, processor, exec, adapter)

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker: start: %v", err)
	}

	log.Printf("[worker] config queue=%s concurrency=%d poll_interval=%s stalled_timeout=%s ssh_host=%s",
		cfg.Queue.Name, cfg.Worker.Concurrency, cfg.Worker.PollInterval, cfg.Worker.StalledTimeout, cfg.SSH.Host,
	)

	<-ctx.Done()
	pool.Stop()
	log.Println("worker stopped")
}

func defaultQueueOptions(cfg *config.Config) entity.JobOptions {
	maxAttempts := cfg.Queue.MaxAttempts
	keepLogs := cfg.Queue.KeepLogs
	return entity.JobOptions{MaxAttempts: &maxAttempts, KeepLogs: &keepLogs}
}
