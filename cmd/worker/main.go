package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/api"
	"github.com/jasrulete/AI-Scheduler/internal/auth"
	"github.com/jasrulete/AI-Scheduler/internal/config"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/db"
	"github.com/jasrulete/AI-Scheduler/internal/logging"
	"github.com/jasrulete/AI-Scheduler/internal/store/rabbitmq"
	"github.com/jasrulete/AI-Scheduler/internal/store/redisstore"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxRetries = 3
	retryDelay = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel).With("component", "worker")

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	jobs := datasync.NewJobRepo(gdb)
	if err := jobs.Migrate(); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	tokens := auth.NewTokenSource(cfg.AccessToken, cfg.UserID, cfg.JWTSecret)
	refresher := datasync.NewRefresher(api.NewClient(cfg.APIBaseURL, tokens), rds.Collections(0))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Error("rabbit dial", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("rabbit channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		logger.Error("queue declare", "error", err)
		os.Exit(1)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerPoolSize()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Error("qos", "error", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error("consume", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			log := logger.With("worker", workerID)
			for d := range deliveries {
				m, err := rabbitmq.DecodeJob(d.Body)
				if err != nil {
					log.Warn("bad message", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, log, jobs, refresher, m); err != nil {
					attempt := rabbitmq.RetryCount(d.Headers)
					log.Warn("job failed", "job", m.JobID, "collection", m.Collection,
						"cost", time.Since(start), "retry", attempt, "error", err)
					if attempt < maxRetries {
						rerr := rabbitmq.Retry(ctx, ch, cfg.RabbitQueue, d, retryDelay)
						if rerr == nil {
							_ = d.Ack(false)
							continue
						}
						log.Error("retry publish failed", "job", m.JobID, "error", rerr)
					}
					// dead-letter
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Error("ack failed", "job", m.JobID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

func handleJob(ctx context.Context, log *slog.Logger, jobs *datasync.JobRepo, refresher *datasync.Refresher, m rabbitmq.JobMessage) error {
	jobStart := time.Now()

	t0 := time.Now()
	_ = jobs.UpdateJobStatusRunning(ctx, m.JobID)
	updateCost := time.Since(t0)

	t1 := time.Now()
	n, err := refresher.Run(ctx, m.Collection)
	fetchCost := time.Since(t1)
	if err != nil {
		_ = jobs.MarkJobFailed(ctx, m.JobID, err.Error())
		return err
	}

	t2 := time.Now()
	if err := jobs.MarkJobSucceeded(ctx, m.JobID, n); err != nil {
		return err
	}
	markCost := time.Since(t2)

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Info("job_timing", "job", m.JobID, "collection", m.Collection, "update", updateCost,
			"fetch", fetchCost, "markSucc", markCost, "total", total, "bytes", n)
	}
	return nil
}
