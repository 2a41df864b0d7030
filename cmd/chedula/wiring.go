package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jasrulete/AI-Scheduler/internal/api"
	"github.com/jasrulete/AI-Scheduler/internal/assistant"
	"github.com/jasrulete/AI-Scheduler/internal/auth"
	"github.com/jasrulete/AI-Scheduler/internal/chat"
	"github.com/jasrulete/AI-Scheduler/internal/config"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/db"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
	"github.com/jasrulete/AI-Scheduler/internal/store/rabbitmq"
	"github.com/jasrulete/AI-Scheduler/internal/store/redisstore"
	"gorm.io/gorm"
)

// app is everything a bridge process owns.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	browsing string

	rds       *redisstore.Store
	gdb       *gorm.DB
	publisher *rabbitmq.Publisher

	cache   datasync.Cache
	sync    *datasync.Synchronizer
	session *assistant.Session
}

func (a *app) needsRedis() bool {
	return a.cfg.StorageDriver == "redis" || a.cfg.SyncMode == "queue"
}

func (a *app) needsDB() bool {
	return a.cfg.StorageDriver == "sql" || a.cfg.SyncMode == "queue"
}

func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, browsing: cfg.BrowsingSession}
	if a.browsing == "" {
		a.browsing = uuid.NewString()
		logger.Info("new browsing session", "browsing_session", a.browsing)
	}

	if a.needsRedis() {
		a.rds = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := a.rds.Ping(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	if a.needsDB() {
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			a.close()
			return nil, err
		}
		a.gdb = gdb
		if err := chat.Migrate(gdb); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate chat tables: %w", err)
		}
		if err := datasync.NewJobRepo(gdb).Migrate(); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate job table: %w", err)
		}
	}
	return a, nil
}

func (a *app) storage() chat.Storage {
	switch a.cfg.StorageDriver {
	case "redis":
		return a.rds.Session(a.browsing, a.cfg.SessionTTL)
	case "sql":
		return chat.NewRepo(a.gdb).Storage(a.browsing)
	default:
		return chat.NewMemoryStorage()
	}
}

// buildApp wires the full bridge: channel, store, sync and their backends.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenSource(cfg.AccessToken, cfg.UserID, cfg.JWTSecret)

	if a.rds != nil {
		a.cache = a.rds.Collections(0)
	} else {
		a.cache = datasync.NewMemoryCache()
	}

	var dispatcher datasync.Dispatcher
	switch cfg.SyncMode {
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("rabbit publisher: %w", err)
		}
		a.publisher = pub
		dispatcher = datasync.NewQueueDispatcher(datasync.NewJobRepo(a.gdb), pub)
	default:
		dispatcher = datasync.NewRefresher(api.NewClient(cfg.APIBaseURL, tokens), a.cache)
	}
	a.sync = datasync.NewSynchronizer(dispatcher, logger)

	store, err := chat.NewStore(chat.Options{
		Storage:       a.storage(),
		Syncer:        a.sync,
		DedupCapacity: cfg.DedupCapacity,
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	ch := realtime.NewChannel(realtime.Config{
		URL: cfg.ChatURL(),
		Backoff: realtime.Backoff{
			Base:        cfg.ReconnectDelay,
			Multiplier:  2,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
		PingInterval: cfg.PingInterval,
		AuthTimeout:  cfg.AuthTimeout,
	}, nil, logger)

	a.session, err = assistant.NewSession(assistant.Options{
		Channel: ch,
		Store:   store,
		Sync:    a.sync,
		Tokens:  tokens,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.rds != nil {
		_ = a.rds.Close()
	}
	if a.gdb != nil {
		if sqlDB, err := a.gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

const shutdownTimeout = 10 * time.Second
