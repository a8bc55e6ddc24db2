// Package bootstrap builds the components shared by the api and worker
// processes from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"studyroom/internal/billing"
	"studyroom/internal/config"
	"studyroom/internal/logging"
	"studyroom/internal/messaging"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/queue"
	"studyroom/internal/store"
	"studyroom/internal/template"
)

// Infra is the opened database and redis connections.
type Infra struct {
	DB    *store.DB
	Redis *store.Redis
}

// Open connects to Postgres and Redis and applies migrations when enabled.
// Redis is optional with the memory queue backend.
func Open(ctx context.Context, cfg config.App, log *slog.Logger) (*Infra, error) {
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, db.Client, log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	in := &Infra{DB: db}
	if cfg.QueueBackend == "memory" {
		return in, nil
	}
	rdb, err := store.Connect(ctx, cfg.RedisAddr, 5, time.Second)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	in.Redis = rdb
	return in, nil
}

func (in *Infra) Close() {
	_ = in.DB.Close()
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
}

func (in *Infra) redisClient() *redis.Client {
	if in.Redis == nil {
		return nil
	}
	return in.Redis.Client
}

// Directory returns the organization directory, caching settings in Redis
// when it is available.
func (in *Infra) Directory(cfg config.App, log *slog.Logger) *org.Directory {
	var cache org.Cache = org.NewMemoryCache()
	if c := in.redisClient(); c != nil {
		cache = org.NewRedisCache(c)
	}
	return org.NewDirectory(org.NewRepository(in.DB.Client), cache, cfg.SettingsCacheTTL, log)
}

// Wake returns the queue used to signal the drain worker.
func (in *Infra) Wake() queue.Queue {
	if c := in.redisClient(); c != nil {
		return queue.NewRedisQueue(c, queue.DefaultKey)
	}
	return queue.NewInMemory(64)
}

// Dispatcher wires the messaging providers, ledger and delivery log.
func Dispatcher(cfg config.App, db *sql.DB, dir *org.Directory, log *slog.Logger) *notify.Dispatcher {
	var ledger billing.Ledger = billing.Free{}
	if cfg.BillingEnabled {
		ledger = billing.NewRepository(db)
	}

	alimtalk := messaging.NewSolapi(messaging.SolapiConfig{
		BaseURL:   cfg.SolapiBaseURL,
		APIKey:    cfg.SolapiAPIKey,
		APISecret: cfg.SolapiAPISecret,
		PFID:      cfg.SolapiPFID,
		Sender:    cfg.SolapiSender,
	}, cfg.ProviderTimeout, log.With(logging.Component("solapi")))
	if alimtalk.Skip {
		log.Warn("solapi credentials missing, alimtalk runs in dev mode")
	}

	var email messaging.Sender
	if cfg.PostmarkServerToken != "" {
		email = messaging.NewEmail(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.PostmarkFrom, log.With(logging.Component("postmark")))
	}

	return notify.NewDispatcher(notify.Options{
		Directory: dir,
		Resolver:  template.NewResolver(dir, log),
		Alimtalk:  alimtalk,
		Email:     email,
		Monitor:   messaging.NewTelegram(cfg.TelegramBaseURL, cfg.TelegramBotToken, cfg.TelegramChatID, cfg.ProviderTimeout),
		Ledger:    ledger,
		Records:   notify.NewRecordRepository(db),
		Timeout:   cfg.ProviderTimeout,
		Logger:    log.With(logging.Component("notify")),
	})
}
