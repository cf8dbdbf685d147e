package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/salinassolar/crm-messaging/internal/api"
	"github.com/salinassolar/crm-messaging/internal/cache"
	"github.com/salinassolar/crm-messaging/internal/client"
	"github.com/salinassolar/crm-messaging/internal/config"
	"github.com/salinassolar/crm-messaging/internal/dispatch"
	"github.com/salinassolar/crm-messaging/internal/model"
	"github.com/salinassolar/crm-messaging/internal/repo"
	"github.com/salinassolar/crm-messaging/internal/scheduler"
	"github.com/salinassolar/crm-messaging/internal/sender"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.LoadAll()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	messages, contacts, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	receipts := openReceiptCache(cfg, log)
	senders := buildSenders(cfg, log)

	d, err := dispatch.New(messages, senders, dispatch.Config{
		TickInterval:  cfg.Scheduler.Interval,
		SendIntervals: cfg.Channels.SendIntervals,
		SendTimeout:   cfg.Scheduler.SendTimeout,
	}, log)
	if err != nil {
		log.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	d.WithSentHook(func(ctx context.Context, msg model.QueuedMessage, externalID string) {
		if err := receipts.StoreReceipt(ctx, msg.ID, msg.Channel, externalID, time.Now().UTC()); err != nil {
			log.Warn("failed to cache delivery receipt", "message_id", msg.ID, "error", err)
		}
	})

	sched, err := scheduler.New(cfg.Scheduler.Interval, d.Tick)
	if err != nil {
		log.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	h := api.NewHandler(sched, messages, contacts, cfg.Window.HumanAgent)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(h)),
	}

	go func() {
		log.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}

func openStore(cfg *config.Config) (repo.MessageRepository, repo.ContactRepository, func(), error) {
	if cfg.Database.UseMemory {
		return repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo(), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return repo.NewPostgresMessageRepo(db), repo.NewPostgresContactRepo(db), func() { _ = db.Close() }, nil
}

func openReceiptCache(cfg *config.Config, log *slog.Logger) cache.ReceiptCache {
	if !cfg.Redis.Enabled {
		log.Info("redis not configured, delivery receipts disabled")
		return cache.Noop{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return cache.NewRedisCache(rdb, cfg.Redis.TTL)
}

// buildSenders registers a sender per channel whose vendor credentials are
// configured. A channel without a sender stays queued until one appears.
func buildSenders(cfg *config.Config, log *slog.Logger) sender.Registry {
	reg := sender.Registry{}

	if cfg.Vendors.Semaphore.Enabled() {
		reg[model.ChannelSMS] = client.NewSemaphoreClient(
			cfg.Vendors.Semaphore.URL,
			cfg.Vendors.Semaphore.APIKey,
			cfg.Vendors.Semaphore.SenderName,
		)
	}
	if cfg.Vendors.Resend.Enabled() {
		reg[model.ChannelEmail] = client.NewResendClient(
			cfg.Vendors.Resend.URL,
			cfg.Vendors.Resend.APIKey,
			cfg.Vendors.Resend.From,
		)
	}
	if cfg.Vendors.Meta.Enabled() {
		meta := client.NewMetaClient(
			cfg.Vendors.Meta.URL,
			cfg.Vendors.Meta.PageID,
			cfg.Vendors.Meta.AccessToken,
		)
		reg[model.ChannelFacebook] = meta
		reg[model.ChannelInstagram] = meta
	}

	for _, ch := range model.Channels {
		if _, ok := reg[ch]; !ok {
			log.Warn("no sender configured for channel", "channel", ch)
		}
	}
	return reg
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
