package main

import (
	"context"
	"database/sql"
	"encoding/json"
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

	"github.com/sendbridge/delivery/internal/api"
	"github.com/sendbridge/delivery/internal/cache"
	"github.com/sendbridge/delivery/internal/callback"
	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/config"
	"github.com/sendbridge/delivery/internal/dispatch"
	"github.com/sendbridge/delivery/internal/ledger"
	"github.com/sendbridge/delivery/internal/queue"
	"github.com/sendbridge/delivery/internal/repo"
	"github.com/sendbridge/delivery/internal/retry"
	"github.com/sendbridge/delivery/internal/scheduler"
	"github.com/sendbridge/delivery/internal/service"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.LoadAll()
	if err != nil {
		log.Error("loading config failed", slog.Any("err", err))
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Error("opening postgres failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		log.Error("postgres unreachable", slog.Any("err", err))
		os.Exit(1)
	}

	var (
		dispatchLock cache.DispatchLock = cache.NoopDispatchLock{}
		dedup        callback.DedupMarker
		sentCache    cache.SentCache
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		dedup = rc
		sentCache = rc
		dispatchLock = cache.NewRedisDispatchLock(rdb, cfg.Dispatch.LockTTL)
	}

	q, err := queue.NewRabbitQueue(cfg.Queue.AMQPURL, log)
	if err != nil {
		log.Error("connecting to rabbitmq failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer q.Close()

	messages := repo.NewPostgresMessageRepo(db)
	broadcasts := repo.NewPostgresBroadcastRepo(db)
	led := ledger.New(db, log)
	ch := channel.NewHTTPChannel(cfg.Channel.BaseURL, cfg.Channel.Token, cfg.Channel.Timeout)

	dispatcher := dispatch.New(dispatch.Config{
		BatchSize:  cfg.Dispatch.BatchSize,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, broadcasts, ledger.AsCreator(led), ch, dispatchLock, log)

	policy := retry.NewPolicy(cfg.Retry.BackoffTable, cfg.Retry.PermanentCodes)
	retryRunner := retry.NewRunner(policy, messages, led, ch, cfg.Retry.BatchSize, log)

	retrySched, err := scheduler.New("retry", cfg.Retry.Interval, func(ctx context.Context) {
		retryRunner.Tick(ctx)
	}, log)
	if err != nil {
		log.Error("creating retry scheduler failed", slog.Any("err", err))
		os.Exit(1)
	}
	retrySched.Start()
	defer retrySched.Stop()

	q.Register(queue.JobDispatchBroadcast, dispatcher.HandleJob)
	q.Register(queue.JobRetryCycle, func(ctx context.Context, _ json.RawMessage) error {
		retryRunner.Tick(ctx)
		return nil
	})
	if err := q.StartConsumer(ctx, cfg.Queue.Workers); err != nil {
		log.Error("starting queue consumer failed", slog.Any("err", err))
		os.Exit(1)
	}

	broadcastSvc := service.NewBroadcastService(broadcasts, q, log)
	sender := service.NewSender(ledger.AsCreator(led), ch, cfg.Channel.ContentMax, log)
	if sentCache != nil {
		sender.WithSentCache(sentCache)
	}
	processor := callback.NewProcessor(messages, dedup, log)

	handler := api.NewHandler(broadcastSvc, sender, processor, retrySched, messages)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http server listening", slog.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", slog.Any("err", err))
	}
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
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
