package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/app"
	"taskboard/api/internal/avatar"
	"taskboard/api/internal/config"
	"taskboard/api/internal/deadline"
	"taskboard/api/internal/email"
	"taskboard/api/internal/export"
	"taskboard/api/internal/hooks"
	"taskboard/api/internal/logging"
	"taskboard/api/internal/ratelimit"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBPool.MaxOpenConns,
		MaxIdleConns:    cfg.DBPool.MaxIdleConns,
		ConnMaxLifetime: cfg.DBPool.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBPool.ConnMaxIdleTime,
	})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts, pgfts)
	go searchService.ReindexAll(ctx)

	dispatcher := hooks.NewAsync(cfg.HookWorkers, cfg.HookQueueSize, 30*time.Second)

	opts := []app.Option{
		app.WithHooks(dispatcher),
		app.WithSearch(searchService),
		app.WithExporter(export.NewService(dataStore)),
		app.WithMailer(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})),
	}

	var hub *realtime.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using redis for sessions, presence and realtime fan-out")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer redisStore.Close()

		hub = newBridgedHub(ctx, redisStore.Client(), cfg.RealtimeChannel)
		opts = append(opts, app.WithSessions(redisStore))
	} else {
		log.Info("using postgres for sessions, realtime delivery is process-local")
		hub = realtime.NewHub(realtime.NewMemoryPresence())
	}
	defer hub.Close()
	opts = append(opts, app.WithEmitter(hub))

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		uploader, err := avatar.New(ctx, avatar.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.WithError(err).Warn("avatar storage unavailable, uploads disabled")
		} else {
			opts = append(opts, app.WithAvatars(uploader))
		}
	}

	service := app.New(cfg, dataStore, opts...)

	scanner := deadline.NewScanner(dataStore, service, cfg.DeadlineScanInterval, cfg.DeadlineWindow)
	go scanner.Run(ctx)

	authLimiter := ratelimit.New(cfg.AuthRatePerSecond, cfg.AuthRateBurst)
	defer authLimiter.Stop()

	var api *app.HTTPServer
	wsHandler := realtime.NewHandler(hub, func(r *http.Request) (string, error) {
		return api.Authenticate(r)
	}, cfg.CORSOrigin)
	api = app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithRealtime(wsHandler),
		app.WithAuthLimiter(authLimiter),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("taskboard api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("hooks did not drain")
	}
}

// newBridgedHub shares presence through Redis and relays every emitted frame
// to the other processes on channel.
func newBridgedHub(ctx context.Context, client *redis.Client, channel string) *realtime.Hub {
	bridge := realtime.NewRedisBridge(client, channel)
	hub := realtime.NewHub(realtime.NewRedisPresence(client), realtime.WithPublisher(bridge))
	go bridge.Run(ctx, hub.Deliver)
	return hub
}
