package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/admins"
	"storefront/internal/api"
	"storefront/internal/files"
	"storefront/internal/httpapi"
	"storefront/internal/ratelimit"
	"storefront/internal/session"
	"storefront/internal/users"
	"storefront/pkg/config"
	"storefront/pkg/db"
	"storefront/pkg/signedurl"
)

func main() {
	cfg := config.Load()

	// Without the bot token no request can be authenticated and no admin
	// check can be answered; refuse to start instead.
	if cfg.Telegram.BotToken == "" {
		log.Fatalf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.IsProd() && cfg.Session.Secret == "" {
		log.Fatalf("SESSION_SECRET is required in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer conn.Close()

	if cfg.MigrationsPath != "" {
		if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	var limiter ratelimit.Limiter = ratelimit.NewInMemory(time.Minute)
	rdb, err := db.OpenRedis(ctx, cfg)
	if err != nil {
		log.Printf("redis unavailable, rate limits are per instance err=%v", err)
	} else if rdb != nil {
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, time.Minute)
	}

	usersRepo := users.NewRepository(conn)
	adminOpts := admins.Options{
		Roles:         usersRepo,
		CacheTTL:      cfg.Admins.DecisionCacheTTL,
		LookupTimeout: cfg.Admins.LookupTimeout,
	}
	var notifier *admins.RedisNotifier
	if rdb != nil {
		notifier = admins.NewRedisNotifier(rdb)
		adminOpts.Notifier = notifier
	}
	authority := admins.NewAuthority(
		admins.NewCachedFileSet(cfg.Admins.IDsFile),
		admins.NewRepository(conn),
		adminOpts,
	)
	if notifier != nil {
		stopListen, err := notifier.Listen(ctx, authority)
		if err != nil {
			log.Printf("admin invalidation disabled, other instances will not be told of changes err=%v", err)
		} else {
			defer stopListen()
		}
	}
	if ids, err := authority.ListAll(ctx); err != nil {
		log.Printf("admin lists not readable at startup file=%s err=%v", cfg.Admins.IDsFile, err)
	} else {
		log.Printf("admin lists loaded file=%s entries=%d", cfg.Admins.IDsFile, len(ids))
	}

	sessions, err := session.NewBridge(session.Options{
		Secret:   cfg.Session.Secret,
		BotToken: cfg.Telegram.BotToken,
		TTL:      cfg.Session.TTL,
		Prod:     cfg.IsProd(),
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	gate, err := api.NewGate(api.GateOptions{
		BotToken:         cfg.Telegram.BotToken,
		MaxAge:           cfg.Telegram.InitDataMaxAge,
		AllowedPlatforms: cfg.Telegram.AllowedPlatforms,
		Admins:           authority,
		Sessions:         sessions,
	})
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	uploads, err := files.OpenDir(cfg.Uploads.Dir)
	if err != nil {
		log.Fatalf("uploads: %v", err)
	}
	defer uploads.Close()

	urlSecret := cfg.Uploads.URLSecret
	if urlSecret == "" {
		if cfg.IsProd() {
			log.Fatalf("UPLOAD_URL_SECRET is required in production")
		}
		urlSecret = cfg.Telegram.BotToken
	}
	signer, err := signedurl.New(urlSecret)
	if err != nil {
		log.Fatalf("signed urls: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:       cfg,
		Gate:      gate,
		Authority: authority,
		Sessions:  sessions,
		Users:     usersRepo,
		Uploads:   uploads,
		Signer:    signer,
		Limiter:   limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("http listening on %s env=%s", cfg.HTTPAddr, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
}
