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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scribeflow/internal/api"
	"scribeflow/internal/auth"
	"scribeflow/internal/config"
	"scribeflow/internal/events"
	"scribeflow/internal/orchestrator"
	"scribeflow/internal/redis"
	"scribeflow/internal/remote"
	"scribeflow/internal/storage"
	"scribeflow/internal/store"
)

func main() {
	cfgPath := os.Getenv("SCRIBEFLOW_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := cfg.BasicConfig.DatabaseType
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	// Create necessary tables: accounts, user_tokens
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := storage.PurgeExpiredTokens(db, time.Now()); err != nil {
					log.Printf("purge tokens: %v", err)
				} else if n > 0 {
					log.Printf("purged %d expired token(s)", n)
				}
			}
		}
	}()

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	if err := authService.SyncAccounts(ctx, cfg.Accounts); err != nil {
		log.Fatalf("sync accounts: %v", err)
	}

	st := store.New(cfg.Settings)
	bus := events.NewBus(500)
	bus.Attach(st)
	if pub := events.NewRedisPublisher(rdb, uuid.NewString()); pub != nil {
		defer pub.Close()
		bus.AddSink(pub)
		go func() {
			err := pub.Listen(ctx, func(source string, event events.Event) {
				log.Printf("instance %s changed %s (job %s)", source, event.Kind, event.JobID)
			})
			if err != nil {
				log.Printf("listen for remote changes: %v", err)
			}
		}()
	}

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.RequestTimeout(),
	})
	svc := orchestrator.New(st, client, orchestrator.Options{
		PollInterval: cfg.Remote.PollInterval(),
		PollTimeout:  cfg.Remote.PollTimeout(),
		Deliverer:    orchestrator.BrowserDeliverer,
	})
	defer svc.Close()

	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			svc.UpdateSettings(next.Settings)
			if err := authService.SyncAccounts(ctx, next.Accounts); err != nil {
				log.Printf("sync accounts after reload: %v", err)
			}
			log.Printf("config reloaded")
		})
		if err != nil {
			log.Printf("watch config: %v", err)
		}
	}()

	handlers := api.NewHandler(svc, authService, bus)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
