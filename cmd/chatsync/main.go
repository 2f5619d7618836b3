package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatsync/internal/adapter"
	"chatsync/internal/config"
	"chatsync/internal/directory"
	"chatsync/internal/engine"
	"chatsync/internal/observability"
	"chatsync/internal/rtdb"
	"chatsync/internal/store"
)

// staticSession is the session/identity boundary for a single-user
// process; real hosts plug their own provider into store.New.
type staticSession struct {
	userID string
}

func (s staticSession) CurrentUserID() string { return s.userID }

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("chatsync")
		observability.Log.Fatal("config load failed", zap.Error(err))
	}

	observability.InitLogger(cfg.ServiceName)
	log := observability.Log
	defer log.Sync()

	var rstore rtdb.Store
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		rstore = rtdb.NewRedis(client, cfg.RedisPrefix, log)
	default:
		rstore = rtdb.NewMemory()
	}
	defer rstore.Close()

	ad := adapter.New(rstore, log, adapter.Options{
		OpTimeout:    cfg.OpTimeout,
		MaxRetries:   cfg.OpMaxRetries,
		RetryBackoff: cfg.OpBackoff,
	})
	dir := directory.New(ad, log)
	eng := engine.New(rstore, log)
	defer eng.Close()

	st := store.New(staticSession{userID: cfg.UserID}, dir, ad, eng, log)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(rstore))

	go func() {
		log.Info("observability server started", zap.String("addr", cfg.HTTPAddr))
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil {
			log.Error("observability server failed", zap.Error(err))
		}
	}()

	if cfg.UserID != "" {
		if err := st.LoadChats(context.Background()); err != nil {
			log.Error("initial chat load failed", zap.Error(err))
		}
	}

	log.Info("chatsync started",
		zap.String("backend", cfg.StoreBackend),
		zap.String("user_id", cfg.UserID),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	st.Reset()
}
