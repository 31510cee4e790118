package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ludoarena/battle-coordinator/internal/api"
	"github.com/ludoarena/battle-coordinator/internal/battle"
	appcfg "github.com/ludoarena/battle-coordinator/internal/config"
	"github.com/ludoarena/battle-coordinator/internal/ledger"
	"github.com/ludoarena/battle-coordinator/internal/obslog"
	"github.com/ludoarena/battle-coordinator/internal/proofs"
	"github.com/ludoarena/battle-coordinator/internal/relay"
	"github.com/ludoarena/battle-coordinator/internal/review"
	"github.com/ludoarena/battle-coordinator/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, reading environment directly")
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	opts, err := battle.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}

	wallet, err := ledger.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ledger init error: %v", err)
	}

	tariff, err := battle.LoadTariff(cfg.TariffFile)
	if err != nil {
		log.Fatalf("tariff error: %v", err)
	}

	reviewQ := review.NewClient(cfg.ReviewWebhookURL, review.WithAuthToken(cfg.ReviewAuthToken))

	store := battle.NewStore(rdb)
	engine := battle.NewEngine(store, wallet, tariff, reviewQ)

	var presigner *proofs.Presigner
	if cfg.S3Bucket != "" {
		presigner, err = proofs.New(context.Background(), proofs.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			AccessKeySecret: cfg.S3AccessKeySecret,
			TTL:             time.Duration(cfg.PresignTTLSec) * time.Second,
		})
		if err != nil {
			log.Fatalf("proof storage init error: %v", err)
		}
	}

	reconciler := worker.NewReconciler(store, wallet, wallet)
	if err := reconciler.Start(context.Background()); err != nil {
		log.Fatalf("reconciler start error: %v", err)
	}

	var fwd *relay.Forwarder
	if cfg.RelayWSURL != "" {
		fwd = relay.NewForwarder(cfg.RelayWSURL, rdb)
		if err := fwd.Start(context.Background()); err != nil {
			log.Fatalf("relay start error: %v", err)
		}
	}

	app := api.NewServer(engine, presigner, cfg.AdminToken).App()
	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("listen error: %v", err)
		}
	}()
	obslog.L().Info("battled listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = app.Shutdown()
	reconciler.Stop()
	if fwd != nil {
		fwd.Close()
	}
	_ = wallet.Close()
	_ = rdb.Close()
}
