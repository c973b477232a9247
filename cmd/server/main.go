package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinkdate/matchmaking/internal/app"
	"github.com/blinkdate/matchmaking/internal/cache"
	"github.com/blinkdate/matchmaking/internal/config"
	"github.com/blinkdate/matchmaking/internal/db"
	"github.com/blinkdate/matchmaking/internal/logger"
	"github.com/blinkdate/matchmaking/internal/quota"
	"github.com/blinkdate/matchmaking/internal/repository"
	"github.com/blinkdate/matchmaking/internal/rooms"
	"github.com/blinkdate/matchmaking/internal/server"
	"github.com/blinkdate/matchmaking/internal/service/history"
	"github.com/blinkdate/matchmaking/internal/service/matchmaking"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	roomClient := rooms.NewClient(cfg)
	appCtx := app.New(cfg, database, redisCache, log, roomClient)

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	gate := quota.NewGate(cfg, redisCache, repository.NewCallRepository(database), log)

	srv := server.New(appCtx,
		matchmaking.NewRegistrar(appCtx, gate),
		history.NewRegistrar(appCtx),
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
}
