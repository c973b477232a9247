package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/blinkdate/matchmaking/internal/cache"
	"github.com/blinkdate/matchmaking/internal/config"
	"github.com/blinkdate/matchmaking/internal/rooms"
)

// AppContext holds shared dependencies (DB, Redis, Logger, room provisioner).
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Rooms      rooms.Provisioner
}

// New creates a new AppContext
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, rp rooms.Provisioner) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Rooms:      rp,
	}
}
