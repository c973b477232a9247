// Package quota implements the daily call-count gate. Limits depend on the
// user's subscription plan; counters live in Redis keyed per UTC day with a
// database fallback on cache miss.
package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/blinkdate/matchmaking/internal/cache"
	"github.com/blinkdate/matchmaking/internal/config"
	"github.com/blinkdate/matchmaking/internal/repository"
)

// Status is the outcome of a quota check.
type Status struct {
	Allowed   bool
	Plan      string
	Max       int
	Used      int64
	Remaining int64
}

// Gate checks and accounts daily call usage.
type Gate struct {
	cfg    *config.Config
	cache  *cache.RedisCache
	calls  *repository.CallRepository
	logger *slog.Logger
}

// NewGate builds a Gate from the shared dependencies.
func NewGate(cfg *config.Config, rc *cache.RedisCache, calls *repository.CallRepository, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, cache: rc, calls: calls, logger: logger}
}

// MaxCallsForPlan maps a subscription plan to its daily call allowance.
func (g *Gate) MaxCallsForPlan(plan string) int {
	switch plan {
	case "basic":
		return g.cfg.Quota.BasicDailyCalls
	case "premium":
		return g.cfg.Quota.PremiumDailyCalls
	default:
		return g.cfg.Quota.FreeDailyCalls
	}
}

// Check reports whether the user may start another call today.
//
// Cache-first: Redis holds the day's count with a midnight expiry; on a miss
// the count is rebuilt from the calls table and written back. A Redis outage
// degrades to the DB count alone rather than blocking matchmaking.
func (g *Gate) Check(ctx context.Context, userID uint64, plan string) (*Status, error) {
	now := time.Now().UTC()
	max := g.MaxCallsForPlan(plan)

	used, err := g.cache.GetDailyCallCount(ctx, userID, now)
	if err != nil {
		g.logger.Warn("quota cache read failed, falling back to db", "user", userID, "err", err)
		used = -1
	}

	if used < 0 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		used, err = g.calls.CountStartedSince(ctx, userID, midnight)
		if err != nil {
			return nil, err
		}
		if cerr := g.cache.SetDailyCallCount(ctx, userID, now, used); cerr != nil {
			g.logger.Warn("quota cache write failed", "user", userID, "err", cerr)
		}
	}

	remaining := int64(max) - used
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		Allowed:   used < int64(max),
		Plan:      planOrFree(plan),
		Max:       max,
		Used:      used,
		Remaining: remaining,
	}, nil
}

// Record accounts one started call for each participant. Called only after a
// pairing succeeds; polling never consumes quota.
func (g *Gate) Record(ctx context.Context, userIDs ...uint64) {
	now := time.Now().UTC()
	for _, id := range userIDs {
		if _, err := g.cache.IncrDailyCallCount(ctx, id, now); err != nil {
			// The DB fallback still counts the call row; losing the cached
			// increment only costs one redundant recount.
			g.logger.Warn("quota counter increment failed", "user", id, "err", err)
		}
	}
}

func planOrFree(plan string) string {
	if plan == "" {
		return "free"
	}
	return plan
}
