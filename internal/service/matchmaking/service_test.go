package matchmaking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/blinkdate/matchmaking/internal/app"
	"github.com/blinkdate/matchmaking/internal/cache"
	"github.com/blinkdate/matchmaking/internal/config"
	"github.com/blinkdate/matchmaking/internal/db"
	svcErr "github.com/blinkdate/matchmaking/internal/errors"
	"github.com/blinkdate/matchmaking/internal/quota"
	"github.com/blinkdate/matchmaking/internal/repository"
	"github.com/blinkdate/matchmaking/internal/service/matchmaking"
)

//
// Test helpers
//

func f(v float64) *float64 { return &v }
func u64(v uint64) *uint64 { return &v }

// stubRooms is a canned room provisioner so tests never touch the network.
// onCreate, when set, runs before the canned response; tests use it to mutate
// state at a precisely known point inside a FindMatch attempt.
type stubRooms struct {
	url      string
	err      error
	calls    int
	onCreate func()
}

func (s *stubRooms) CreateRoom(ctx context.Context, expiry time.Duration) (string, error) {
	s.calls++
	if s.onCreate != nil {
		s.onCreate()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

type fixture struct {
	svc   *matchmaking.Service
	gate  *quota.Gate
	db    *gorm.DB
	rooms *stubRooms
}

// setupService spins up an in-memory SQLite DB, applies migrations, starts a
// miniredis, and wires everything into a matchmaking Service instance.
//
// Each test gets its own isolated DB + Redis.
func setupService(t *testing.T) *fixture {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbase, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := dbase.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(dbase))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	redisCache := cache.NewRedisCache(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // discard logs in tests

	rp := &stubRooms{url: "https://rooms.test/abc"}
	appCtx := app.New(cfg, dbase, redisCache, logger, rp)
	gate := quota.NewGate(cfg, redisCache, repository.NewCallRepository(dbase), logger)

	return &fixture{
		svc:   matchmaking.NewService(appCtx, gate),
		gate:  gate,
		db:    dbase,
		rooms: rp,
	}
}

// seedUser inserts a user with a fully populated, compatible-by-default
// profile near central London.
func seedUser(t *testing.T, dbase *gorm.DB, id uint64, age int, gender, wants string) {
	t.Helper()
	user := db.User{
		ID:               id,
		Username:         fmt.Sprintf("user%d", id),
		Email:            fmt.Sprintf("u%d@test.com", id),
		PasswordHash:     "x",
		Age:              age,
		MinAgePreference: 18,
		MaxAgePreference: 99,
		Latitude:         f(51.5074),
		Longitude:        f(-0.1278),
		Gender:           gender,
		GenderPreference: wants,
		RelationshipGoal: "long-term",
		SubscriptionPlan: "free",
		Available:        true,
	}
	require.NoError(t, dbase.Create(&user).Error)
}

func enqueue(t *testing.T, fx *fixture, userID uint64) {
	t.Helper()
	_, err := fx.svc.FindMatch(context.Background(), userID)
	require.NoError(t, err)
}

//
// Tests
//

// TestFindMatchPairsWaitingUsers walks the happy path: user 2 waits, user 1
// polls and gets matched into a freshly provisioned room, and both leave
// the pool.
func TestFindMatchPairsWaitingUsers(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	// User 2 polls first with an empty pool and ends up waiting.
	out, err := fx.svc.FindMatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)

	out, err = fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)
	assert.NotZero(t, out.CallID)
	assert.Equal(t, "https://rooms.test/abc", out.RoomURL)
	assert.Equal(t, 1, fx.rooms.calls)

	// Both parties are out of the pool.
	var poolSize int64
	require.NoError(t, fx.db.Model(&db.WaitingUser{}).Count(&poolSize).Error)
	assert.Equal(t, int64(0), poolSize)

	// One call row with both participants and the room URL.
	var call db.Call
	require.NoError(t, fx.db.First(&call, out.CallID).Error)
	assert.Equal(t, uint64(1), call.User1ID)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(2), *call.User2ID)
	assert.Nil(t, call.EndTime)

	// The pairing was measured.
	var metric db.MatchMetric
	require.NoError(t, fx.db.Where("call_id = ?", call.ID).First(&metric).Error)
	assert.Greater(t, metric.Score, 0.0)
}

// TestFindMatchEnqueueIsIdempotent: polling with no candidates keeps the user
// waiting without duplicating their pool entry.
func TestFindMatchEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")

	for i := 0; i < 3; i++ {
		out, err := fx.svc.FindMatch(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, matchmaking.StatusWaiting, out.Status)
	}

	var poolSize int64
	require.NoError(t, fx.db.Model(&db.WaitingUser{}).Count(&poolSize).Error)
	assert.Equal(t, int64(1), poolSize)
}

func TestFindMatchUnknownUser(t *testing.T) {
	fx := setupService(t)
	_, err := fx.svc.FindMatch(context.Background(), 999)
	assert.ErrorIs(t, err, svcErr.ErrUserNotFound)
}

// An active call always wins over a new scan, so a matched user polling again
// gets the same call back.
func TestFindMatchShortCircuitsOnActiveCall(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	seedUser(t, fx.db, 3, 27, "female", "male")

	enqueue(t, fx, 2)
	first, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, first.Status)

	// User 3 is waiting now, but user 1 must stay in their existing call.
	enqueue(t, fx, 3)
	again, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusMatched, again.Status)
	assert.Equal(t, first.CallID, again.CallID)
}

// Ledger exclusions keep rejected pairs apart even when they are compatible.
func TestFindMatchSkipsRejectedCandidates(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	ledger := repository.NewLedgerRepository(fx.db)
	require.NoError(t, ledger.AddRejection(ctx, 2, 1, 48*time.Hour))

	enqueue(t, fx, 2)
	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)
}

func TestFindMatchSkipsIncompatibleCandidates(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "female") // wants women, user 1 is male

	enqueue(t, fx, 2)
	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)
}

// With several compatible candidates the highest-scoring one wins; FIFO only
// breaks ties.
func TestFindMatchPicksBestScoringCandidate(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	seedUser(t, fx.db, 3, 28, "female", "male")

	// User 2 enqueued first but is farther away (~15 km), so user 3 scores
	// higher on the distance axis.
	require.NoError(t, fx.db.Model(&db.User{}).Where("id = ?", 2).
		Updates(map[string]any{"latitude": 51.3762, "longitude": -0.0982}).Error)

	enqueue(t, fx, 2)
	enqueue(t, fx, 3)

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)

	var call db.Call
	require.NoError(t, fx.db.First(&call, out.CallID).Error)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(3), *call.User2ID)
}

func TestFindMatchFIFOOnEqualScores(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	seedUser(t, fx.db, 3, 28, "female", "male")

	enqueue(t, fx, 3)
	enqueue(t, fx, 2)

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)

	var call db.Call
	require.NoError(t, fx.db.First(&call, out.CallID).Error)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(3), *call.User2ID, "older pool entry wins the tie")
}

// Quota: a free user at their daily limit is turned away before any pool work.
func TestFindMatchQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	enqueue(t, fx, 2)

	for i := 0; i < 10; i++ {
		fx.gate.Record(ctx, 1)
	}

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusLimitReached, out.Status)
	assert.Equal(t, "free", out.Plan)
	assert.Equal(t, 10, out.Max)

	// The waiting candidate was not consumed.
	var poolSize int64
	require.NoError(t, fx.db.Model(&db.WaitingUser{}).Count(&poolSize).Error)
	assert.Equal(t, int64(1), poolSize)
}

// A user whose pairing consumed their last daily call must keep getting that
// call back while it is active: the active-call check outranks the quota gate.
func TestFindMatchActiveCallAtQuotaLimit(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	// Nine of ten free calls already used; the pairing below consumes the last.
	for i := 0; i < 9; i++ {
		fx.gate.Record(ctx, 1)
	}

	enqueue(t, fx, 2)
	first, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, first.Status)

	st, err := fx.gate.Check(ctx, 1, "free")
	require.NoError(t, err)
	require.Equal(t, int64(0), st.Remaining)

	// Polling again mid-call returns the same call, not limit_reached.
	again, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusMatched, again.Status)
	assert.Equal(t, first.CallID, again.CallID)

	// Once the call ends, the gate applies again.
	require.NoError(t, fx.svc.EndCall(ctx, first.CallID, 1))
	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusLimitReached, out.Status)
}

// A successful pairing consumes one call from each participant's quota;
// unmatched polls consume nothing.
func TestQuotaConsumedOnlyOnPairing(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	for i := 0; i < 3; i++ {
		enqueue(t, fx, 2) // no candidates yet, pure waiting polls
	}
	st, err := fx.gate.Check(ctx, 2, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Used)

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)

	for _, id := range []uint64{1, 2} {
		st, err := fx.gate.Check(ctx, id, "free")
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Used, "user %d", id)
	}
}

// A candidate already in a call with a free slot gets the requester attached
// instead of a second call being created.
func TestFindMatchJoinsCallWithFreeSlot(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	enqueue(t, fx, 2)
	half := db.Call{User1ID: 2, RoomURL: "https://rooms.test/half"}
	require.NoError(t, fx.db.Create(&half).Error)

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)
	assert.Equal(t, half.ID, out.CallID)
	assert.Equal(t, "https://rooms.test/half", out.RoomURL)

	var call db.Call
	require.NoError(t, fx.db.First(&call, half.ID).Error)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(1), *call.User2ID)

	var total int64
	require.NoError(t, fx.db.Model(&db.Call{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

// A candidate already in a full call leaves the requester waiting this poll.
func TestFindMatchCandidateCallSlotTaken(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	enqueue(t, fx, 2)
	full := db.Call{User1ID: 2, User2ID: u64(3), RoomURL: "https://rooms.test/full"}
	require.NoError(t, fx.db.Create(&full).Error)

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)
}

// A candidate who enters a call after the pre-pairing checks but before the
// pairing transaction commits is caught by the in-transaction re-check, and
// the requester joins that call's free slot instead of erroring out.
func TestFindMatchJoinsCallRacedDuringPairing(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	enqueue(t, fx, 2)

	// Room provisioning runs between the pre-pairing checks and the commit,
	// so a call created here lands exactly inside the race window.
	var raced db.Call
	fx.rooms.onCreate = func() {
		raced = db.Call{User1ID: 2, RoomURL: "https://rooms.test/raced"}
		require.NoError(t, fx.db.Create(&raced).Error)
	}

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)
	assert.Equal(t, raced.ID, out.CallID)
	assert.Equal(t, "https://rooms.test/raced", out.RoomURL)

	var call db.Call
	require.NoError(t, fx.db.First(&call, raced.ID).Error)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(1), *call.User2ID)

	// No second call was created, and the pool is empty.
	var total int64
	require.NoError(t, fx.db.Model(&db.Call{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
	require.NoError(t, fx.db.Model(&db.WaitingUser{}).Count(&total).Error)
	assert.Equal(t, int64(0), total)
}

// Same race, but the call the candidate entered is already full: the
// requester stays unmatched this poll instead of being bolted onto it.
func TestFindMatchRacedCallSlotTaken(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	enqueue(t, fx, 2)

	fx.rooms.onCreate = func() {
		full := db.Call{User1ID: 2, User2ID: u64(3), RoomURL: "https://rooms.test/full"}
		require.NoError(t, fx.db.Create(&full).Error)
	}

	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)

	// The full call was left untouched.
	var call db.Call
	require.NoError(t, fx.db.Where("user1_id = ?", 2).First(&call).Error)
	require.NotNil(t, call.User2ID)
	assert.Equal(t, uint64(3), *call.User2ID)
}

// Room provisioning failures degrade to the fallback room instead of failing
// the match.
func TestFindMatchRoomFallback(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	fx.rooms.err = errors.New("rooms api down")
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	enqueue(t, fx, 2)
	out, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, out.Status)
	assert.Equal(t, "https://v0.daily.co/fallback", out.RoomURL)
}

func TestLeaveAndStatus(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")

	out, err := fx.svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusNotInQueue, out.Status)

	enqueue(t, fx, 1)
	out, err = fx.svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusWaiting, out.Status)

	require.NoError(t, fx.svc.Leave(ctx, 1))
	out, err = fx.svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, matchmaking.StatusNotInQueue, out.Status)

	// Leaving when not in the queue is fine.
	require.NoError(t, fx.svc.Leave(ctx, 1))
}

func TestStatusReportsActiveCall(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")

	enqueue(t, fx, 2)
	matched, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, matched.Status)

	for _, id := range []uint64{1, 2} {
		out, err := fx.svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, matchmaking.StatusMatched, out.Status)
		assert.Equal(t, matched.CallID, out.CallID)
	}
}

func TestEndCall(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 30, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "male")
	seedUser(t, fx.db, 3, 40, "male", "female")

	enqueue(t, fx, 2)
	matched, err := fx.svc.FindMatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusMatched, matched.Status)

	// Pairing marks both unavailable.
	var u db.User
	require.NoError(t, fx.db.First(&u, 1).Error)
	assert.False(t, u.Available)

	// Bystanders cannot end it.
	err = fx.svc.EndCall(ctx, matched.CallID, 3)
	assert.ErrorIs(t, err, svcErr.ErrNotParticipant)

	require.NoError(t, fx.svc.EndCall(ctx, matched.CallID, 2))

	var call db.Call
	require.NoError(t, fx.db.First(&call, matched.CallID).Error)
	assert.NotNil(t, call.EndTime)

	// Availability restored for both.
	for _, id := range []uint64{1, 2} {
		require.NoError(t, fx.db.First(&u, id).Error)
		assert.True(t, u.Available)
	}

	// Ending twice is quiet; unknown calls are not.
	require.NoError(t, fx.svc.EndCall(ctx, matched.CallID, 1))
	err = fx.svc.EndCall(ctx, 777, 1)
	assert.ErrorIs(t, err, svcErr.ErrCallNotFound)
}

func TestPoolStats(t *testing.T) {
	ctx := context.Background()
	fx := setupService(t)
	seedUser(t, fx.db, 1, 22, "male", "female")
	seedUser(t, fx.db, 2, 28, "female", "female")
	seedUser(t, fx.db, 3, 29, "female", "female")

	enqueue(t, fx, 1)
	enqueue(t, fx, 2)
	enqueue(t, fx, 3)

	stats, err := fx.svc.PoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.QueueSize)
	assert.GreaterOrEqual(t, stats.AvgWaitSeconds, 0.0)

	byAge := map[string]int64{}
	for _, g := range stats.AgeDistribution {
		byAge[g.Group] = g.Count
	}
	assert.Equal(t, int64(1), byAge["18-24"])
	assert.Equal(t, int64(2), byAge["25-34"])

	byGender := map[string]int64{}
	for _, g := range stats.GenderDistribution {
		byGender[g.Group] = g.Count
	}
	assert.Equal(t, int64(2), byGender["female"])
}
