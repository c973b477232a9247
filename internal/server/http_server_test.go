package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/blinkdate/matchmaking/internal/quota"
	"github.com/blinkdate/matchmaking/internal/repository"
	"github.com/blinkdate/matchmaking/internal/server"
	"github.com/blinkdate/matchmaking/internal/service/history"
	"github.com/blinkdate/matchmaking/internal/service/matchmaking"
)

func f(v float64) *float64 { return &v }

type stubRooms struct{}

func (stubRooms) CreateRoom(ctx context.Context, expiry time.Duration) (string, error) {
	return "https://rooms.test/wired", nil
}

// setupServer wires the full HTTP stack against in-memory storage, the way
// cmd/server does, and returns the engine for request-level assertions.
func setupServer(t *testing.T) (*server.Server, *gorm.DB, *quota.Gate) {
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
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := app.New(cfg, dbase, redisCache, logger, stubRooms{})
	gate := quota.NewGate(cfg, redisCache, repository.NewCallRepository(dbase), logger)

	srv := server.New(appCtx,
		matchmaking.NewRegistrar(appCtx, gate),
		history.NewRegistrar(appCtx),
	)
	return srv, dbase, gate
}

func doJSON(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func seedUser(t *testing.T, dbase *gorm.DB, id uint64, gender, wants string) {
	t.Helper()
	user := db.User{
		ID:               id,
		Username:         fmt.Sprintf("user%d", id),
		Email:            fmt.Sprintf("u%d@test.com", id),
		PasswordHash:     "x",
		Age:              30,
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

func TestHealthz(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matchmaker_")
}

func TestFindMatchWireContract(t *testing.T) {
	srv, dbase, gate := setupServer(t)
	seedUser(t, dbase, 1, "male", "female")
	seedUser(t, dbase, 2, "female", "male")

	t.Run("missing user id is 401", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user is 400", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":999}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty pool means waiting", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":2}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "waiting", resp["status"])
	})

	t.Run("pairing returns call and room", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":1}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "matched", resp["status"])
		assert.NotZero(t, resp["callId"])
		assert.Equal(t, "https://rooms.test/wired", resp["roomUrl"])
	})

	t.Run("exhausted quota is 403", func(t *testing.T) {
		seedUser(t, dbase, 3, "male", "female")
		for i := 0; i < 10; i++ {
			gate.Record(context.Background(), 3)
		}

		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":3}`)
		require.Equal(t, http.StatusForbidden, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "limit_reached", resp["status"])
		assert.Equal(t, "free", resp["plan"])
		assert.Equal(t, float64(10), resp["max"])
	})
}

func TestCallAndFeedbackFlow(t *testing.T) {
	srv, dbase, _ := setupServer(t)
	seedUser(t, dbase, 1, "male", "female")
	seedUser(t, dbase, 2, "female", "male")

	doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":2}`)
	w := doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var matched map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matched))
	callID := int(matched["callId"].(float64))

	t.Run("non-participant cannot end the call", func(t *testing.T) {
		seedUser(t, dbase, 9, "male", "female")
		w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/calls/%d/end", callID), `{"userId":9}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("participant ends the call", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/calls/%d/end", callID), `{"userId":1}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("feedback records verdicts", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/feedback",
			fmt.Sprintf(`{"userId":1,"callId":%d,"liked":true}`, callID))
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, srv, http.MethodPost, "/api/feedback",
			fmt.Sprintf(`{"userId":2,"callId":%d,"liked":true}`, callID))
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "matched", resp["status"])
		assert.Equal(t, true, resp["mutual"])
	})

	t.Run("status endpoint reflects queue state", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/api/matchmaking/status", `{"userId":1}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_in_queue", resp["status"])
	})
}

func TestAdminEndpoints(t *testing.T) {
	srv, dbase, _ := setupServer(t)
	seedUser(t, dbase, 1, "male", "female")
	seedUser(t, dbase, 2, "female", "female")

	doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":1}`)
	doJSON(t, srv, http.MethodPost, "/api/matchmaking", `{"userId":2}`)

	w := doJSON(t, srv, http.MethodGet, "/api/admin/matchmaking/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, float64(2), stats["queueSize"])

	w = doJSON(t, srv, http.MethodGet, "/api/admin/matchmaking/waiting?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	entries := page["entries"].([]any)
	assert.Len(t, entries, 1)
	assert.NotEmpty(t, page["nextPageToken"])
}

func TestQuotaEndpoint(t *testing.T) {
	srv, dbase, _ := setupServer(t)
	seedUser(t, dbase, 1, "male", "female")

	w := doJSON(t, srv, http.MethodGet, "/api/quota?userId=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(10), resp["max"])
	assert.Equal(t, float64(10), resp["remaining"])
	assert.Equal(t, "free", resp["plan"])

	w = doJSON(t, srv, http.MethodGet, "/api/quota", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
