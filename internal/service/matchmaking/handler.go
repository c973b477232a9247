package matchmaking

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blinkdate/matchmaking/internal/app"
	svcErr "github.com/blinkdate/matchmaking/internal/errors"
	"github.com/blinkdate/matchmaking/internal/quota"
)

// Registrar ties the matchmaking service into the HTTP server.
type Registrar struct {
	svc    *Service
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the matchmaking service.
func NewRegistrar(appCtx *app.AppContext, gate *quota.Gate) *Registrar {
	return &Registrar{svc: NewService(appCtx, gate), appCtx: appCtx}
}

// Register attaches the matchmaking endpoints to the engine.
func (r *Registrar) Register(e *gin.Engine) {
	api := e.Group("/api")
	api.POST("/matchmaking", r.findMatch)
	api.POST("/matchmaking/leave", r.leave)
	api.POST("/matchmaking/status", r.status)
	api.POST("/calls/:id/end", r.endCall)
	api.GET("/quota", r.quota)

	admin := api.Group("/admin/matchmaking")
	admin.GET("/stats", r.stats)
	admin.GET("/waiting", r.listWaiting)
}

type userRequest struct {
	UserID uint64 `json:"userId"`
}

// findMatch handles POST /api/matchmaking: one poll of the pairing engine.
func (r *Registrar) findMatch(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}

	outcome, err := r.svc.FindMatch(c.Request.Context(), req.UserID)
	if err != nil {
		r.fail(c, "findMatch", err)
		return
	}

	if outcome.Status == StatusLimitReached {
		c.JSON(http.StatusForbidden, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// leave handles POST /api/matchmaking/leave.
func (r *Registrar) leave(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}

	if err := r.svc.Leave(c.Request.Context(), req.UserID); err != nil {
		r.fail(c, "leave", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusSuccess})
}

// status handles POST /api/matchmaking/status: a non-mutating state lookup.
func (r *Registrar) status(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}

	outcome, err := r.svc.Status(c.Request.Context(), req.UserID)
	if err != nil {
		r.fail(c, "status", err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// endCall handles POST /api/calls/:id/end.
func (r *Registrar) endCall(c *gin.Context) {
	callID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, svcErr.Envelope{Error: "call id must be a valid uint64"})
		return
	}

	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}

	if err := r.svc.EndCall(c.Request.Context(), callID, req.UserID); err != nil {
		r.fail(c, "endCall", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": StatusSuccess})
}

// quota handles GET /api/quota?userId=N: remaining daily calls.
func (r *Registrar) quota(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("userId"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}

	st, err := r.svc.Quota(c.Request.Context(), userID)
	if err != nil {
		r.fail(c, "quota", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining": st.Remaining,
		"max":       st.Max,
		"plan":      st.Plan,
	})
}

// stats handles GET /api/admin/matchmaking/stats.
func (r *Registrar) stats(c *gin.Context) {
	st, err := r.svc.PoolStats(c.Request.Context())
	if err != nil {
		r.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// listWaiting handles GET /api/admin/matchmaking/waiting with cursor paging.
func (r *Registrar) listWaiting(c *gin.Context) {
	var token *string
	if t := c.Query("pageToken"); t != "" {
		token = &t
	}
	limit := 20
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	entries, next, err := r.svc.ListWaiting(c.Request.Context(), token, limit)
	if err != nil {
		r.fail(c, "listWaiting", err)
		return
	}

	resp := gin.H{"entries": entries}
	if next != nil {
		resp["nextPageToken"] = *next
	}
	c.JSON(http.StatusOK, resp)
}

// fail logs the error and writes the mapped status + envelope.
func (r *Registrar) fail(c *gin.Context, op string, err error) {
	status, envelope := svcErr.Map(err)
	if status >= http.StatusInternalServerError {
		r.appCtx.Logger.Error(op+" failed", "err", err)
	}
	c.JSON(status, envelope)
}
