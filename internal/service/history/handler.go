package history

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blinkdate/matchmaking/internal/app"
	svcErr "github.com/blinkdate/matchmaking/internal/errors"
)

// Registrar ties the history service into the HTTP server.
type Registrar struct {
	svc    *Service
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the history service.
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{svc: NewService(appCtx), appCtx: appCtx}
}

// Register attaches the feedback and report endpoints to the engine.
func (r *Registrar) Register(e *gin.Engine) {
	api := e.Group("/api")
	api.POST("/feedback", r.feedback)
	api.POST("/reports", r.report)
}

type feedbackRequest struct {
	UserID uint64 `json:"userId"`
	CallID uint64 `json:"callId"`
	Liked  bool   `json:"liked"`
}

func (r *Registrar) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}
	if req.CallID == 0 {
		c.JSON(http.StatusBadRequest, svcErr.Envelope{Error: "missing call id"})
		return
	}

	result, err := r.svc.Feedback(c.Request.Context(), req.CallID, req.UserID, req.Liked)
	if err != nil {
		r.fail(c, "feedback", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reportRequest struct {
	UserID         uint64 `json:"userId"`
	ReportedUserID uint64 `json:"reportedUserId"`
}

func (r *Registrar) report(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusUnauthorized, svcErr.Envelope{Error: "missing user id"})
		return
	}
	if req.ReportedUserID == 0 {
		c.JSON(http.StatusBadRequest, svcErr.Envelope{Error: "missing reported user id"})
		return
	}

	if err := r.svc.Report(c.Request.Context(), req.UserID, req.ReportedUserID); err != nil {
		r.fail(c, "report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (r *Registrar) fail(c *gin.Context, op string, err error) {
	status, envelope := svcErr.Map(err)
	if status >= http.StatusInternalServerError {
		r.appCtx.Logger.Error(op+" failed", "err", err)
	}
	c.JSON(status, envelope)
}
