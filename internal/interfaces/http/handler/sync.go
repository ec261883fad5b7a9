package handler

import (
	"context"
	"errors"

	"github.com/erp/mobilesync/internal/application/syncengine"
	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// SyncService is the part of the orchestrator the control API drives.
type SyncService interface {
	StartSync(ctx context.Context) (*offline.SyncSession, error)
	UploadPendingChanges(ctx context.Context) (offline.UploadResult, error)
	Status(ctx context.Context) (*syncengine.Status, error)
	GetSyncHistory(ctx context.Context, limit int) ([]*offline.SyncSession, error)
	GetConflicts(ctx context.Context, status offline.ConflictStatus) ([]*offline.Conflict, error)
	ResolveConflict(ctx context.Context, id string, res offline.Resolution) (*offline.Conflict, error)
}

// SyncHandler serves sync sessions and conflicts.
type SyncHandler struct {
	BaseHandler
	sync SyncService
}

// NewSyncHandler creates a SyncHandler
func NewSyncHandler(sync SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// StartSync godoc
// @ID           startSync
// @Summary      Run a sync session
// @Description  Downloads every collection, uploads pending changes and returns the finished session. Joins a running session instead of starting another. When the request deadline passes first the running session is returned with 202.
// @Tags         sync
// @Produce      json
// @Success      200 {object} dto.Response{data=offline.SyncSession}
// @Success      202 {object} dto.Response{data=offline.SyncSession}
// @Failure      500 {object} dto.Response
// @Router       /sync [post]
func (h *SyncHandler) StartSync(c *gin.Context) {
	session, err := h.sync.StartSync(c.Request.Context())
	if err != nil {
		if session != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			h.Accepted(c, session)
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, session)
}

// Upload godoc
// @ID           uploadPendingChanges
// @Summary      Upload pending changes
// @Description  Pushes local changes to the server without downloading
// @Tags         sync
// @Produce      json
// @Success      200 {object} dto.Response{data=offline.UploadResult}
// @Router       /sync/upload [post]
func (h *SyncHandler) Upload(c *gin.Context) {
	res, err := h.sync.UploadPendingChanges(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}

// Status godoc
// @ID           getSyncStatus
// @Summary      Sync status
// @Description  Reports the session state, the last successful sync and the outstanding work
// @Tags         sync
// @Produce      json
// @Success      200 {object} dto.Response{data=syncengine.Status}
// @Router       /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	st, err := h.sync.Status(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, st)
}

// History godoc
// @ID           getSyncHistory
// @Summary      Sync history
// @Tags         sync
// @Produce      json
// @Param        limit query int false "Maximum sessions" minimum(1) maximum(200)
// @Success      200 {object} dto.Response{data=[]offline.SyncSession}
// @Router       /sync/history [get]
func (h *SyncHandler) History(c *gin.Context) {
	var req dto.HistoryRequest
	if !h.BindQuery(c, &req) {
		return
	}
	sessions, err := h.sync.GetSyncHistory(c.Request.Context(), req.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, sessions)
}

// ListConflicts godoc
// @ID           listConflicts
// @Summary      List conflicts
// @Tags         conflicts
// @Produce      json
// @Param        status query string false "pending or resolved"
// @Success      200 {object} dto.Response{data=[]offline.Conflict}
// @Router       /conflicts [get]
func (h *SyncHandler) ListConflicts(c *gin.Context) {
	var req dto.ConflictListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	conflicts, err := h.sync.GetConflicts(c.Request.Context(), offline.ConflictStatus(req.Status))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflicts)
}

// ResolveConflict godoc
// @ID           resolveConflict
// @Summary      Resolve a conflict
// @Description  Keeps the local side, takes the server side or writes merged data
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        id path string true "Conflict ID"
// @Param        request body dto.ResolveConflictRequest true "Resolution"
// @Success      200 {object} dto.Response{data=offline.Conflict}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /conflicts/{id}/resolve [post]
func (h *SyncHandler) ResolveConflict(c *gin.Context) {
	var req dto.ResolveConflictRequest
	if !h.BindJSON(c, &req) {
		return
	}
	conflict, err := h.sync.ResolveConflict(c.Request.Context(), c.Param("id"), req.Resolution())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflict)
}
