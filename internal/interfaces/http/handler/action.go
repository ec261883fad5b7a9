package handler

import (
	"context"

	appoffline "github.com/erp/mobilesync/internal/application/offline"
	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// ActionQueue is the part of the offline queue the control API drives.
type ActionQueue interface {
	QueueAction(ctx context.Context, in appoffline.NewAction) (string, error)
	GetPendingActions(ctx context.Context) ([]*offline.QueuedAction, error)
	GetDeadLetters(ctx context.Context) ([]*offline.QueuedAction, error)
	RetryDeadLetter(ctx context.Context, id string) (*offline.QueuedAction, error)
	DiscardDeadLetter(ctx context.Context, id string) error
	ProcessActionQueue(ctx context.Context) (offline.DrainResult, error)
}

// ActionHandler serves the offline action queue.
type ActionHandler struct {
	BaseHandler
	queue ActionQueue
}

// NewActionHandler creates an ActionHandler
func NewActionHandler(queue ActionQueue) *ActionHandler {
	return &ActionHandler{queue: queue}
}

// Queue godoc
// @ID           queueAction
// @Summary      Queue an action
// @Description  Persists an entity operation or a raw request for replay. Nothing is sent until the queue is processed.
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        request body dto.QueueActionRequest true "Action"
// @Success      201 {object} dto.Response{data=dto.QueuedActionResponse}
// @Failure      400 {object} dto.Response
// @Router       /actions [post]
func (h *ActionHandler) Queue(c *gin.Context) {
	var req dto.QueueActionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	action, err := req.Action()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	id, err := h.queue.QueueAction(c.Request.Context(), appoffline.NewAction{
		Action:     action,
		Priority:   req.QueuePriority(),
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.QueuedActionResponse{ID: id})
}

// ListPending godoc
// @ID           listPendingActions
// @Summary      List queued actions
// @Description  Actions awaiting replay in replay order
// @Tags         actions
// @Produce      json
// @Success      200 {object} dto.Response{data=[]dto.QueuedActionView}
// @Router       /actions [get]
func (h *ActionHandler) ListPending(c *gin.Context) {
	actions, err := h.queue.GetPendingActions(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewQueuedActionViews(actions))
}

// ListDead godoc
// @ID           listDeadActions
// @Summary      List dead letters
// @Tags         actions
// @Produce      json
// @Success      200 {object} dto.Response{data=[]dto.QueuedActionView}
// @Router       /actions/dead [get]
func (h *ActionHandler) ListDead(c *gin.Context) {
	actions, err := h.queue.GetDeadLetters(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewQueuedActionViews(actions))
}

// Retry godoc
// @ID           retryDeadAction
// @Summary      Retry a dead letter
// @Description  Moves a dead-lettered action back to pending with a fresh retry budget
// @Tags         actions
// @Produce      json
// @Param        id path string true "Action ID"
// @Success      200 {object} dto.Response{data=dto.QueuedActionView}
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /actions/{id}/retry [post]
func (h *ActionHandler) Retry(c *gin.Context) {
	qa, err := h.queue.RetryDeadLetter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewQueuedActionView(qa))
}

// Discard godoc
// @ID           discardDeadAction
// @Summary      Discard a dead letter
// @Tags         actions
// @Param        id path string true "Action ID"
// @Success      204
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /actions/{id} [delete]
func (h *ActionHandler) Discard(c *gin.Context) {
	if err := h.queue.DiscardDeadLetter(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(204)
}

// Process godoc
// @ID           processActionQueue
// @Summary      Drain the queue
// @Description  Replays due actions now. Reports offline without attempting anything when the device has no connectivity.
// @Tags         actions
// @Produce      json
// @Success      200 {object} dto.Response{data=offline.DrainResult}
// @Router       /actions/process [post]
func (h *ActionHandler) Process(c *gin.Context) {
	res, err := h.queue.ProcessActionQueue(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}
