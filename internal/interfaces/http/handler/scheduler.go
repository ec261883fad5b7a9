package handler

import (
	"context"

	"github.com/erp/mobilesync/internal/infrastructure/scheduler"
	"github.com/gin-gonic/gin"
)

// JobRunner exposes the background jobs.
type JobRunner interface {
	Runs() []scheduler.JobRun
	RunNow(ctx context.Context, name string) (scheduler.JobRun, error)
}

// SchedulerHandler lists and triggers background jobs.
type SchedulerHandler struct {
	BaseHandler
	jobs JobRunner
}

// NewSchedulerHandler creates a SchedulerHandler
func NewSchedulerHandler(jobs JobRunner) *SchedulerHandler {
	return &SchedulerHandler{jobs: jobs}
}

// List godoc
// @ID           listJobs
// @Summary      List background jobs
// @Tags         jobs
// @Produce      json
// @Success      200 {object} dto.Response{data=[]scheduler.JobRun}
// @Router       /jobs [get]
func (h *SchedulerHandler) List(c *gin.Context) {
	h.Success(c, h.jobs.Runs())
}

// Run godoc
// @ID           runJob
// @Summary      Run a job now
// @Description  Runs the job and waits for it
// @Tags         jobs
// @Produce      json
// @Param        name path string true "Job name"
// @Success      200 {object} dto.Response{data=scheduler.JobRun}
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /jobs/{name}/run [post]
func (h *SchedulerHandler) Run(c *gin.Context) {
	run, err := h.jobs.RunNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}
