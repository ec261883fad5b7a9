package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/erp/mobilesync/internal/infrastructure/scheduler"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/erp/mobilesync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubJobs struct {
	runs []scheduler.JobRun
	err  error
}

func (s *stubJobs) Runs() []scheduler.JobRun { return s.runs }

func (s *stubJobs) RunNow(_ context.Context, name string) (scheduler.JobRun, error) {
	if s.err != nil {
		return scheduler.JobRun{}, s.err
	}
	return scheduler.JobRun{Name: name, Status: scheduler.JobStatusSuccess, Runs: 1}, nil
}

func jobsEngine(jobs JobRunner) *gin.Engine {
	h := NewSchedulerHandler(jobs)
	engine := gin.New()
	engine.GET("/jobs", h.List)
	engine.POST("/jobs/:name/run", h.Run)
	return engine
}

func TestSchedulerHandler_List(t *testing.T) {
	engine := jobsEngine(&stubJobs{runs: []scheduler.JobRun{
		{Name: "sync", Schedule: "@every 15m"},
		{Name: "cache-cleanup", Schedule: "@every 1h"},
	}})

	w := testutil.PerformRequest(t, engine, http.MethodGet, "/jobs", nil)
	runs := testutil.StatusOK[[]scheduler.JobRun](t, w)

	assert.Len(t, runs, 2)
	assert.Equal(t, "sync", runs[0].Name)
}

func TestSchedulerHandler_Run(t *testing.T) {
	w := testutil.PerformRequest(t, jobsEngine(&stubJobs{}), http.MethodPost, "/jobs/sync/run", nil)
	run := testutil.StatusOK[scheduler.JobRun](t, w)
	assert.Equal(t, "sync", run.Name)
	assert.Equal(t, scheduler.JobStatusSuccess, run.Status)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{scheduler.ErrJobNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{scheduler.ErrJobRunning, http.StatusConflict, dto.ErrCodeJobRunning},
		{scheduler.ErrSchedulerNotRunning, http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := testutil.PerformRequest(t, jobsEngine(&stubJobs{err: tt.err}), http.MethodPost, "/jobs/sync/run", nil)
			testutil.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}
