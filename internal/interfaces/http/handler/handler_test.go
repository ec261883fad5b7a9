package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appoffline "github.com/erp/mobilesync/internal/application/offline"
	"github.com/erp/mobilesync/internal/application/syncengine"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/auth"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/persistence"
	"github.com/erp/mobilesync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// api is the control API over a real engine and a fake ERP server.
type api struct {
	engine *gin.Engine
	store  *persistence.LocalStore
	clock  *shared.ManualClock
	erp    *testutil.FakeERP
	fx     *testutil.Fixtures
	conn   *appoffline.ManualConnectivity
	sync   *syncengine.Orchestrator
	queue  *appoffline.QueueService
	creds  *auth.DeviceCredentials
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zaptest.NewLogger(t)
	erp := testutil.NewFakeERP(t)
	store, clock := testutil.NewLocalStore(t)
	client := erp.Client(t, 0)

	orch := syncengine.New(store, client, config.SyncConfig{UploadRetries: 3},
		syncengine.WithClock(clock),
		syncengine.WithLogger(log),
	)
	conn := appoffline.NewManualConnectivity(true)
	queue := appoffline.NewQueueService(store, appoffline.NewTransportExecutor(client), conn, config.QueueConfig{
		MaxRetries:  2,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, appoffline.WithClock(clock), appoffline.WithLogger(log))
	creds := auth.NewDeviceCredentials(store, "", clock)

	engine := gin.New()
	engine.Use(logger.GinMiddleware(log))

	syncH := NewSyncHandler(orch)
	actions := NewActionHandler(queue)
	records := NewRecordHandler(store, orch)
	device := NewDeviceHandler(creds)

	v1 := engine.Group("/api/v1")
	v1.POST("/sync", syncH.StartSync)
	v1.POST("/sync/upload", syncH.Upload)
	v1.GET("/sync/status", syncH.Status)
	v1.GET("/sync/history", syncH.History)
	v1.GET("/conflicts", syncH.ListConflicts)
	v1.POST("/conflicts/:id/resolve", syncH.ResolveConflict)

	v1.POST("/actions", actions.Queue)
	v1.GET("/actions", actions.ListPending)
	v1.GET("/actions/dead", actions.ListDead)
	v1.POST("/actions/process", actions.Process)
	v1.POST("/actions/:id/retry", actions.Retry)
	v1.DELETE("/actions/:id", actions.Discard)

	v1.GET("/records/:kind", records.List)
	v1.POST("/records/:kind", records.Create)
	v1.GET("/records/:kind/:id", records.Get)
	v1.PUT("/records/:kind/:id", records.Update)
	v1.DELETE("/records/:kind/:id", records.Delete)

	v1.GET("/device/token", device.TokenStatus)
	v1.PUT("/device/token", device.SetToken)
	v1.DELETE("/device/token", device.ClearToken)

	return &api{
		engine: engine,
		store:  store,
		clock:  clock,
		erp:    erp,
		fx:     testutil.NewFixtures(7),
		conn:   conn,
		sync:   orch,
		queue:  queue,
		creds:  creds,
	}
}

// seedVoucher puts a company and one of its vouchers on the server and
// returns the voucher body.
func (a *api) seedVoucher() json.RawMessage {
	company := a.fx.Company()
	a.erp.Seed(testutil.CompaniesPath, company)
	v := a.fx.Voucher(idOf(company))
	a.erp.Seed(testutil.VouchersPath, v)
	return v
}

func (a *api) mustSync(t *testing.T) {
	t.Helper()
	_, err := a.sync.StartSync(context.Background())
	require.NoError(t, err)
}

func idOf(body json.RawMessage) string {
	id, _ := testutil.Field(body, "id").(string)
	return id
}
