package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/mobilesync/internal/domain/offline"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// RecordReader reads the local cache.
type RecordReader interface {
	Get(ctx context.Context, kind offline.EntityKind, id string) (*offline.Record, error)
	List(ctx context.Context, kind offline.EntityKind, filter offline.ListFilter) ([]*offline.Record, error)
}

// LocalWriter records local edits for upload.
type LocalWriter interface {
	ApplyLocalChange(ctx context.Context, kind offline.EntityKind, action offline.ChangeAction, record *offline.Record) (*offline.PendingChange, error)
}

// RecordHandler serves the cached entities and accepts local edits.
type RecordHandler struct {
	BaseHandler
	reader RecordReader
	writer LocalWriter
}

// NewRecordHandler creates a RecordHandler
func NewRecordHandler(reader RecordReader, writer LocalWriter) *RecordHandler {
	return &RecordHandler{reader: reader, writer: writer}
}

// kind resolves the :kind path segment. It answers 400 itself.
func (h *RecordHandler) kind(c *gin.Context) (offline.EntityKind, bool) {
	kind, err := offline.ParseEntityKind(c.Param("kind"))
	if err != nil {
		h.HandleError(c, err)
		return "", false
	}
	return kind, true
}

// List godoc
// @ID           listRecords
// @Summary      List cached records
// @Tags         records
// @Produce      json
// @Param        kind path string true "company, voucher or inventory_item"
// @Param        company_id query string false "Owning company"
// @Param        category query string false "Inventory category"
// @Param        limit query int false "Page size" minimum(1) maximum(500)
// @Param        offset query int false "Offset" minimum(0)
// @Success      200 {object} dto.Response{data=[]offline.Record}
// @Router       /records/{kind} [get]
func (h *RecordHandler) List(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req dto.RecordListRequest
	if !h.BindQuery(c, &req) {
		return
	}
	filter := req.Filter()
	records, err := h.reader.List(c.Request.Context(), kind, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, records, len(records), filter.Limit, filter.Offset)
}

// Get godoc
// @ID           getRecord
// @Summary      Get a cached record
// @Tags         records
// @Produce      json
// @Param        kind path string true "Entity kind"
// @Param        id path string true "Entity ID"
// @Success      200 {object} dto.Response{data=offline.Record}
// @Failure      404 {object} dto.Response
// @Router       /records/{kind}/{id} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	rec, err := h.reader.Get(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rec)
}

// Create godoc
// @ID           createRecord
// @Summary      Create a record locally
// @Description  Stores the entity body and queues its creation for upload. The body must carry its id.
// @Tags         records
// @Accept       json
// @Produce      json
// @Param        kind path string true "Entity kind"
// @Success      201 {object} dto.Response{data=offline.PendingChange}
// @Failure      400 {object} dto.Response
// @Router       /records/{kind} [post]
func (h *RecordHandler) Create(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	rec, ok := h.readRecord(c, kind)
	if !ok {
		return
	}
	change, err := h.writer.ApplyLocalChange(c.Request.Context(), kind, offline.ChangeCreate, rec)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, change)
}

// Update godoc
// @ID           updateRecord
// @Summary      Update a record locally
// @Description  Replaces the cached body and queues the update for upload
// @Tags         records
// @Accept       json
// @Produce      json
// @Param        kind path string true "Entity kind"
// @Param        id path string true "Entity ID"
// @Success      200 {object} dto.Response{data=offline.PendingChange}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /records/{kind}/{id} [put]
func (h *RecordHandler) Update(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	rec, ok := h.readRecord(c, kind)
	if !ok {
		return
	}
	id := c.Param("id")
	if rec.ID != id {
		h.HandleError(c, fmt.Errorf("body id %q does not match %q: %w", rec.ID, id, shared.ErrInvalidInput))
		return
	}
	if _, err := h.reader.Get(c.Request.Context(), kind, id); err != nil {
		h.HandleError(c, err)
		return
	}
	change, err := h.writer.ApplyLocalChange(c.Request.Context(), kind, offline.ChangeUpdate, rec)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, change)
}

// Delete godoc
// @ID           deleteRecord
// @Summary      Delete a record locally
// @Description  Removes the cached row and queues the deletion for upload
// @Tags         records
// @Produce      json
// @Param        kind path string true "Entity kind"
// @Param        id path string true "Entity ID"
// @Success      200 {object} dto.Response{data=offline.PendingChange}
// @Failure      404 {object} dto.Response
// @Router       /records/{kind}/{id} [delete]
func (h *RecordHandler) Delete(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := h.reader.Get(c.Request.Context(), kind, id); err != nil {
		h.HandleError(c, err)
		return
	}
	change, err := h.writer.ApplyLocalChange(c.Request.Context(), kind, offline.ChangeDelete, &offline.Record{ID: id})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, change)
}

// readRecord decodes the raw entity body. It answers the error itself.
func (h *RecordHandler) readRecord(c *gin.Context, kind offline.EntityKind) (*offline.Record, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		h.bindError(c, err)
		return nil, false
	}
	if !json.Valid(raw) {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		return nil, false
	}
	rec, err := offline.RecordFromRemote(kind, raw, time.Now())
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return rec, true
}
