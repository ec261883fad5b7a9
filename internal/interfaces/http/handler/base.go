package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/auth"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/scheduler"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RequestIDKey is the header carrying the request id
const RequestIDKey = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID returns the id the logging middleware assigned, falling
// back to the incoming header.
func getRequestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with paging meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, count, limit, offset int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, count, limit, offset))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that continues after the reply
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with an explicit status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// BindJSON decodes the body into req and answers 400 on failure. It
// returns false when the handler must stop.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

// BindQuery decodes the query string into req and answers 400 on failure.
func (h *BaseHandler) BindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]dto.ValidationDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, dto.ValidationDetail{
				Field:   fe.Field(),
				Message: "failed on '" + fe.Tag() + "'",
			})
		}
		c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", getRequestID(c), details))
		return
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
}

// HandleError maps an error from the engine to a status and API code.
// Storage failures and unknown errors are logged and reported without
// internals.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, message := classify(err)
	status := dto.GetHTTPStatus(code)
	if status >= http.StatusInternalServerError && code != dto.ErrCodeUnavailable {
		logger.GetGinLogger(c).Error("Request failed", zap.String("code", code), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

func classify(err error) (code, message string) {
	var (
		transportErr *transport.Error
		domainErr    *shared.DomainError
	)
	switch {
	case shared.IsFatal(err):
		return dto.ErrCodeStorage, shared.ErrStorage.Message
	case errors.Is(err, scheduler.ErrJobNotFound):
		return dto.ErrCodeNotFound, err.Error()
	case errors.Is(err, scheduler.ErrJobRunning):
		return dto.ErrCodeJobRunning, err.Error()
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		return dto.ErrCodeUnavailable, err.Error()
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenInvalid, err.Error()
	case errors.As(err, &transportErr):
		return dto.NormalizeErrorCode(transportErr.Code), transportErr.Message
	case errors.As(err, &domainErr):
		return dto.NormalizeErrorCode(domainErr.Code), err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeTimeout, "Request timed out"
	case errors.Is(err, context.Canceled):
		return dto.ErrCodeCanceled, "Request canceled"
	}
	return dto.ErrCodeInternal, "An unexpected error occurred"
}
