package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
	"github.com/resale/backend/internal/infrastructure/logger"
	"github.com/resale/backend/internal/infrastructure/scheduler"
	"github.com/resale/backend/internal/interfaces/http/dto"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	if id := c.GetHeader(RequestIDKey); id != "" {
		return id
	}
	return ""
}

// getRequesterID extracts the requester ID from the request header
func getRequesterID(c *gin.Context) (uuid.UUID, error) {
	requesterIDStr := c.GetHeader("X-Requester-ID")
	if requesterIDStr == "" {
		return uuid.Nil, errors.New("requester ID not found in request")
	}
	return uuid.Parse(requesterIDStr)
}

// getTenantID extracts the tenant ID from the request header
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := c.GetHeader("X-Tenant-ID")
	if tenantIDStr == "" {
		// Default development tenant for backwards compatibility
		return uuid.MustParse("00000000-0000-0000-0000-000000000001"), nil
	}
	return uuid.Parse(tenantIDStr)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	requestID := getRequestID(c)
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	requestID := getRequestID(c)
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		requestID,
		details,
	))
}

// HandleDomainError converts domain errors to HTTP responses. Unclassified
// errors are logged through the request-scoped logger with their real cause;
// the response body only carries the generic message.
func (h *BaseHandler) HandleDomainError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	code, message := classifyError(err)
	if code == dto.ErrCodeInternal {
		logger.FromContext(c.Request.Context()).Error("unhandled domain error", zap.Error(err))
	}
	h.ErrorWithCode(c, code, message)
}

// classifyError maps sentinel errors from the domain and scheduler layers
// to API error codes. Unknown errors become internal errors with a generic
// message so provider details never leak to callers.
func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, dispatch.ErrOrderNotFound):
		return dto.ErrCodeNotFound, "Order not found"
	case errors.Is(err, dispatch.ErrIntegrationNotFound):
		return dto.ErrCodeNotFound, "Integration not found"
	case errors.Is(err, dispatch.ErrDuplicateOrderUUID):
		return dto.ErrCodeAlreadyExists, "Order with this UUID already exists"
	case errors.Is(err, dispatch.ErrNotRouted):
		return dto.ErrCodeNotRouted, "Package has no active route"
	case errors.Is(err, dispatch.ErrDispatchInFlight):
		return dto.ErrCodeDispatchInFlight, "Another dispatch attempt is in flight for this order"
	case errors.Is(err, dispatch.ErrOrderInvalidTransition):
		return dto.ErrCodeInvalidState, "Order state does not allow this operation"
	case errors.Is(err, dispatch.ErrFxAlreadyLocked):
		return dto.ErrCodeInvalidState, "Order financials are already frozen"
	case errors.Is(err, dispatch.ErrProviderNotRegistered):
		return dto.ErrCodeInvalidInput, "Integration references an unknown provider kind"
	case errors.Is(err, dispatch.ErrRouteInvalidTenantID),
		errors.Is(err, dispatch.ErrRouteInvalidPackageID),
		errors.Is(err, dispatch.ErrRouteInvalidIntegrationID),
		errors.Is(err, dispatch.ErrRouteInvalidExternalPackageID):
		return dto.ErrCodeInvalidInput, err.Error()
	case errors.Is(err, scheduler.ErrSyncAlreadyRunning):
		return dto.ErrCodeSyncRunning, "A sync sweep is already in progress"
	case errors.Is(err, scheduler.ErrJobQueueFull):
		return dto.ErrCodeQueueFull, "Dispatch queue is full, retry later"
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}
