package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/reporting"
	"fifo-allocator/internal/storage"
	"fifo-allocator/internal/verification"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeRunInProgress    = "RUN_IN_PROGRESS"
	ErrCodeRunSuperseded    = "RUN_SUPERSEDED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, storage.ErrRunInProgress):
		Conflict(c, ErrCodeRunInProgress, err.Error())
	case errors.Is(err, storage.ErrSuperseded):
		Conflict(c, ErrCodeRunSuperseded, err.Error())
	case errors.Is(err, reporting.ErrVersionRequired),
		errors.Is(err, reporting.ErrInvalidRange),
		errors.Is(err, recompute.ErrInvalidRequest),
		errors.Is(err, verification.ErrInvalidVersion),
		errors.Is(err, storage.ErrInvalidInput):
		ValidationFailed(c, err.Error())
	default:
		handleError(c, err)
	}
}

// Success sends a 200 response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// ValidationFailed sends a 400 response for a well-formed request with invalid values
func ValidationFailed(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeValidationFailed,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, code, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// handleError records the error on the context for the logging middleware
// and hides its text from the client.
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)
	InternalError(c, "An unexpected error occurred")
}
