// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes returned by the API.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAgentNotFound   = "AGENT_NOT_FOUND"
	CodeBindingNotFound = "BINDING_NOT_FOUND"
	CodeHistoryDisabled = "HISTORY_DISABLED"
	CodeNotRecording    = "NOT_RECORDING"
	CodeSessionClosed   = "SESSION_CLOSED"
	CodeInternal        = "INTERNAL_ERROR"
)

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
