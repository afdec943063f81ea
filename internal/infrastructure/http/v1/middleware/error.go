package middleware

import (
	"github.com/gin-gonic/gin"

	"metapus/internal/core/apperror"
	"metapus/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details. It must sit
// closer to the route handler than Idempotency so that, when a handler
// defers its error response here (c.Error + c.Abort), the body Idempotency's
// capturing writer sees is the one actually sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError renders err as the platform's standard JSON error body and
// writes it to c. Callers that need to short-circuit before reaching
// ErrorHandler in the chain (e.g. the Idempotency middleware rejecting a
// request before the handler runs) call this directly instead of relying on
// c.Error + c.Abort to reach this middleware's deferred check.
func WriteError(c *gin.Context, err error) {
	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		})
		return
	}

	logger.Error(c.Request.Context(), "unhandled error", "error", err)
	c.JSON(500, gin.H{
		"code":    apperror.CodeInternal,
		"message": "Internal server error",
		"details": map[string]any{
			"request_id": c.GetString("request_id"),
		},
	})
}
