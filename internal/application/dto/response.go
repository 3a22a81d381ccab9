package dto

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	*errors.ErrorResponse
	RequestID string `json:"request_id,omitempty"`
}

// SendError writes err as its external status and body and aborts the chain.
// Authentication failures never reveal which check failed.
func SendError(c *gin.Context, err error) {
	status, resp := errors.ToErrorResponse(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, &ErrorBody{
		ErrorResponse: resp,
		RequestID:     c.GetString(string(constants.ContextKeyRequestID)),
	})
}

// SendSuccess writes data with status.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
