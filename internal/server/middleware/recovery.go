package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avadispatch/internal/envelope"
	"github.com/vyrodovalexey/avadispatch/internal/gwerrors"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// Recovery is the last-resort error boundary. A panic is logged with its
// stack and answered with a valid 500 envelope.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.Error("panic recovered",
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("requestID", GetRequestID(c)),
					observability.String("stack", string(debug.Stack())),
				)

				if span := GetSpan(c); span != nil {
					span.RecordError(fmt.Errorf("panic: %v", err))
				}

				if c.Writer.Written() {
					c.Abort()
					return
				}
				resp := envelope.FromError(gwerrors.Internal("An unexpected error occurred", nil))
				if id := GetRequestID(c); id != "" {
					resp = resp.WithMetadata("requestId", id)
				}
				c.AbortWithStatusJSON(resp.StatusCode, resp)
			}
		}()

		c.Next()
	}
}
