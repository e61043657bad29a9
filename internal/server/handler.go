package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avadispatch/internal/dispatch"
	"github.com/vyrodovalexey/avadispatch/internal/envelope"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
	"github.com/vyrodovalexey/avadispatch/internal/server/middleware"
	"github.com/vyrodovalexey/avadispatch/internal/transport"
)

// Dispatcher forwards requests to backends. *dispatch.Dispatcher
// implements it.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.Request) (*transport.Result, error)
}

// GatewayHandler serves /gateway/:service/*path.
type GatewayHandler struct {
	dispatcher Dispatcher
	logger     observability.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(d Dispatcher, logger observability.Logger) *GatewayHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &GatewayHandler{dispatcher: d, logger: logger}
}

// Handle forwards the request and renders the envelope.
func (h *GatewayHandler) Handle(c *gin.Context) {
	path := c.Param("path")
	if path == "" {
		path = "/"
	}
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}

	body, status, msg := readBody(c)
	if msg != "" {
		h.render(c, envelope.Failure[json.RawMessage](msg, status))
		return
	}

	headers := transport.FromHTTP(c.Request.Header)
	headers.Del("Content-Length")

	result, err := h.dispatcher.Send(c.Request.Context(), dispatch.Request{
		ServiceName: c.Param("service"),
		Path:        path,
		Method:      c.Request.Method,
		Body:        body,
		Headers:     headers,
	})
	if err != nil {
		_ = c.Error(err)
		h.render(c, envelope.FromError(err))
		return
	}

	var data *json.RawMessage
	if c.Request.Method != http.MethodDelete && len(result.Body) > 0 {
		data = &result.Body
	}
	h.render(c, envelope.Success(data, successStatus(c.Request.Method, result.StatusCode)))
}

// successStatus picks the envelope status for a 2xx backend reply. DELETE
// always answers 200, and 204 becomes 200 because it forbids a body.
func successStatus(method string, upstream int) int {
	if method == http.MethodDelete || upstream == http.StatusNoContent {
		return http.StatusOK
	}
	return upstream
}

// readBody returns the JSON payload for POST and PUT. Other verbs carry no
// payload. A non-empty message reports a rejected body.
func readBody(c *gin.Context) (json.RawMessage, int, string) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut:
	default:
		return nil, 0, ""
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "Request body is too large"
		}
		return nil, http.StatusBadRequest, "Request body could not be read"
	}
	if len(raw) == 0 {
		return nil, 0, ""
	}
	if !json.Valid(raw) {
		return nil, http.StatusBadRequest, "Request body must be valid JSON"
	}
	return json.RawMessage(raw), 0, ""
}

func (h *GatewayHandler) render(c *gin.Context, resp envelope.Response[json.RawMessage]) {
	if id := middleware.GetRequestID(c); id != "" {
		resp = resp.WithMetadata("requestId", id)
	}
	c.JSON(resp.StatusCode, resp)
}

func notFound(c *gin.Context) {
	abortWith(c, "Route not found", http.StatusNotFound)
}

func methodNotAllowed(c *gin.Context) {
	abortWith(c, "Method not allowed", http.StatusMethodNotAllowed)
}

func abortWith(c *gin.Context, message string, status int) {
	resp := envelope.Failure[json.RawMessage](message, status)
	if id := middleware.GetRequestID(c); id != "" {
		resp = resp.WithMetadata("requestId", id)
	}
	c.AbortWithStatusJSON(status, resp)
}
