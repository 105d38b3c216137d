package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamHeartbeat keeps idle connections open through proxies.
var streamHeartbeat = 25 * time.Second

// streamBoard sends the current board and every later board of the project
// as server-sent events until the client goes away or the session closes.
func (h *handler) streamBoard(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	boards, stop := s.Watch()
	defer stop()
	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case b, ok := <-boards:
			if !ok {
				return nil
			}
			data, err := sonic.ConfigStd.Marshal(b)
			if err != nil {
				h.logger.WithError(err).Error("encode board event")
				return nil
			}
			if _, err := res.Write([]byte("event: board\ndata: ")); err != nil {
				return nil
			}
			if _, err := res.Write(data); err != nil {
				return nil
			}
			if _, err := res.Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
