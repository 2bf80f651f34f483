package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

// GetEvents streams device events as server-sent events until the client
// goes away.
func (h *Handler) GetEvents(c *gin.Context) {
	events, cancel := h.devices.Subscribe()
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
