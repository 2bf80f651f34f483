package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"printlink-backend/internal/archive"
	"printlink-backend/internal/device"
	"printlink-backend/internal/registry"
	"printlink-backend/internal/store"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice),
		errors.Is(err, registry.ErrNoAvatar),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case registry.IsGuardError(err),
		errors.Is(err, registry.ErrDeviceOffline),
		errors.Is(err, registry.ErrNoAlternateTransport):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnsupportedCommand),
		errors.Is(err, registry.ErrInvalidAddress),
		errors.Is(err, registry.ErrEmptyArchive),
		errors.Is(err, device.ErrUnknownCommand),
		errors.Is(err, device.ErrMissingName),
		errors.Is(err, archive.ErrEmpty),
		errors.Is(err, archive.ErrNoManifest),
		errors.Is(err, archive.ErrDuplicatePlate),
		errors.Is(err, archive.ErrSinglePlateFull),
		errors.Is(err, archive.ErrNoGCode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
