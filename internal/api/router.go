package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"printlink-backend/config"
	"printlink-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/devices", h.GetDevices)
		api.POST("/devices", h.AddDevice)
		api.GET("/devices/:serial", h.GetDevice)
		api.POST("/devices/:serial/commands", h.PostCommand)
		api.POST("/devices/:serial/print", h.PostPrint)
		api.POST("/devices/:serial/switch", h.PostSwitch)
		api.GET("/devices/:serial/avatar", h.GetAvatar)
		api.GET("/devices/:serial/jobs", h.GetJobs)

		api.POST("/archives", h.PostArchive)
		api.GET("/firmware", caching, h.GetFirmware)
		api.GET("/events", h.GetEvents)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
