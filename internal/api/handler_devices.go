package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"printlink-backend/internal/device"
	"printlink-backend/internal/model"
	"printlink-backend/internal/registry"
)

// GetDevices handles GET /api/devices?filter=&q=.
func (h *Handler) GetDevices(c *gin.Context) {
	filter, err := registry.ParseFilter(c.Query("filter"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.devices.List(filter, c.Query("q")))
}

// GetDevice handles GET /api/devices/:serial.
func (h *Handler) GetDevice(c *gin.Context) {
	view, err := h.devices.Get(c.Param("serial"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type addDeviceRequest struct {
	IP   string `json:"ip" binding:"required"`
	Port int    `json:"port"`
}

// AddDevice connects to a printer by address.
func (h *Handler) AddDevice(c *gin.Context) {
	var req addDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	started, err := h.devices.AddManual(req.IP, req.Port)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !started {
		c.JSON(http.StatusOK, gin.H{"status": "already connected"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting"})
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
	Name    string `json:"name"`
}

// PostCommand sends a fire-and-forget command to a printer.
func (h *Handler) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cmd, err := device.ParseCommand(req.Command)
	if err != nil {
		h.fail(c, err)
		return
	}
	var extra map[string]any
	if req.Name != "" {
		extra = map[string]any{"name": req.Name}
	}

	if err := h.devices.SendCommand(c.Param("serial"), cmd, extra); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// PostSwitch toggles the active transport of a printer.
func (h *Handler) PostSwitch(c *gin.Context) {
	kind, err := h.devices.SwitchTransport(c.Param("serial"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transport": kind})
}

// GetAvatar serves the latest camera snapshot.
func (h *Handler) GetAvatar(c *gin.Context) {
	png, err := h.devices.Avatar(c.Param("serial"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

type printRequest struct {
	ArchivePath string `json:"archive_path" form:"archive_path"`
	Force       bool   `json:"force" form:"force"`
}

// PostPrint uploads an archive to a printer. The archive is either a path on
// this host or a multipart "file" field.
func (h *Handler) PostPrint(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if file, err := c.FormFile("file"); err == nil {
		dst := filepath.Join(h.archives.UploadDir, uuid.NewString()+"_"+filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, dst); err != nil {
			h.fail(c, err)
			return
		}
		req.ArchivePath = dst
	}

	if req.ArchivePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive_path or file is required"})
		return
	}
	if _, err := os.Stat(req.ArchivePath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive not found"})
		return
	}

	job, err := h.devices.Print(c.Request.Context(), c.Param("serial"), registry.PrintRequest{
		ArchivePath: req.ArchivePath,
		Force:       req.Force,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newJobResponse(*job))
}

type jobResponse struct {
	ID         uuid.UUID            `json:"id"`
	Serial     string               `json:"serial"`
	File       string               `json:"file"`
	Transport  string               `json:"transport"`
	Status     model.PrintJobStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

func newJobResponse(j model.PrintJob) jobResponse {
	return jobResponse{
		ID:         j.ID,
		Serial:     j.DeviceSerial,
		File:       j.File,
		Transport:  j.Transport,
		Status:     j.Status,
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

// GetJobs lists the most recent print jobs of a printer.
func (h *Handler) GetJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	jobs, err := h.store.RecentPrintJobs(c.Request.Context(), c.Param("serial"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, newJobResponse(j))
	}
	c.JSON(http.StatusOK, resp)
}
