package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"printlink-backend/internal/archive"
)

type plateRequest struct {
	Index            int               `json:"index"`
	GCodePath        string            `json:"gcode_path"`
	MeshPath         string            `json:"mesh_path"`
	Thumbnails       [][]byte          `json:"thumbnails"`
	Config           map[string]string `json:"config"`
	EstimatedSeconds float64           `json:"estimated_seconds"`
	FilamentUsed     float64           `json:"filament_used"`
	LayerCount       int               `json:"layer_count"`
}

type archiveRequest struct {
	Name       string         `json:"name"`
	MultiPlate bool           `json:"multi_plate"`
	BedLevel   bool           `json:"bed_level"`
	Plates     []plateRequest `json:"plates" binding:"required,min=1"`
}

// PostArchive packs sliced plates into a printable archive.
func (h *Handler) PostArchive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	plates := make([]archive.Plate, 0, len(req.Plates))
	for _, p := range req.Plates {
		plates = append(plates, archive.Plate{
			Index:            p.Index,
			GCodePath:        p.GCodePath,
			MeshPath:         p.MeshPath,
			Thumbnails:       p.Thumbnails,
			Config:           archive.PrintConfig(p.Config),
			EstimatedSeconds: p.EstimatedSeconds,
			FilamentUsed:     p.FilamentUsed,
			LayerCount:       p.LayerCount,
		})
	}

	res, err := archive.Prepare(h.archives.OutputDir, plates, archive.Options{
		Name:          req.Name,
		MultiPlate:    req.MultiPlate,
		BedLevel:      req.BedLevel,
		SlicerVersion: h.archives.SlicerVersion,
		AppVersion:    h.archives.AppVersion,
	}, time.Now())
	if err != nil {
		h.fail(c, err)
		return
	}

	h.log.Info().Str("path", res.Path).Int("plates", len(res.Manifest.Plates)).Msg("archive built")
	c.JSON(http.StatusCreated, res)
}

// GetFirmware lists the latest published firmware per model.
func (h *Handler) GetFirmware(c *gin.Context) {
	if h.firmware == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.firmware.Snapshot())
}
