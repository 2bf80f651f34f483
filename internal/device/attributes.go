// Package device holds the locally mirrored view of a printer and the state
// machine that keeps it current from the printer's event stream.
package device

import (
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DefaultVersion is assumed when a device does not report its firmware.
const DefaultVersion = "1.0.0"

var materialLabels = map[string]string{
	"zaxe_abs":  "Zaxe ABS",
	"zaxe_pla":  "Zaxe PLA",
	"zaxe_flex": "Zaxe FLEX",
	"zaxe_petg": "Zaxe PETG",
	"custom":    "Custom",
}

// Attributes are the slowly changing facts a device reports about itself.
type Attributes struct {
	Serial            string       `json:"serial"`
	Name              string       `json:"name"`
	Model             string       `json:"model"`
	Nozzle            string       `json:"nozzle"`
	Version           string       `json:"version"`
	Material          string       `json:"material"`
	MaterialLabel     string       `json:"material_label"`
	FilamentColor     string       `json:"filament_color"`
	FilamentRemaining float64      `json:"filament_remaining"`
	HasPin            bool         `json:"has_pin"`
	HasNFCSpool       bool         `json:"has_nfc_spool"`
	PrintingFile      string       `json:"printing_file"`
	ElapsedSeconds    float64      `json:"elapsed_seconds"`
	EstimatedTime     string       `json:"estimated_time"`
	StartTime         time.Time    `json:"start_time"`
	NozzleTemp        float64      `json:"nozzle_temp"`
	NozzleTempTarget  float64      `json:"nozzle_temp_target"`
	BedTemp           float64      `json:"bed_temp"`
	BedTempTarget     float64      `json:"bed_temp_target"`
	IsHTTP            bool         `json:"is_http"`
	Capabilities      Capabilities `json:"capabilities"`
}

// MaterialLabel maps a material id to its display label.
func MaterialLabel(material string) string {
	if label, ok := materialLabels[strings.ToLower(material)]; ok {
		return label
	}
	return material
}

// ParseVersion parses a firmware version, falling back to DefaultVersion.
func ParseVersion(raw string) *semver.Version {
	v, err := semver.NewVersion(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return semver.MustParse(DefaultVersion)
	}
	return v
}

// AtLeast reports whether raw is the same as or newer than min.
func AtLeast(raw, min string) bool {
	return ParseVersion(raw).Compare(semver.MustParse(min)) >= 0
}
