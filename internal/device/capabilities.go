package device

import "strings"

// Capabilities are derived from model and firmware version only.
type Capabilities struct {
	MultiPlate          bool `json:"multi_plate"`
	MeshPreview         bool `json:"mesh_preview"`
	Thumbnails          bool `json:"thumbnails"`
	Snapshot            bool `json:"snapshot"`
	Camera              bool `json:"camera"`
	CameraStream        bool `json:"camera_stream"`
	ToggleLeds          bool `json:"toggle_leds"`
	RemoteUpdate        bool `json:"remote_update"`
	UnloadFilament      bool `json:"unload_filament"`
	PrinterCover        bool `json:"printer_cover"`
	FilamentPresentInfo bool `json:"filament_present_info"`
	Lite                bool `json:"lite"`
	NoTLS               bool `json:"no_tls"`
}

var (
	modernModels    = []string{"z2", "z3", "z4", "x4"}
	snapshotModels  = []string{"z1", "z2", "z3", "z4", "x4"}
	multiPlateModel = []string{"z3", "z4", "x4"}
	coverModels     = []string{"z1", "z3", "x1", "x2", "x3"}
	liteModels      = []string{"lite", "x3"}
)

// matchesAny reports whether model contains any of the given family names.
func matchesAny(model string, families []string) bool {
	for _, f := range families {
		if strings.Contains(model, f) {
			return true
		}
	}
	return false
}

// CapabilitiesFor computes the feature set of a model at a firmware version.
func CapabilitiesFor(model, version string) Capabilities {
	model = strings.ToLower(model)
	lite := matchesAny(model, liteModels)
	camera := matchesAny(model, modernModels)

	return Capabilities{
		MultiPlate:          matchesAny(model, multiPlateModel) && AtLeast(version, "3.5.78"),
		MeshPreview:         matchesAny(model, modernModels),
		Thumbnails:          matchesAny(model, snapshotModels),
		Snapshot:            matchesAny(model, snapshotModels),
		Camera:              camera,
		CameraStream:        camera && AtLeast(version, "3.3.80"),
		ToggleLeds:          matchesAny(model, multiPlateModel) && AtLeast(version, "3.5.70"),
		RemoteUpdate:        strings.Contains(model, "z3") && AtLeast(version, "3.5.70"),
		UnloadFilament:      matchesAny(model, snapshotModels),
		PrinterCover:        matchesAny(model, coverModels),
		FilamentPresentInfo: AtLeast(version, "3.5.0"),
		Lite:                lite,
		NoTLS:               matchesAny(model, modernModels) || lite,
	}
}
