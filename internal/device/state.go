package device

import "fmt"

// State is the set of volatile flags a device reports. Flags are
// independent; no combination is rejected.
type State struct {
	Printing         bool `json:"printing"`
	Heating          bool `json:"heating"`
	Preheating       bool `json:"preheating"`
	Paused           bool `json:"paused"`
	Calibrating      bool `json:"calibrating"`
	BedOccupied      bool `json:"bed_occupied"`
	BedDirty         bool `json:"bed_dirty"`
	FilamentPresent  bool `json:"filament_present"`
	USBPresent       bool `json:"usb_present"`
	HasError         bool `json:"has_error"`
	Uploading        bool `json:"uploading"`
	UpdatingFirmware bool `json:"updating_firmware"`
	LedsOn           bool `json:"leds_on"`
}

// IsBusy reports whether the device should refuse a new job.
func (s State) IsBusy() bool {
	return s.Printing || s.Heating || s.Calibrating || s.Paused || s.Uploading || s.UpdatingFirmware
}

// UploadProgress is the last reported transfer position.
type UploadProgress struct {
	Percent     int    `json:"percent"`
	Transferred string `json:"transferred"`
	Total       string `json:"total"`
}

// FormatSize renders a byte count the way transfer progress is displayed.
func FormatSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%.2f KB", float64(n)/1024)
}
