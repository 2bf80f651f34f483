package archive

import (
	"math"
	"strconv"
	"strings"

	"printlink-backend/internal/parse"
)

// PrintConfig is the slicer's key/value configuration for one plate.
type PrintConfig map[string]string

// Value returns key's value, or def when missing or empty.
func (c PrintConfig) Value(key, def string) string {
	if v, ok := c[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// First returns the first delim-separated item of key's value.
func (c PrintConfig) First(key, def, delim string) string {
	return parse.FirstValue(c.Value(key, def), delim, def)
}

func (c PrintConfig) number(key string, def float64) float64 {
	return parse.Number(c.First(key, "", ","), def)
}

func (c PrintConfig) count(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.First(key, "0", ",")))
	if err != nil {
		return 0
	}
	return n
}

// describe derives the display fields of a plate entry from its config.
func (c PrintConfig) describe(info *PlateInfo) {
	model, err := parse.ParseModel(c.Value("printer_model", ""))
	if err == nil {
		info.Model = model.Model
		info.SubModel = model.SubModel
	}

	switch {
	case c.count("raft_layers") > 0:
		info.Raft = "raft"
	case c.count("skirt_loops") > 0:
		info.Raft = "skirt"
	default:
		info.Raft = "none"
	}

	info.LayerHeight = c.number("layer_height", 0)
	info.InfillDensity = parse.Number(parse.Percent(c.Value("sparse_infill_density", "0")), 0)
	info.SupportAngle = c.number("support_angle", 0)
	info.Material = c.First("filament_notes", "0", ";")
	info.PrinterProfile = c.Value("printer_settings_id", "")
	info.NozzleDiameter = parse.Number(c.First("printer_variant", "0.4", ","), 0.4)
	info.ExtruderTemperature = c.number("nozzle_temperature_initial_layer", 0)
	info.BedTemperature = c.number("eng_plate_temp", 0)

	standby := c.number("nozzle_temperature", 0) + c.number("standby_temperature_delta", 0)
	info.StandbyTemperature = math.Round(standby*100) / 100
}
