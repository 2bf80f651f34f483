package archive

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// PlateInfo describes one printable plate inside an archive.
type PlateInfo struct {
	PlateName           string   `json:"plate_name,omitempty"`
	Index               int      `json:"plate_idx"`
	Checksum            string   `json:"checksum"`
	Duration            string   `json:"duration"`
	LayerHeight         float64  `json:"layer_height"`
	InfillDensity       float64  `json:"infill_density"`
	Raft                string   `json:"raft"`
	SupportAngle        float64  `json:"support_angle"`
	Material            string   `json:"material"`
	Model               string   `json:"model"`
	SubModel            string   `json:"sub_model"`
	NozzleDiameter      float64  `json:"nozzle_diameter"`
	PrinterProfile      string   `json:"printer_profile"`
	FilamentUsed        float64  `json:"filament_used"`
	ExtruderTemperature float64  `json:"extruder_temperature"`
	BedTemperature      float64  `json:"bed_temperature"`
	StandbyTemperature  float64  `json:"standby_temperature"`
	LayerCount          int      `json:"layer_count"`
	GCode               string   `json:"gcode"`
	Snapshots           []string `json:"snapshots,omitempty"`
	Mesh                string   `json:"mesh,omitempty"`
}

type header struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	SlicerVersion string `json:"slicer_version"`
	AppVersion    string `json:"app_version"`
	BedLevel      string `json:"bed_level"`
	ArcWelder     string `json:"arc_welder"`
}

// Manifest is the content of info.json. Single-plate archives flatten their
// only plate into the root object; multi-plate archives list them under
// "plates".
type Manifest struct {
	Name          string
	Version       string
	SlicerVersion string
	AppVersion    string
	BedLevel      string
	ArcWelder     string
	MultiPlate    bool
	Plates        []PlateInfo
}

func (m Manifest) header() header {
	return header{
		Name:          m.Name,
		Version:       m.Version,
		SlicerVersion: m.SlicerVersion,
		AppVersion:    m.AppVersion,
		BedLevel:      m.BedLevel,
		ArcWelder:     m.ArcWelder,
	}
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.MultiPlate {
		return json.Marshal(struct {
			header
			Plates []PlateInfo `json:"plates"`
		}{m.header(), m.Plates})
	}
	if len(m.Plates) != 1 {
		return nil, fmt.Errorf("single-plate manifest has %d plates", len(m.Plates))
	}
	return json.Marshal(struct {
		header
		PlateInfo
	}{m.header(), m.Plates[0]})
}

func (m *Manifest) UnmarshalJSON(b []byte) error {
	var aux struct {
		header
		PlateInfo
		Plates []PlateInfo `json:"plates"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	h := aux.header
	*m = Manifest{
		Name:          h.Name,
		Version:       h.Version,
		SlicerVersion: h.SlicerVersion,
		AppVersion:    h.AppVersion,
		BedLevel:      h.BedLevel,
		ArcWelder:     h.ArcWelder,
	}
	if aux.Plates != nil {
		m.MultiPlate = true
		m.Plates = aux.Plates
		return nil
	}
	m.Plates = []PlateInfo{aux.PlateInfo}
	return nil
}

// Indices returns the plate indices in manifest order.
func (m Manifest) Indices() []int {
	out := make([]int, 0, len(m.Plates))
	for _, p := range m.Plates {
		out = append(out, p.Index)
	}
	return out
}

// ReadManifest opens an archive and decodes its info.json.
func ReadManifest(path string) (*Manifest, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var entry *zip.File
	for _, f := range r.File {
		if f.Name == ManifestName {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, ManifestName)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ManifestName, err)
	}
	return &m, nil
}

// Entries lists the file names stored in an archive.
func Entries(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}
