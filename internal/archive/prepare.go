package archive

import (
	"path/filepath"
	"strings"
	"time"
)

// Result is a finished archive on disk.
type Result struct {
	Path     string    `json:"path"`
	Manifest *Manifest `json:"manifest"`
}

// FileName picks the archive file name. Multi-plate archives are timestamped.
func FileName(name string, multiPlate bool, now time.Time) string {
	if multiPlate {
		return "printlink_" + now.Format("20060102_150405") + MultiPlateExt
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "print"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + SinglePlateExt
}

// Prepare builds an archive in dir from every plate that has G-code. A
// multi-plate request with a single printable plate produces a single-plate
// archive.
func Prepare(dir string, plates []Plate, opts Options, now time.Time) (*Result, error) {
	var printable []Plate
	for _, p := range plates {
		if p.GCodePath != "" {
			printable = append(printable, p)
		}
	}
	if len(printable) == 0 {
		return nil, ErrEmpty
	}

	opts.MultiPlate = opts.MultiPlate && len(printable) > 1
	path := filepath.Join(dir, FileName(opts.Name, opts.MultiPlate, now))
	opts.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	b, err := NewBuilder(path, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range printable {
		if err := b.Append(p); err != nil {
			b.Abort()
			return nil, err
		}
	}
	m, err := b.Finalize()
	if err != nil {
		b.Abort()
		return nil, err
	}
	return &Result{Path: path, Manifest: m}, nil
}
