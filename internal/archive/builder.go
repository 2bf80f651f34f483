// Package archive packages sliced plates into the container format device
// firmware accepts for printing.
package archive

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"printlink-backend/internal/parse"
)

const (
	// FormatVersion is written to every manifest.
	FormatVersion  = "3.0.1"
	ManifestName   = "info.json"
	SinglePlateExt = ".zaxe"
	MultiPlateExt  = ".zaxemp"
	gcodeExt       = "zaxe_code"
)

var (
	ErrFinalized       = errors.New("archive already finalized")
	ErrEmpty           = errors.New("archive has no plates")
	ErrDuplicatePlate  = errors.New("plate index already added")
	ErrSinglePlateFull = errors.New("single-plate archive already has a plate")
	ErrNoGCode         = errors.New("plate has no gcode")
	ErrNoManifest      = errors.New("archive has no manifest")
)

// Plate is one sliced plate handed to the builder.
type Plate struct {
	Index            int
	GCodePath        string
	Thumbnails       [][]byte
	MeshPath         string
	Config           PrintConfig
	EstimatedSeconds float64
	FilamentUsed     float64
	LayerCount       int
}

// Options fix archive-wide metadata.
type Options struct {
	Name          string
	MultiPlate    bool
	BedLevel      bool
	SlicerVersion string
	AppVersion    string
}

type buildState int

const (
	stateEmpty buildState = iota
	stateAppending
	stateFinalized
)

// Builder writes plates into a new archive. The manifest is written once by
// Finalize; a builder cannot be reused afterwards.
type Builder struct {
	mu      sync.Mutex
	path    string
	opts    Options
	f       *os.File
	zw      *zip.Writer
	state   buildState
	plates  []PlateInfo
	indices map[int]struct{}
}

// NewBuilder creates the archive file at path.
func NewBuilder(path string, opts Options) (*Builder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &Builder{
		path:    path,
		opts:    opts,
		f:       f,
		zw:      zip.NewWriter(f),
		indices: make(map[int]struct{}),
	}, nil
}

// Path is where the archive is written.
func (b *Builder) Path() string {
	return b.path
}

func (b *Builder) baseName(index int) string {
	if b.opts.MultiPlate {
		return fmt.Sprintf("data_%d", index)
	}
	return "data"
}

// Append adds a plate. Validation and unreadable source files leave the
// builder untouched. A failed write discards the archive; later calls return
// ErrFinalized.
func (b *Builder) Append(p Plate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == stateFinalized:
		return ErrFinalized
	case !b.opts.MultiPlate && len(b.plates) > 0:
		return ErrSinglePlateFull
	case p.GCodePath == "":
		return ErrNoGCode
	}
	if _, dup := b.indices[p.Index]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicatePlate, p.Index)
	}

	gcode, err := os.Open(p.GCodePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.GCodePath, err)
	}
	defer gcode.Close()
	var mesh io.Reader
	if p.MeshPath != "" {
		f, err := os.Open(p.MeshPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", p.MeshPath, err)
		}
		defer f.Close()
		mesh = f
	}

	base := b.baseName(p.Index)
	info := PlateInfo{
		Index:        p.Index,
		Duration:     parse.HMS(p.EstimatedSeconds),
		FilamentUsed: p.FilamentUsed,
		LayerCount:   p.LayerCount,
		GCode:        base + "." + gcodeExt,
	}
	if b.opts.MultiPlate {
		info.PlateName = fmt.Sprintf("Plate %d", p.Index+1)
	}
	p.Config.describe(&info)

	if err := b.writePlate(&info, base, p, gcode, mesh); err != nil {
		b.abortLocked()
		return err
	}

	b.plates = append(b.plates, info)
	b.indices[p.Index] = struct{}{}
	b.state = stateAppending
	return nil
}

func (b *Builder) writePlate(info *PlateInfo, base string, p Plate, gcode, mesh io.Reader) error {
	sum, err := b.copyEntry(info.GCode, gcode)
	if err != nil {
		return err
	}
	info.Checksum = sum

	for k, png := range p.Thumbnails {
		name := base + ".png"
		if k > 0 {
			name = fmt.Sprintf("%s-%d.png", base, k)
		}
		if err := b.writeEntry(name, png); err != nil {
			return err
		}
		info.Snapshots = append(info.Snapshots, name)
	}

	if mesh != nil {
		info.Mesh = base + ".stl"
		if _, err := b.copyEntry(info.Mesh, mesh); err != nil {
			return err
		}
	}
	return nil
}

// Finalize writes the manifest and closes the archive.
func (b *Builder) Finalize() (*Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateFinalized:
		return nil, ErrFinalized
	case stateEmpty:
		return nil, ErrEmpty
	}

	m := &Manifest{
		Name:          b.opts.Name,
		Version:       FormatVersion,
		SlicerVersion: b.opts.SlicerVersion,
		AppVersion:    b.opts.AppVersion,
		BedLevel:      onOff(b.opts.BedLevel),
		ArcWelder:     "off",
		MultiPlate:    b.opts.MultiPlate,
		Plates:        append([]PlateInfo(nil), b.plates...),
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := b.writeEntry(ManifestName, body); err != nil {
		return nil, err
	}

	b.state = stateFinalized
	if err := b.zw.Close(); err != nil {
		b.f.Close()
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := b.f.Close(); err != nil {
		return nil, fmt.Errorf("close archive file: %w", err)
	}
	return m, nil
}

// Abort discards a partially written archive.
func (b *Builder) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abortLocked()
}

func (b *Builder) abortLocked() {
	if b.state == stateFinalized {
		return
	}
	b.state = stateFinalized
	b.zw.Close()
	b.f.Close()
	os.Remove(b.path)
}

func (b *Builder) writeEntry(name string, data []byte) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// copyEntry streams src into entry name and returns its md5 hex digest.
func (b *Builder) copyEntry(name string, src io.Reader) (string, error) {
	w, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return "", fmt.Errorf("add %s: %w", name, err)
	}
	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(w, h), src); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
