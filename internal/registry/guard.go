package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"printlink-backend/internal/archive"
	"printlink-backend/internal/device"
	"printlink-backend/internal/parse"
)

var (
	ErrDeviceBusy            = errors.New("device is busy")
	ErrMultiPlateUnsupported = errors.New("device cannot print multi-plate archives")
	ErrModelMismatch         = errors.New("device model does not match the slice")
	ErrMaterialMismatch      = errors.New("loaded material does not match the slice")
	ErrNoFilament            = errors.New("no filament sensed")
	ErrNozzleMismatch        = errors.New("installed nozzle does not match the slice")
	ErrEmptyArchive          = errors.New("archive has no plates")
)

const customMaterial = "custom"

// CheckPrint decides whether a device may print an archive. force accepts a
// missing filament warning and nothing else.
func CheckPrint(view device.Snapshot, m *archive.Manifest, force bool) error {
	attrs, state := view.Attributes, view.State
	caps := attrs.Capabilities

	if state.IsBusy() {
		return ErrDeviceBusy
	}
	if len(m.Plates) == 0 {
		return ErrEmptyArchive
	}
	if m.MultiPlate && !caps.MultiPlate {
		return ErrMultiPlateUnsupported
	}

	deviceModel := strings.ReplaceAll(parse.NormalizeModel(attrs.Model), " ", "")
	for _, p := range m.Plates {
		sliced := strings.ReplaceAll(parse.NormalizeModel(p.Model+p.SubModel), " ", "")
		if sliced != deviceModel {
			return fmt.Errorf("%w: device %s, slice %s", ErrModelMismatch, deviceModel, sliced)
		}
	}

	material := strings.ToLower(attrs.Material)
	if !caps.Lite && material != customMaterial && state.FilamentPresent {
		for _, p := range m.Plates {
			if !strings.EqualFold(p.Material, material) {
				return fmt.Errorf("%w: device %s, slice %s", ErrMaterialMismatch, material, p.Material)
			}
		}
	}

	if !state.FilamentPresent && caps.FilamentPresentInfo && !force {
		return ErrNoFilament
	}

	if !caps.Lite {
		installed := parse.Number(attrs.Nozzle, 0.4)
		for _, p := range m.Plates {
			if p.NozzleDiameter != installed {
				return fmt.Errorf("%w: device %s, slice %s", ErrNozzleMismatch,
					parse.NozzleLabel(attrs.Model, formatNozzle(installed)),
					parse.NozzleLabel(p.Model, p.SubModel, formatNozzle(p.NozzleDiameter)))
			}
		}
	}
	return nil
}

func formatNozzle(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// IsGuardError reports whether err is a print refusal rather than a failure.
func IsGuardError(err error) bool {
	for _, target := range []error{
		ErrDeviceBusy, ErrMultiPlateUnsupported, ErrModelMismatch,
		ErrMaterialMismatch, ErrNoFilament, ErrNozzleMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
