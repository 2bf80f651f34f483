package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ExtractGCode copies the first plate's G-code out of an archive into dir as
// <name>.gcode. Devices without archive support print from bare G-code.
func ExtractGCode(path, dir string) (string, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return "", err
	}
	if len(m.Plates) == 0 || m.Plates[0].GCode == "" {
		return "", ErrNoGCode
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var entry *zip.File
	for _, f := range r.File {
		if f.Name == m.Plates[0].GCode {
			entry = f
			break
		}
	}
	if entry == nil {
		return "", fmt.Errorf("%w: %s missing", ErrNoGCode, m.Plates[0].GCode)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dst := filepath.Join(dir, stem+".gcode")

	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return dst, out.Close()
}
