package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	spaceRe   = regexp.MustCompile(`\s+`)
	numericRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// ParsedModel holds a printer model split into family and variant.
type ParsedModel struct {
	Model    string
	SubModel string
}

// ParseModel upper-cases a printer model string, spells '+' as PLUS and
// splits it at the first space into model and sub-model.
func ParseModel(raw string) (ParsedModel, error) {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	if s == "" {
		return ParsedModel{}, fmt.Errorf("empty printer model: %q", raw)
	}
	s = NormalizeModel(s)

	model, sub, _ := strings.Cut(s, " ")
	return ParsedModel{Model: model, SubModel: strings.TrimSpace(sub)}, nil
}

// NormalizeModel upper-cases a model name and replaces '+' with PLUS.
func NormalizeModel(raw string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(raw)), "+", "PLUS")
}

// FirstValue returns the part of raw before the first delim, or def when empty.
func FirstValue(raw, delim, def string) string {
	v, _, _ := strings.Cut(raw, delim)
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

// Percent strips a trailing percent sign, "15%" -> "15".
func Percent(raw string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
}

// IsNumeric reports whether s is a plain decimal number.
func IsNumeric(s string) bool {
	return numericRe.MatchString(strings.TrimSpace(s))
}

// Number parses a decimal string, falling back to def.
func Number(s string, def float64) float64 {
	if !IsNumeric(s) {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// HMS formats a duration in seconds as hh:mm:ss.
func HMS(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// NozzleLabel joins model, sub-model and nozzle size as the device reports them,
// used to compare archive and device nozzle configuration.
func NozzleLabel(parts ...string) string {
	var fields []string
	for _, p := range parts {
		fields = append(fields, strings.Fields(p)...)
	}
	return strings.ToUpper(strings.Join(fields, " "))
}
