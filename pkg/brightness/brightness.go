// Package brightness defines the normalized brightness level shared by every
// display driver.
package brightness

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a brightness level in [0.0, 1.0].
type Value float64

const (
	Min Value = 0
	Max Value = 1
)

// Clamp limits v to [Min, Max]. NaN clamps to Min.
func Clamp(v float64) Value {
	if math.IsNaN(v) || v < 0 {
		return Min
	}
	if v > 1 {
		return Max
	}
	return Value(v)
}

// FromPercent converts a 0-100 percentage.
func FromPercent(p int) Value {
	return Clamp(float64(p) / 100)
}

// Percent returns the value as a rounded 0-100 percentage.
func (v Value) Percent() int {
	return int(math.Round(float64(Clamp(float64(v))) * 100))
}

// String returns the two-decimal wire form, e.g. "0.45".
func (v Value) String() string {
	return strconv.FormatFloat(float64(Clamp(float64(v))), 'f', 2, 64)
}

// Parse reads a decimal floating-point string and clamps it. Infinities,
// NaN and hexadecimal floats are rejected.
func Parse(s string) (Value, error) {
	t := strings.TrimSpace(s)
	if strings.ContainsAny(t, "xX") {
		return 0, fmt.Errorf("invalid brightness %q", s)
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid brightness %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid brightness %q", s)
	}
	return Clamp(f), nil
}

// ParseLevel accepts either a fraction ("0.3") or a percentage ("30%").
func ParseLevel(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if p, ok := strings.CutSuffix(s, "%"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("invalid brightness %q: %w", s, err)
		}
		return FromPercent(n), nil
	}
	return Parse(s)
}
