// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RoundPrice rounds a price to the instrument's digit count.
func RoundPrice(value float64, digits int) float64 {
	if digits < 0 {
		return value
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(value*pow) / pow
}

// FormatPrice renders a price with the instrument's digit count.
func FormatPrice(value float64, digits int) string {
	if digits < 0 {
		digits = 5
	}
	return fmt.Sprintf("%.*f", digits, value)
}

// FormatLot renders a lot size with two decimals.
func FormatLot(lot float64) string {
	return fmt.Sprintf("%.2f", lot)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// HumanizeDuration renders a duration as compact hours/minutes/seconds
// ("5m", "1h30m", "45s"). Sub-second durations collapse to "0s".
func HumanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if s > 0 && h == 0 {
		fmt.Fprintf(&b, "%ds", s)
	}
	if b.Len() == 0 {
		return "0s"
	}
	return b.String()
}
