package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Itoa is a minimal int-to-string converter for hot-path usage,
// formatting into a stack buffer instead of calling strconv.Itoa.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParseTF parses a human timeframe string ("30s", "10m", "1h", "1d") into
// a duration in seconds. Bare numbers are treated as minutes, matching the
// feed's bar granularity.
func ParseTF(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	mult := 60
	switch s[len(s)-1] {
	case 's':
		mult, s = 1, s[:len(s)-1]
	case 'm':
		mult, s = 60, s[:len(s)-1]
	case 'h':
		mult, s = 3600, s[:len(s)-1]
	case 'd':
		mult, s = 86400, s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("timeframe must be positive, got %d", n)
	}
	return n * mult, nil
}

// FormatTF renders a timeframe in seconds back to its shortest human form.
func FormatTF(tf int) string {
	switch {
	case tf >= 86400 && tf%86400 == 0:
		return Itoa(tf/86400) + "d"
	case tf >= 3600 && tf%3600 == 0:
		return Itoa(tf/3600) + "h"
	case tf >= 60 && tf%60 == 0:
		return Itoa(tf/60) + "m"
	default:
		return Itoa(tf) + "s"
	}
}
