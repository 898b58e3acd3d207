package coord

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ZoneFor translates a configured zone into the offset-style identifier
// stored in JobConfig. UTC spellings become "GMT+0"; anything else is
// passed through.
func ZoneFor(tz string) string {
	switch strings.ToUpper(strings.TrimSpace(tz)) {
	case "", "UTC", "Z", "GMT", "ETC/UTC", "GMT+0", "GMT-0", "UTC+0":
		return "GMT+0"
	}
	return strings.TrimSpace(tz)
}

// LoadZone resolves a JobConfig zone: "GMT+H", "GMT-H:MM" and IANA names.
func LoadZone(id string) (*time.Location, error) {
	id = strings.TrimSpace(id)
	up := strings.ToUpper(id)
	if up == "" || up == "UTC" || up == "GMT" || up == "Z" {
		return time.UTC, nil
	}
	if rest, ok := strings.CutPrefix(up, "GMT"); ok && (strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "-")) {
		off, err := parseOffset(rest)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", id, err)
		}
		if off == 0 {
			return time.UTC, nil
		}
		return time.FixedZone(id, off), nil
	}
	return time.LoadLocation(id)
}

// parseOffset parses "+H", "-HH", "+H:MM" and "+HHMM" into seconds.
func parseOffset(s string) (int, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = s[1:]
	var hs, ms string
	switch {
	case strings.Contains(s, ":"):
		hs, ms, _ = strings.Cut(s, ":")
	case len(s) == 4:
		hs, ms = s[:2], s[2:]
	default:
		hs = s
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 18 {
		return 0, fmt.Errorf("bad hours %q", hs)
	}
	m := 0
	if ms != "" {
		m, err = strconv.Atoi(ms)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("bad minutes %q", ms)
		}
	}
	return sign * (h*3600 + m*60), nil
}
