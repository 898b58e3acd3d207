package spec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// cronParser accepts the canonical six-field form (seconds first).
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var cronDescriptors = map[string]string{
	"@yearly":   "0 0 0 1 1 ?",
	"@annually": "0 0 0 1 1 ?",
	"@monthly":  "0 0 0 1 * ?",
	"@weekly":   "0 0 0 ? * SUN",
	"@daily":    "0 0 0 * * ?",
	"@midnight": "0 0 0 * * ?",
	"@hourly":   "0 0 * * * ?",
}

// CanonicalizeCron normalizes a cron expression into six upper-cased fields
// with exactly one of day-of-month/day-of-week set to '?' when the other is
// unrestricted. Five-field input gets a zero seconds field. A seven-field
// input is accepted only with an unrestricted year, which is dropped.
//
// Empty input yields "" (absent). Canonicalization is idempotent.
func CanonicalizeCron(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", nil
	}

	if len(fields) == 1 && strings.HasPrefix(fields[0], "@") {
		d, ok := cronDescriptors[strings.ToLower(fields[0])]
		if !ok {
			return "", fmt.Errorf("%w: unsupported descriptor %q", ErrInvalidCron, fields[0])
		}
		fields = strings.Fields(d)
	}

	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6:
	case 7:
		if y := fields[6]; y != "*" && y != "?" {
			return "", fmt.Errorf("%w: year field %q not supported", ErrInvalidCron, y)
		}
		fields = fields[:6]
	default:
		return "", fmt.Errorf("%w: expected 5 or 6 fields, got %d", ErrInvalidCron, len(fields))
	}

	for i := range fields {
		fields[i] = strings.ToUpper(fields[i])
	}

	domOpen := fields[3] == "*" || fields[3] == "?"
	dowOpen := fields[5] == "*" || fields[5] == "?"
	switch {
	case domOpen && dowOpen:
		fields[3], fields[5] = "*", "?"
	case domOpen:
		fields[3] = "?"
	case dowOpen:
		fields[5] = "?"
	}

	out := strings.Join(fields, " ")
	if _, err := cronParser.Parse(out); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidCron, raw, err)
	}
	return out, nil
}

// ParseCron returns the schedule for a canonical expression.
func ParseCron(canonical string) (cron.Schedule, error) {
	s, err := cronParser.Parse(canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return s, nil
}
