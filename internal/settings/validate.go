package settings

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"autoposter/internal/core"
)

// ParseHHMM parses a 24h "HH:MM" clock time.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NormalizeTimes validates every entry and returns them as zero-padded
// "HH:MM", sorted, with duplicates removed.
func NormalizeTimes(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		h, m, err := ParseHHMM(raw)
		if err != nil {
			return nil, invalid(KeyPostingTimes, "%v", err)
		}
		v := fmt.Sprintf("%02d:%02d", h, m)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

func validateImages(n int) error {
	if n < core.MinImagesPerPost || n > core.MaxImagesPerPost {
		return invalid(KeyImagesPerPost, "must be between %d and %d, got %d", core.MinImagesPerPost, core.MaxImagesPerPost, n)
	}
	return nil
}

func validateTimezone(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid(KeyTimezone, "must not be empty")
	}
	if _, err := time.LoadLocation(name); err != nil {
		return invalid(KeyTimezone, "unknown timezone %q", name)
	}
	return nil
}

// Validate checks a complete settings value.
func Validate(cfg core.SchedulerSettings) error {
	if err := validateImages(cfg.ImagesPerPost); err != nil {
		return err
	}
	if _, err := NormalizeTimes(cfg.TriggerTimesLocal); err != nil {
		return err
	}
	return validateTimezone(cfg.TimezoneName)
}

// parseValue coerces value (JSON-decoded or CLI string) for key and returns
// the mutation to apply. Nothing is applied when an error is returned.
func parseValue(key string, value any) (func(*core.SchedulerSettings), error) {
	switch key {
	case KeyEnabled:
		b, err := toBool(value)
		if err != nil {
			return nil, invalid(key, "%v", err)
		}
		return func(c *core.SchedulerSettings) { c.Enabled = b }, nil
	case KeySequential:
		b, err := toBool(value)
		if err != nil {
			return nil, invalid(key, "%v", err)
		}
		return func(c *core.SchedulerSettings) { c.SequentialImageSelection = b }, nil
	case KeyImagesPerPost:
		n, err := toInt(value)
		if err != nil {
			return nil, invalid(key, "%v", err)
		}
		if err := validateImages(n); err != nil {
			return nil, err
		}
		return func(c *core.SchedulerSettings) { c.ImagesPerPost = n }, nil
	case KeyPostingTimes:
		raw, err := toStrings(value)
		if err != nil {
			return nil, invalid(key, "%v", err)
		}
		times, err := NormalizeTimes(raw)
		if err != nil {
			return nil, err
		}
		return func(c *core.SchedulerSettings) { c.TriggerTimesLocal = times }, nil
	case KeyTimezone:
		s, ok := value.(string)
		if !ok {
			return nil, invalid(key, "expected a string, got %T", value)
		}
		s = strings.TrimSpace(s)
		if err := validateTimezone(s); err != nil {
			return nil, err
		}
		return func(c *core.SchedulerSettings) { c.TimezoneName = s }, nil
	default:
		return nil, invalid(key, "unknown setting")
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("expected true/false, got %q", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, found %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return []string{}, nil
		}
		return strings.Split(x, ","), nil
	default:
		return nil, fmt.Errorf("expected a list of HH:MM times, got %T", v)
	}
}
