package util

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// timeUnit represents a single unit of time (hours, minutes, or seconds) with its value and labels.
type timeUnit struct {
	value    int64
	singular string
	plural   string
}

// Unique returns the distinct values of slice in order of first appearance.
func Unique(slice []string) []string {
	seen := make(map[string]struct{}, len(slice))
	result := make([]string, 0, len(slice))

	for _, value := range slice {
		if _, ok := seen[value]; ok {
			continue
		}

		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}

// FormatDuration converts a time.Duration into a human-readable string such as
// "1 hour, 2 minutes, 3 seconds". A zero duration yields "0 seconds".
func FormatDuration(duration time.Duration) string {
	const (
		minutesPerHour   = 60
		secondsPerMinute = 60
	)

	units := []timeUnit{
		{int64(duration.Hours()), "hour", "hours"},
		{int64(math.Mod(duration.Minutes(), minutesPerHour)), "minute", "minutes"},
		{int64(math.Mod(duration.Seconds(), secondsPerMinute)), "second", "seconds"},
	}

	parts := make([]string, 0, len(units))
	for i, unit := range units {
		parts = append(parts, FormatTimeUnit(
			unit.value,
			unit.singular,
			unit.plural,
			i == len(units)-1 && len(FilterEmpty(parts)) == 0,
		))
	}

	joined := strings.Join(FilterEmpty(parts), ", ")
	if joined == "" {
		return "0 seconds"
	}

	return joined
}

// FormatTimeUnit formats a single unit, skipping zero values unless forceInclude is set.
func FormatTimeUnit(value int64, singular, plural string, forceInclude bool) string {
	switch {
	case value == 1:
		return "1 " + singular
	case value > 1 || forceInclude:
		return fmt.Sprintf("%d %s", value, plural)
	default:
		return ""
	}
}

// FilterEmpty removes empty strings from parts.
func FilterEmpty(parts []string) []string {
	var filtered []string

	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}

	return filtered
}
