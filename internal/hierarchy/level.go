// Package hierarchy defines the three fixed classification levels and their
// ancestor/descendant ordering.
package hierarchy

import (
	"fmt"
	"strings"
)

// Level identifies one tier of the tag hierarchy.
type Level string

const (
	Primary   Level = "primary"
	Secondary Level = "secondary"
	Tertiary  Level = "tertiary"
)

// Order lists every level from most general to most specific.
var Order = []Level{Primary, Secondary, Tertiary}

// Index returns the position of the level within Order, or -1 when unknown.
func Index(level Level) int {
	for i, candidate := range Order {
		if candidate == level {
			return i
		}
	}
	return -1
}

// Valid reports whether the level is one of the known hierarchy levels.
func (l Level) Valid() bool {
	return Index(l) >= 0
}

func (l Level) String() string {
	return string(l)
}

// Parse converts a user supplied name into a Level.
func Parse(value string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown classification level %q", value)
	}
	return level, nil
}

// ParseAll parses and de-duplicates a list of level names. The result is
// returned in hierarchy order.
func ParseAll(values []string) ([]Level, error) {
	seen := make(map[Level]bool, len(values))
	for _, value := range values {
		level, err := Parse(value)
		if err != nil {
			return nil, err
		}
		seen[level] = true
	}
	out := make([]Level, 0, len(seen))
	for _, level := range Order {
		if seen[level] {
			out = append(out, level)
		}
	}
	return out, nil
}

// Sort returns a copy of levels in hierarchy order with unknown entries and
// duplicates removed.
func Sort(levels []Level) []Level {
	seen := make(map[Level]bool, len(levels))
	for _, level := range levels {
		seen[level] = true
	}
	out := make([]Level, 0, len(seen))
	for _, level := range Order {
		if seen[level] {
			out = append(out, level)
		}
	}
	return out
}

// Ancestors returns every level above the given one, most general first.
func Ancestors(level Level) []Level {
	idx := Index(level)
	if idx <= 0 {
		return nil
	}
	out := make([]Level, idx)
	copy(out, Order[:idx])
	return out
}

// Descendants returns every level below the given one, nearest first.
func Descendants(level Level) []Level {
	idx := Index(level)
	if idx < 0 || idx == len(Order)-1 {
		return nil
	}
	out := make([]Level, len(Order)-idx-1)
	copy(out, Order[idx+1:])
	return out
}

// Contains reports whether level appears in levels.
func Contains(levels []Level, level Level) bool {
	for _, candidate := range levels {
		if candidate == level {
			return true
		}
	}
	return false
}

// Strings converts levels to their wire names.
func Strings(levels []Level) []string {
	if levels == nil {
		return nil
	}
	out := make([]string, len(levels))
	for i, level := range levels {
		out[i] = string(level)
	}
	return out
}
