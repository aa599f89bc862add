package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Point is a polygon vertex, written as [x, y] in the site file
type Point struct {
	X float64
	Y float64
}

func (p *Point) UnmarshalYAML(node *yaml.Node) error {
	var xy []float64
	if err := node.Decode(&xy); err != nil {
		return fmt.Errorf("line %d: point must be [x, y]: %w", node.Line, err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("line %d: point must have 2 coordinates, got %d", node.Line, len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

func (p Point) MarshalYAML() (interface{}, error) {
	return []float64{p.X, p.Y}, nil
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{p.X, p.Y})
}

// ClockTime is a wall-clock time of day in minutes since midnight
type ClockTime int

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime parses "HH:MM"
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	return NewClockTime(t.Hour(), t.Minute()), nil
}

// Of returns the clock time of t in t's own location
func Of(t time.Time) ClockTime {
	return NewClockTime(t.Hour(), t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c *ClockTime) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseClockTime(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// TimeWindow is a half-open daily window [Start, End). A window whose end is
// before its start wraps past midnight.
type TimeWindow struct {
	Start ClockTime `yaml:"start" json:"start"`
	End   ClockTime `yaml:"end" json:"end"`
}

// Contains reports whether t (already in site local time) falls inside the window
func (w TimeWindow) Contains(t time.Time) bool {
	m := Of(t)
	if w.Start <= w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// Weekday is a day name in the site file ("sunday", "Sun", ...)
type Weekday time.Weekday

func (d *Weekday) UnmarshalYAML(node *yaml.Node) error {
	name := strings.ToLower(strings.TrimSpace(node.Value))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if name == full || name == full[:3] {
			*d = Weekday(wd)
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown weekday %q", node.Line, node.Value)
}

func (d Weekday) MarshalYAML() (interface{}, error) {
	return strings.ToLower(time.Weekday(d).String()), nil
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(time.Weekday(d).String()))
}
