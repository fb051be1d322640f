package model

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// Interval is a half-open time range [Start, End) in milliseconds since the
// Unix epoch. The zero value is empty.
type Interval struct {
	Start model.Time
	End   model.Time
}

// Eternity covers every representable instant.
func Eternity() Interval {
	return Interval{Start: model.Time(math.MinInt64), End: model.Time(math.MaxInt64)}
}

func NewInterval(start, end time.Time) Interval {
	return Interval{
		Start: model.TimeFromUnixNano(start.UnixNano()),
		End:   model.TimeFromUnixNano(end.UnixNano()),
	}
}

func (i Interval) IsEmpty() bool {
	return i.Start >= i.End
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) ContainsTime(t model.Time) bool {
	return i.Start <= t && t < i.End
}

// Overlaps reports whether i and o share at least one instant. Abutting
// intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) String() string {
	return formatTime(i.Start) + "/" + formatTime(i.End)
}

func formatTime(t model.Time) string {
	return t.Time().UTC().Format(time.RFC3339Nano)
}

// ParseInterval parses the "start/end" form produced by String, with both
// endpoints in RFC 3339.
func ParseInterval(s string) (Interval, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Interval{}, errors.Errorf("invalid interval %q: expected start/end", s)
	}
	start, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Interval{}, errors.Wrapf(err, "invalid interval start %q", parts[0])
	}
	end, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return Interval{}, errors.Wrapf(err, "invalid interval end %q", parts[1])
	}
	return NewInterval(start, end), nil
}

func (i Interval) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", i.String())), nil
}

func (i *Interval) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.Errorf("invalid interval %s: expected a string", b)
	}
	parsed, err := ParseInterval(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func (i Interval) MarshalYAML() (interface{}, error) {
	return i.String(), nil
}

func (i *Interval) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseInterval(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// CompareIntervals orders intervals by start, then end.
func CompareIntervals(a, b Interval) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.End, b.End)
}

func SortIntervals(intervals []Interval) {
	slices.SortFunc(intervals, CompareIntervals)
}

// Umbrella returns the smallest interval containing every given interval,
// or the zero Interval if none are given.
func Umbrella(intervals []Interval) Interval {
	if len(intervals) == 0 {
		return Interval{}
	}
	u := intervals[0]
	for _, i := range intervals[1:] {
		if i.Start < u.Start {
			u.Start = i.Start
		}
		if i.End > u.End {
			u.End = i.End
		}
	}
	return u
}

// Subtract returns the maximal disjoint subintervals of total that overlap no
// skip, or nil if nothing remains. Skips must be sorted by start then end. A
// skip overlapping an edge of the remaining range trims that edge; a skip that
// does not overlap the remaining range is ignored.
func Subtract(total Interval, skips []Interval) []Interval {
	var remaining []Interval
	remStart, remEnd := total.Start, total.End
	for _, skip := range skips {
		switch {
		case skip.Start < remStart && skip.End > remStart:
			remStart = skip.End
		case skip.Start < remEnd && skip.End > remEnd:
			remEnd = skip.Start
		case remStart <= skip.Start && skip.End <= remEnd:
			if remStart < skip.Start {
				remaining = append(remaining, Interval{Start: remStart, End: skip.Start})
			}
			remStart = skip.End
		default:
			// Degenerate input, nothing left to subtract it from.
		}
	}
	if remStart < remEnd {
		remaining = append(remaining, Interval{Start: remStart, End: remEnd})
	}
	return remaining
}
