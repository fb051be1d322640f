// Package granularity implements aligned time bucketing over absolute time.
// A granularity maps any instant to the bucket containing it and enumerates
// the buckets intersecting an interval, in increasing order.
package granularity

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"

	"github.com/grafana/kiln/pkg/iter"
	kilnmodel "github.com/grafana/kiln/pkg/model"
)

type Granularity interface {
	// BucketStart aligns t down to the nearest bucket boundary.
	BucketStart(t model.Time) model.Time

	// Bucket returns the bucket containing t.
	Bucket(t model.Time) kilnmodel.Interval

	// Iterable enumerates every bucket intersecting in, in increasing order.
	// The iteration is lazy: the interval may be arbitrarily large.
	Iterable(in kilnmodel.Interval) iter.Iterator[kilnmodel.Interval]

	// IsAligned reports whether in is exactly one bucket.
	IsAligned(in kilnmodel.Interval) bool

	String() string
}

// Equal reports whether two granularities have the same name: standard
// granularities compare by name, duration granularities by their duration. A
// standard granularity never equals a duration granularity, even one of the
// same length.
func Equal(a, b Granularity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

var standard = map[string]Granularity{}

func registerStandard(g Granularity) Granularity {
	standard[g.String()] = g
	return g
}

var (
	Second        = registerStandard(fixed{name: "SECOND", d: time.Second})
	Minute        = registerStandard(fixed{name: "MINUTE", d: time.Minute})
	FiveMinute    = registerStandard(fixed{name: "FIVE_MINUTE", d: 5 * time.Minute})
	TenMinute     = registerStandard(fixed{name: "TEN_MINUTE", d: 10 * time.Minute})
	FifteenMinute = registerStandard(fixed{name: "FIFTEEN_MINUTE", d: 15 * time.Minute})
	ThirtyMinute  = registerStandard(fixed{name: "THIRTY_MINUTE", d: 30 * time.Minute})
	Hour          = registerStandard(fixed{name: "HOUR", d: time.Hour})
	SixHour       = registerStandard(fixed{name: "SIX_HOUR", d: 6 * time.Hour})
	EightHour     = registerStandard(fixed{name: "EIGHT_HOUR", d: 8 * time.Hour})
	Day           = registerStandard(fixed{name: "DAY", d: 24 * time.Hour})
	Week          = registerStandard(calendar{name: "WEEK", days: 7})
	Month         = registerStandard(calendar{name: "MONTH", months: 1})
	Quarter       = registerStandard(calendar{name: "QUARTER", months: 3})
	Year          = registerStandard(calendar{name: "YEAR", months: 12})
	All           = registerStandard(all{})
)

// NewDuration returns a granularity of fixed length d, with buckets aligned
// to the Unix epoch.
func NewDuration(d time.Duration) Granularity {
	return fixed{name: strings.ToUpper(d.String()), d: d}
}

// FromString resolves a standard granularity by name (case-insensitive), or
// falls back to parsing the name as a duration ("90m", "6h").
func FromString(name string) (Granularity, error) {
	if g, ok := standard[strings.ToUpper(name)]; ok {
		return g, nil
	}
	d, err := time.ParseDuration(name)
	if err != nil {
		return nil, errors.Errorf("unknown granularity %q", name)
	}
	if d <= 0 {
		return nil, errors.Errorf("granularity %q must be positive", name)
	}
	return NewDuration(d), nil
}

// bucketIterator walks buckets of g intersecting [from, end), lazily.
type bucketIterator struct {
	g       Granularity
	from    model.Time
	end     model.Time
	cur     kilnmodel.Interval
	started bool
}

func newBucketIterator(g Granularity, in kilnmodel.Interval) iter.Iterator[kilnmodel.Interval] {
	return &bucketIterator{g: g, from: in.Start, end: in.End}
}

func (it *bucketIterator) Next() bool {
	var next kilnmodel.Interval
	if !it.started {
		if it.from >= it.end {
			return false
		}
		next = it.g.Bucket(it.from)
		it.started = true
	} else {
		next = it.g.Bucket(it.cur.End)
		// A bucket that does not advance would loop forever (ALL, or
		// arithmetic saturation near the ends of time).
		if next.Start <= it.cur.Start {
			return false
		}
	}
	if next.Start >= it.end {
		return false
	}
	it.cur = next
	return true
}

func (it *bucketIterator) At() kilnmodel.Interval { return it.cur }

func (it *bucketIterator) Err() error { return nil }

func isAligned(g Granularity, in kilnmodel.Interval) bool {
	return !in.IsEmpty() && g.Bucket(in.Start) == in
}

// fixed buckets by a constant duration, aligned to the Unix epoch.
type fixed struct {
	name string
	d    time.Duration
}

func (g fixed) BucketStart(t model.Time) model.Time {
	d := g.d.Milliseconds()
	ms := int64(t)
	q := ms / d
	if ms%d != 0 && ms < 0 {
		q--
	}
	return model.Time(q * d)
}

func (g fixed) Bucket(t model.Time) kilnmodel.Interval {
	start := g.BucketStart(t)
	return kilnmodel.Interval{Start: start, End: start.Add(g.d)}
}

func (g fixed) Iterable(in kilnmodel.Interval) iter.Iterator[kilnmodel.Interval] {
	return newBucketIterator(g, in)
}

func (g fixed) IsAligned(in kilnmodel.Interval) bool { return isAligned(g, in) }

func (g fixed) String() string { return g.name }

// calendar buckets by UTC calendar units: ISO weeks starting Monday, months,
// quarters and years.
type calendar struct {
	name   string
	months int
	days   int
}

func (g calendar) BucketStart(t model.Time) model.Time {
	tt := time.UnixMilli(int64(t)).UTC()
	var start time.Time
	if g.months > 0 {
		m0 := (int(tt.Month()) - 1) / g.months * g.months
		start = time.Date(tt.Year(), time.Month(m0+1), 1, 0, 0, 0, 0, time.UTC)
	} else {
		day := time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // days since Monday
		start = day.AddDate(0, 0, -offset)
	}
	return model.TimeFromUnixNano(start.UnixNano())
}

func (g calendar) Bucket(t model.Time) kilnmodel.Interval {
	start := g.BucketStart(t)
	st := time.UnixMilli(int64(start)).UTC()
	end := st.AddDate(0, g.months, g.days)
	return kilnmodel.Interval{Start: start, End: model.TimeFromUnixNano(end.UnixNano())}
}

func (g calendar) Iterable(in kilnmodel.Interval) iter.Iterator[kilnmodel.Interval] {
	return newBucketIterator(g, in)
}

func (g calendar) IsAligned(in kilnmodel.Interval) bool { return isAligned(g, in) }

func (g calendar) String() string { return g.name }

// all has a single bucket spanning eternity.
type all struct{}

func (all) BucketStart(model.Time) model.Time { return kilnmodel.Eternity().Start }

func (all) Bucket(model.Time) kilnmodel.Interval { return kilnmodel.Eternity() }

func (g all) Iterable(in kilnmodel.Interval) iter.Iterator[kilnmodel.Interval] {
	if in.IsEmpty() {
		return iter.NewSliceIterator[kilnmodel.Interval](nil)
	}
	return iter.NewSliceIterator([]kilnmodel.Interval{kilnmodel.Eternity()})
}

func (g all) IsAligned(in kilnmodel.Interval) bool { return in == kilnmodel.Eternity() }

func (all) String() string { return "ALL" }
