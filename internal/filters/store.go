package filters

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// DateField selects one end of the pending date range.
type DateField string

// Date fields accepted by SetPendingDate.
const (
	FieldStart DateField = "start"
	FieldEnd   DateField = "end"
)

// Location is the navigation side of the URL: writing a query string there is how a filter
// gets committed.
type Location interface {
	Replace(q url.Values)
}

// Store tracks the applied filter (what the URL says) and a pending copy being edited.
// A Store is not safe for concurrent use.
type Store struct {
	applied   Options
	pending   Options
	loc       Location
	now       func() time.Time
	listeners []func(Options)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for presets.
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAppliedListener registers fn to run whenever the applied filter changes.
func WithAppliedListener(fn func(Options)) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// NewStore initialises both filters from the current URL query. A nil loc applies commits
// immediately.
func NewStore(loc Location, q url.Values, opts ...StoreOption) *Store {
	initial := FromQuery(q)
	s := &Store{applied: initial, pending: initial, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Applied returns the filter currently driving the dataset.
func (s *Store) Applied() Options {
	return s.applied
}

// Pending returns the in-progress edit.
func (s *Store) Pending() Options {
	return s.pending
}

// Observe reconciles with a URL change. Both filters are re-derived from the URL, discarding
// unsaved edits.
func (s *Store) Observe(q url.Values) {
	next := FromQuery(q)
	changed := next != s.applied
	s.applied = next
	s.pending = next
	if changed {
		for _, fn := range s.listeners {
			fn(next)
		}
	}
}

// Restore resumes a previously saved pending edit on top of the applied filter.
func (s *Store) Restore(pending Options) {
	s.pending = pending.normalized()
}

// ApplyPreset sets the pending date range to the preset and commits right away.
func (s *Store) ApplyPreset(p Preset) (DateRange, error) {
	r, err := PresetRange(p, s.now())
	if err != nil {
		return DateRange{}, err
	}
	s.pending.DateRange = r
	s.push(s.pending)
	return r, nil
}

// SetPendingDate edits one end of the pending range. An edit that would invert the range
// clears the opposite end instead of being rejected.
func (s *Store) SetPendingDate(field DateField, value string) {
	value = strings.TrimSpace(value)
	r := s.pending.DateRange
	switch field {
	case FieldStart:
		r.Start = value
		if value != "" && r.End != "" && value > r.End {
			r.End = ""
		}
	case FieldEnd:
		r.End = value
		if value != "" && r.Start != "" && value < r.Start {
			r.Start = ""
		}
	default:
		return
	}
	s.pending.DateRange = r
}

// SetPendingDepartment edits the pending department.
func (s *Store) SetPendingDepartment(dept string) {
	dept = strings.TrimSpace(dept)
	if dept == "" {
		dept = AllDepartments
	}
	s.pending.Department = dept
}

// Commit writes the pending filter to the URL.
func (s *Store) Commit() {
	s.push(s.pending)
}

// Clear resets both filters and strips the query string.
func (s *Store) Clear() {
	s.pending = Default()
	s.push(s.pending)
}

// HasPendingChanges reports whether the pending filter differs from the applied one.
func (s *Store) HasPendingChanges() bool {
	return s.pending.normalized() != s.applied.normalized()
}

func (s *Store) push(o Options) {
	if s.loc == nil {
		s.Observe(o.Query())
		return
	}
	s.loc.Replace(o.Query())
}

// MemoryLocation is an in-process Location that notifies subscribers synchronously, the way
// a router notifies on history changes.
type MemoryLocation struct {
	mu        sync.Mutex
	query     url.Values
	observers []func(url.Values)
}

// NewMemoryLocation starts at the given query.
func NewMemoryLocation(q url.Values) *MemoryLocation {
	return &MemoryLocation{query: cloneValues(q)}
}

// Query returns a copy of the current query.
func (l *MemoryLocation) Query() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneValues(l.query)
}

// Subscribe registers fn for every subsequent URL change.
func (l *MemoryLocation) Subscribe(fn func(url.Values)) {
	l.mu.Lock()
	l.observers = append(l.observers, fn)
	l.mu.Unlock()
}

// Replace swaps the query and notifies observers.
func (l *MemoryLocation) Replace(q url.Values) {
	l.mu.Lock()
	l.query = cloneValues(q)
	observers := append([]func(url.Values){}, l.observers...)
	current := cloneValues(l.query)
	l.mu.Unlock()
	for _, fn := range observers {
		fn(current)
	}
}

// Navigate simulates an external URL change such as back/forward or a shared link.
func (l *MemoryLocation) Navigate(rawQuery string) error {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return err
	}
	l.Replace(q)
	return nil
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
