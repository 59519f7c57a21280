// Package booking implements the weekly booking calendar described in
// spec.md §4.2: per-facility bookings, overlap checking on a half-open
// interval model, and the free-interval query used by both QUERY and the
// monitor callbacks.
package booking

import (
	"sort"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/iyzyman/bookingd/internal/proto"
	"github.com/iyzyman/bookingd/internal/timeslot"
)

// Booking is a single reservation record. Confirmation ids are never reused
// and cancelled bookings are retained, never removed, per spec.md §3.
type Booking struct {
	ConfirmationID string
	Facility       string
	Start          int // absolute minutes, inclusive
	End            int // absolute minutes, exclusive
	OriginalEnd    int // end at creation time; EXTEND always computes from this
	Cancelled      bool
}

func (b *Booking) interval() timeslot.Interval { return timeslot.Interval{Start: b.Start, End: b.End} }

// Store holds every facility's booking list. A single mutex guards the
// whole store: per spec.md §5 the booking store, history cache and monitor
// registry form one consistency domain, and within the store itself there
// is no benefit to finer-grained locking given the server's single-threaded
// dispatch model.
type Store struct {
	mu         sync.Mutex
	facilities map[string][]*Booking
	byConfID   map[string]*Booking
}

// NewStore creates a store seeded with the given facility names. Runtime
// facility creation is not supported, per spec.md §3.
func NewStore(facilities []string) *Store {
	s := &Store{
		facilities: make(map[string][]*Booking, len(facilities)),
		byConfID:   make(map[string]*Booking),
	}
	for _, name := range facilities {
		s.facilities[name] = nil
	}
	return s
}

// DefaultFacilities is the bootstrap facility set used when no config file
// is supplied (spec.md §3's example set).
func DefaultFacilities() []string {
	return []string{"Meeting Room A", "Lecture Theatre 1", "Conference Hall", "Seminar Room B"}
}

func newConfirmationID() string {
	return uuid.NewV4().String()
}

// Query returns the free intervals for a facility across the requested
// days, merged into maximal contiguous runs and sorted by start ascending.
// An empty days list means the full week.
func (s *Store) Query(facility string, days []uint8) ([]timeslot.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bookings, ok := s.facilities[facility]
	if !ok {
		return nil, proto.NewDomainError(proto.ErrNotFound, "facility %q not found", facility)
	}

	windows := dayWindows(days)
	return freeIntervals(bookings, windows), nil
}

// Book creates a new booking if the requested span does not overlap any
// active booking on the facility. Returns the new confirmation id and the
// notification set (always just the booked facility) on success.
func (s *Store) Book(facility string, start, end timeslot.Triple) (string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bookings, ok := s.facilities[facility]
	if !ok {
		return "", nil, proto.NewDomainError(proto.ErrNotFound, "facility %q not found", facility)
	}

	if !start.Valid() || !end.Valid() {
		return "", nil, proto.NewDomainError(proto.ErrInvalidTime, "time triple out of range")
	}
	startMin, endMin := start.Minutes(), end.Minutes()
	if startMin >= endMin {
		return "", nil, proto.NewDomainError(proto.ErrInvalidTime, "start must precede end")
	}

	span := timeslot.Interval{Start: startMin, End: endMin}
	if conflicts(bookings, span, "") {
		return "", nil, proto.NewDomainError(proto.ErrConflict, "overlaps an existing booking")
	}

	b := &Booking{
		ConfirmationID: newConfirmationID(),
		Facility:       facility,
		Start:          startMin,
		End:            endMin,
		OriginalEnd:    endMin,
	}
	s.facilities[facility] = append(bookings, b)
	s.byConfID[b.ConfirmationID] = b

	return b.ConfirmationID, []string{facility}, nil
}

// Change shifts both the start and end of an existing, non-cancelled
// booking by offsetMinutes. Non-idempotent: re-applying the same offset
// shifts the booking further, per the Open Question decision in
// SPEC_FULL.md.
func (s *Store) Change(confirmationID string, offsetMinutes int32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byConfID[confirmationID]
	if !ok {
		return nil, proto.NewDomainError(proto.ErrNotFound, "booking %q not found", confirmationID)
	}
	if b.Cancelled {
		return nil, proto.NewDomainError(proto.ErrCancelled, "booking %q is cancelled", confirmationID)
	}

	newStart := b.Start + int(offsetMinutes)
	newEnd := b.End + int(offsetMinutes)
	if newStart < 0 || newEnd > timeslot.MinutesPerWeek || newStart >= newEnd {
		return nil, proto.NewDomainError(proto.ErrInvalidTime, "shifted span falls outside the week or is empty")
	}

	span := timeslot.Interval{Start: newStart, End: newEnd}
	if conflicts(s.facilities[b.Facility], span, confirmationID) {
		return nil, proto.NewDomainError(proto.ErrConflict, "shifted span overlaps an existing booking")
	}

	b.Start, b.End = newStart, newEnd
	return []string{b.Facility}, nil
}

// Extend grows a booking's end time by extraMinutes, computed from the
// booking's original end time rather than its current end. This makes the
// operation idempotent: replaying the same ExtraMinutes value any number of
// times converges to the same post-state and is a no-op once applied.
func (s *Store) Extend(confirmationID string, extraMinutes uint32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byConfID[confirmationID]
	if !ok {
		return nil, proto.NewDomainError(proto.ErrNotFound, "booking %q not found", confirmationID)
	}
	if b.Cancelled {
		return nil, proto.NewDomainError(proto.ErrCancelled, "booking %q is cancelled", confirmationID)
	}

	targetEnd := b.OriginalEnd + int(extraMinutes)
	if targetEnd > timeslot.MinutesPerWeek || targetEnd <= b.Start {
		return nil, proto.NewDomainError(proto.ErrInvalidTime, "extension falls outside the week or is empty")
	}

	if b.End == targetEnd {
		// Already applied; re-executing is a no-op and must not re-notify
		// monitors for a change that did not occur.
		return nil, nil
	}

	span := timeslot.Interval{Start: b.Start, End: targetEnd}
	if conflicts(s.facilities[b.Facility], span, confirmationID) {
		return nil, proto.NewDomainError(proto.ErrConflict, "extension overlaps an existing booking")
	}

	b.End = targetEnd
	return []string{b.Facility}, nil
}

// Cancel marks a booking cancelled. Non-idempotent: cancelling an
// already-cancelled booking fails with ErrCancelled.
func (s *Store) Cancel(confirmationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byConfID[confirmationID]
	if !ok {
		return nil, proto.NewDomainError(proto.ErrNotFound, "booking %q not found", confirmationID)
	}
	if b.Cancelled {
		return nil, proto.NewDomainError(proto.ErrCancelled, "booking %q already cancelled", confirmationID)
	}

	b.Cancelled = true
	return []string{b.Facility}, nil
}

// conflicts reports whether span overlaps any active (non-cancelled)
// booking on the list, excluding the booking identified by excludeConfID
// (used by Change/Extend to exclude the booking being mutated).
func conflicts(bookings []*Booking, span timeslot.Interval, excludeConfID string) bool {
	for _, b := range bookings {
		if b.Cancelled || b.ConfirmationID == excludeConfID {
			continue
		}
		if b.interval().Overlaps(span) {
			return true
		}
	}
	return false
}

// dayWindows converts a day list into the set of [dayStart, dayEnd)
// intervals to intersect against. An empty list means the whole week.
func dayWindows(days []uint8) []timeslot.Interval {
	if len(days) == 0 {
		return []timeslot.Interval{{Start: 0, End: timeslot.MinutesPerWeek}}
	}
	windows := make([]timeslot.Interval, 0, len(days))
	for _, d := range days {
		start := int(d) * timeslot.MinutesPerDay
		windows = append(windows, timeslot.Interval{Start: start, End: start + timeslot.MinutesPerDay})
	}
	return windows
}

// freeIntervals computes, for each window, the complement of active
// bookings within it, then merges adjacent/overlapping windows' results
// into maximal contiguous runs across the whole set, sorted by start.
func freeIntervals(bookings []*Booking, windows []timeslot.Interval) []timeslot.Interval {
	active := make([]timeslot.Interval, 0, len(bookings))
	for _, b := range bookings {
		if !b.Cancelled {
			active = append(active, b.interval())
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start < active[j].Start })

	var free []timeslot.Interval
	for _, win := range windows {
		free = append(free, complement(win, active)...)
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Start < free[j].Start })
	return mergeAdjacent(free)
}

// complement returns the portions of win not covered by any interval in
// sorted active bookings.
func complement(win timeslot.Interval, active []timeslot.Interval) []timeslot.Interval {
	var out []timeslot.Interval
	cursor := win.Start
	for _, b := range active {
		if b.End <= win.Start || b.Start >= win.End {
			continue
		}
		if b.Start > cursor {
			out = append(out, timeslot.Interval{Start: cursor, End: min(b.Start, win.End)})
		}
		if b.End > cursor {
			cursor = b.End
		}
		if cursor >= win.End {
			break
		}
	}
	if cursor < win.End {
		out = append(out, timeslot.Interval{Start: cursor, End: win.End})
	}
	return out
}

// mergeAdjacent merges touching/overlapping intervals in an already
// start-sorted slice into maximal contiguous runs.
func mergeAdjacent(ivs []timeslot.Interval) []timeslot.Interval {
	if len(ivs) == 0 {
		return nil
	}
	merged := []timeslot.Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
