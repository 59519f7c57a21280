package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyzyman/bookingd/internal/proto"
	"github.com/iyzyman/bookingd/internal/timeslot"
)

func newTestStore() *Store {
	return NewStore([]string{"Meeting Room A"})
}

func tt(day, hour, minute uint8) timeslot.Triple {
	return timeslot.Triple{Day: day, Hour: hour, Minute: minute}
}

// Boundary scenario 1: touching intervals do not conflict.
func TestBookTouchingIntervalsNoConflict(t *testing.T) {
	s := newTestStore()

	_, _, err := s.Book("Meeting Room A", tt(0, 9, 0), tt(0, 10, 0))
	require.NoError(t, err)

	_, _, err = s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	free, err := s.Query("Meeting Room A", []uint8{0})
	require.NoError(t, err)
	require.Len(t, free, 2)
	assert.Equal(t, tt(0, 0, 0).Minutes(), free[0].Start)
	assert.Equal(t, tt(0, 9, 0).Minutes(), free[0].End)
	assert.Equal(t, tt(0, 11, 0).Minutes(), free[1].Start)
	assert.Equal(t, tt(1, 0, 0).Minutes(), free[1].End)
}

func TestBookOverlapConflicts(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Book("Meeting Room A", tt(0, 9, 0), tt(0, 11, 0))
	require.NoError(t, err)

	_, _, err = s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 12, 0))
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrConflict, domainErr.Code)
}

func TestBookUnknownFacility(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Book("Nonexistent", tt(0, 9, 0), tt(0, 10, 0))
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrNotFound, domainErr.Code)
}

func TestBookInvalidTime(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 10, 0))
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrInvalidTime, domainErr.Code)
}

// An unknown facility is reported as NOT_FOUND even when the requested span
// is also invalid; facility existence is checked first (original_source/
// server.py's _handle_book_facility, spec.md §4.2).
func TestBookUnknownFacilityTakesPrecedenceOverInvalidTime(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Book("Nonexistent", tt(0, 10, 0), tt(0, 10, 0))
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrNotFound, domainErr.Code)
}

// Boundary scenario 2: duplicate EXTEND is idempotent from original end.
func TestExtendIsIdempotentFromOriginalEnd(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	_, err = s.Extend(id, 30)
	require.NoError(t, err)
	_, err = s.Extend(id, 30)
	require.NoError(t, err)

	b := s.byConfID[id]
	assert.Equal(t, tt(0, 11, 30).Minutes(), b.End)
}

func TestExtendOnCancelledFails(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)
	_, err = s.Cancel(id)
	require.NoError(t, err)

	_, err = s.Extend(id, 10)
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrCancelled, domainErr.Code)
}

// Boundary scenario 3/4: CANCEL is non-idempotent.
func TestCancelTwiceFails(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	_, err = s.Cancel(id)
	require.NoError(t, err)

	_, err = s.Cancel(id)
	var domainErr *proto.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, proto.ErrCancelled, domainErr.Code)
}

func TestCancelledBookingExcludedFromQueryButRetained(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	free, err := s.Query("Meeting Room A", []uint8{0})
	require.NoError(t, err)
	assert.NotContains(t, free, timeslot.Interval{Start: tt(0, 0, 0).Minutes(), End: tt(1, 0, 0).Minutes()})

	_, err = s.Cancel(id)
	require.NoError(t, err)

	free, err = s.Query("Meeting Room A", []uint8{0})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, tt(0, 0, 0).Minutes(), free[0].Start)
	assert.Equal(t, tt(1, 0, 0).Minutes(), free[0].End)

	b, ok := s.byConfID[id]
	require.True(t, ok, "cancelled booking must be retained")
	assert.True(t, b.Cancelled)
}

func TestChangeExcludesSelfFromConflictCheck(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	// Shifting by zero minutes must not conflict with itself.
	_, err = s.Change(id, 0)
	require.NoError(t, err)

	_, err = s.Change(id, 60)
	require.NoError(t, err)
	b := s.byConfID[id]
	assert.Equal(t, tt(0, 11, 0).Minutes(), b.Start)
	assert.Equal(t, tt(0, 12, 0).Minutes(), b.End)
}

func TestChangeIsNonIdempotentUnderReplay(t *testing.T) {
	s := newTestStore()
	id, _, err := s.Book("Meeting Room A", tt(0, 10, 0), tt(0, 11, 0))
	require.NoError(t, err)

	_, err = s.Change(id, 30)
	require.NoError(t, err)
	_, err = s.Change(id, 30)
	require.NoError(t, err)

	b := s.byConfID[id]
	// Replaying the same offset from the *current* state lands a further
	// shift: 10:00-11:00 -> 10:30-11:30 -> 11:00-12:00.
	assert.Equal(t, tt(0, 11, 0).Minutes(), b.Start)
	assert.Equal(t, tt(0, 12, 0).Minutes(), b.End)
}

func TestQueryFullyBookedDayIsEmpty(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Book("Meeting Room A", tt(2, 0, 0), tt(3, 0, 0))
	require.NoError(t, err)

	free, err := s.Query("Meeting Room A", []uint8{2})
	require.NoError(t, err)
	assert.Empty(t, free)
}
