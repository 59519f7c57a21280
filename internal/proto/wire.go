// Package proto implements the hand-rolled binary wire protocol described in
// spec.md §4.1: a single-byte operation code envelope, length-prefixed
// strings, 3-byte time triples and length-prefixed lists, all big-endian.
package proto

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/iyzyman/bookingd/internal/timeslot"
)

// OpCode identifies the operation carried by a request, reply or callback.
type OpCode uint8

const (
	OpQuery            OpCode = 1
	OpBook             OpCode = 2
	OpChange           OpCode = 3
	OpMonitorRegister  OpCode = 4
	OpExtend           OpCode = 5
	OpCancel           OpCode = 6
	OpMonitorUpdate    OpCode = 7 // callback only, no reply expected
	OpError            OpCode = 0xFF
)

func (o OpCode) String() string {
	switch o {
	case OpQuery:
		return "QUERY"
	case OpBook:
		return "BOOK"
	case OpChange:
		return "CHANGE"
	case OpMonitorRegister:
		return "MONITOR-REGISTER"
	case OpExtend:
		return "EXTEND"
	case OpCancel:
		return "CANCEL"
	case OpMonitorUpdate:
		return "MONITOR-UPDATE"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o))
	}
}

// ErrorCode is the single-byte error classification carried by an ERROR
// message (spec.md §6).
type ErrorCode uint8

const (
	ErrNotFound   ErrorCode = 1
	ErrInvalidTime ErrorCode = 2
	ErrConflict   ErrorCode = 3
	ErrCancelled  ErrorCode = 4
	ErrMalformed  ErrorCode = 5
	ErrUnknownOp  ErrorCode = 6
	ErrInternal   ErrorCode = 7
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrInvalidTime:
		return "INVALID_TIME"
	case ErrConflict:
		return "CONFLICT"
	case ErrCancelled:
		return "CANCELLED"
	case ErrMalformed:
		return "MALFORMED"
	case ErrUnknownOp:
		return "UNKNOWN_OP"
	case ErrInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(e))
	}
}

// DomainError is a server-side error that maps onto an ERROR wire message.
// The booking store and dispatcher return these; the codec produces one
// itself only on decode failure (MALFORMED, or UNKNOWN_OP for an unknown
// opcode).
type DomainError struct {
	Code   ErrorCode
	Detail string
}

func (e *DomainError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Detail) }

func NewDomainError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// --- primitive encoding -----------------------------------------------------

type writer struct {
	buf []byte
}

func newWriter(capacityHint int) *writer {
	return &writer{buf: make([]byte, 0, capacityHint)}
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) str(s string) {
	b := []byte(s)
	if len(b) > math.MaxUint32 {
		panic("proto: string exceeds u32 length prefix")
	}
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) time(t timeslot.Triple) {
	w.buf = append(w.buf, t.Day, t.Hour, t.Minute)
}

func (w *writer) days(days []uint8) {
	w.u32(uint32(len(days)))
	w.buf = append(w.buf, days...)
}

func (w *writer) intervals(ivs []timeslot.Interval) {
	w.u32(uint32(len(ivs)))
	for _, iv := range ivs {
		w.time(timeslot.FromMinutes(iv.Start))
		if iv.End == timeslot.MinutesPerWeek {
			// The week's exclusive end has no in-range triple; it is sent as
			// day 7 00:00, which reader.intervals maps back to MinutesPerWeek.
			w.time(timeslot.Triple{Day: timeslot.DaysPerWeek})
		} else {
			w.time(timeslot.FromMinutes(iv.End))
		}
	}
}

func (w *writer) bytes() []byte { return w.buf }

type reader struct {
	buf    []byte
	offset int
}

func newReader(data []byte) *reader { return &reader{buf: data} }

func (r *reader) need(n int) error {
	if r.offset+n > len(r.buf) {
		return fmt.Errorf("need %d bytes at offset %d, have %d", n, r.offset, len(r.buf))
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.offset]
	r.offset++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset : r.offset+4])
	r.offset += 4
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	raw := r.buf[r.offset : r.offset+int(n)]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("invalid UTF-8 in string field")
	}
	s := string(raw)
	r.offset += int(n)
	return s, nil
}

func (r *reader) time() (timeslot.Triple, error) {
	if err := r.need(3); err != nil {
		return timeslot.Triple{}, err
	}
	t := timeslot.Triple{Day: r.buf[r.offset], Hour: r.buf[r.offset+1], Minute: r.buf[r.offset+2]}
	r.offset += 3
	if !t.Valid() {
		return timeslot.Triple{}, fmt.Errorf("time triple out of range: %+v", t)
	}
	return t, nil
}

func (r *reader) days() ([]uint8, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	days := make([]uint8, n)
	copy(days, r.buf[r.offset:r.offset+int(n)])
	for _, d := range days {
		if d >= timeslot.DaysPerWeek {
			return nil, fmt.Errorf("day index out of range: %d", d)
		}
	}
	r.offset += int(n)
	return days, nil
}

func (r *reader) intervals() ([]timeslot.Interval, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]timeslot.Interval, 0, n)
	for i := uint32(0); i < n; i++ {
		start, err := r.time()
		if err != nil {
			return nil, err
		}
		if err := r.need(3); err != nil {
			return nil, err
		}
		var endMin int
		if r.buf[r.offset] == timeslot.DaysPerWeek && r.buf[r.offset+1] == 0 && r.buf[r.offset+2] == 0 {
			r.offset += 3
			endMin = timeslot.MinutesPerWeek
		} else {
			end, err := r.time()
			if err != nil {
				return nil, err
			}
			endMin = end.Minutes()
		}
		out = append(out, timeslot.Interval{Start: start.Minutes(), End: endMin})
	}
	return out, nil
}

func (r *reader) exhausted() bool { return r.offset >= len(r.buf) }
