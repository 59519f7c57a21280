package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyzyman/bookingd/internal/timeslot"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"query", Request{RequestID: 1, Payload: QueryRequest{Facility: "Meeting Room A", Days: []uint8{0, 6}}}},
		{"query-no-days", Request{RequestID: 2, Payload: QueryRequest{Facility: "Lecture Theatre 1", Days: nil}}},
		{"book", Request{RequestID: 3, Payload: BookRequest{
			Facility: "Conference Hall",
			Start:    timeslot.Triple{Day: 0, Hour: 9, Minute: 0},
			End:      timeslot.Triple{Day: 0, Hour: 10, Minute: 0},
		}}},
		{"change-negative-offset", Request{RequestID: 4, Payload: ChangeRequest{ConfirmationID: "abc", OffsetMinutes: -30}}},
		{"monitor-register", Request{RequestID: 5, Payload: MonitorRegisterRequest{Facility: "Seminar Room B", DurationSeconds: 60}}},
		{"extend", Request{RequestID: 6, Payload: ExtendRequest{ConfirmationID: "abc", ExtraMinutes: 30}}},
		{"cancel", Request{RequestID: 7, Payload: CancelRequest{ConfirmationID: "abc"}}},
		{"max-u32-reqid", Request{RequestID: ^uint32(0), Payload: CancelRequest{ConfirmationID: ""}}},
		{"unicode-facility", Request{RequestID: 8, Payload: QueryRequest{Facility: "会議室", Days: []uint8{3}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeRequest(tc.req)
			require.NoError(t, err)
			got, err := DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, tc.req, got)
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		rep      Reply
		expected OpCode
	}{
		{"query-empty", Reply{Payload: QueryReply{Free: nil}}, OpQuery},
		{"query-intervals", Reply{Payload: QueryReply{Free: []timeslot.Interval{
			{Start: 0, End: 540}, {Start: 660, End: 1440},
		}}}, OpQuery},
		{"book", Reply{Payload: BookReply{ConfirmationID: "BKG-1"}}, OpBook},
		{"change-ack", Reply{Payload: Empty{Op: OpChange}}, OpChange},
		{"monitor-ack", Reply{Payload: Empty{Op: OpMonitorRegister}}, OpMonitorRegister},
		{"extend-ack", Reply{Payload: Empty{Op: OpExtend}}, OpExtend},
		{"cancel-ack", Reply{Payload: Empty{Op: OpCancel}}, OpCancel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeReply(tc.rep)
			require.NoError(t, err)
			got, err := DecodeReply(data, tc.expected)
			require.NoError(t, err)
			assert.Equal(t, tc.rep, got)
		})
	}
}

func TestErrorReplyRoundTrip(t *testing.T) {
	rep := Reply{Payload: ErrorReply{Code: ErrConflict, Detail: "overlaps existing booking"}}
	data, err := EncodeReply(rep)
	require.NoError(t, err)

	got, err := DecodeReply(data, OpBook)
	require.NoError(t, err)
	assert.Equal(t, rep, got)
}

func TestMonitorUpdateRoundTrip(t *testing.T) {
	rep := Reply{Payload: MonitorUpdate{
		Facility: "Meeting Room A",
		Free:     []timeslot.Interval{{Start: 0, End: 10080}},
	}}
	data, err := EncodeReply(rep)
	require.NoError(t, err)

	// A monitor update can arrive while any request is outstanding; the
	// expected opcode must not matter.
	got, err := DecodeReply(data, OpQuery)
	require.NoError(t, err)
	assert.Equal(t, rep, got)
}

func TestDecodeRequestMalformed(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeRequest([]byte{byte(OpBook)})
		require.Error(t, err)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, ErrMalformed, domainErr.Code)
	})

	t.Run("bad-utf8", func(t *testing.T) {
		w := newWriter(16)
		w.u8(uint8(OpCancel))
		w.u32(1)
		w.u32(2)
		w.buf = append(w.buf, 0xff, 0xfe)
		_, err := DecodeRequest(w.bytes())
		require.Error(t, err)
	})

	t.Run("invalid-time", func(t *testing.T) {
		w := newWriter(16)
		w.u8(uint8(OpBook))
		w.u32(1)
		w.str("X")
		w.buf = append(w.buf, 7, 0, 0) // day 7 is out of range
		w.buf = append(w.buf, 0, 0, 0)
		_, err := DecodeRequest(w.bytes())
		require.Error(t, err)
	})

	t.Run("unknown-opcode", func(t *testing.T) {
		w := newWriter(8)
		w.u8(42)
		w.u32(1)
		_, err := DecodeRequest(w.bytes())
		require.Error(t, err)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, ErrUnknownOp, domainErr.Code)
	})
}

func TestReplyOpcodeMismatch(t *testing.T) {
	data, err := EncodeReply(Reply{Payload: BookReply{ConfirmationID: "x"}})
	require.NoError(t, err)
	_, err = DecodeReply(data, OpQuery)
	assert.Error(t, err)
}
