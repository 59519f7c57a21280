package proto

import (
	"fmt"

	"github.com/iyzyman/bookingd/internal/timeslot"
)

// RequestPayload is implemented by every per-opcode request body.
type RequestPayload interface {
	opCode() OpCode
}

type QueryRequest struct {
	Facility string
	Days     []uint8
}

func (QueryRequest) opCode() OpCode { return OpQuery }

type BookRequest struct {
	Facility string
	Start    timeslot.Triple
	End      timeslot.Triple
}

func (BookRequest) opCode() OpCode { return OpBook }

type ChangeRequest struct {
	ConfirmationID string
	OffsetMinutes  int32
}

func (ChangeRequest) opCode() OpCode { return OpChange }

type MonitorRegisterRequest struct {
	Facility        string
	DurationSeconds uint32
}

func (MonitorRegisterRequest) opCode() OpCode { return OpMonitorRegister }

type ExtendRequest struct {
	ConfirmationID string
	ExtraMinutes   uint32
}

func (ExtendRequest) opCode() OpCode { return OpExtend }

type CancelRequest struct {
	ConfirmationID string
}

func (CancelRequest) opCode() OpCode { return OpCancel }

// Request is the full envelope for a client-originated message: an opcode,
// a client-chosen request id, and the opcode-specific payload.
type Request struct {
	RequestID uint32
	Payload   RequestPayload
}

func (r Request) OpCode() OpCode { return r.Payload.opCode() }

// ReplyPayload is implemented by every per-opcode reply body.
type ReplyPayload interface {
	opCode() OpCode
}

// Empty is the reply payload for CHANGE, MONITOR-REGISTER, EXTEND and CANCEL
// on success: an acknowledgement with no additional data.
type Empty struct{ Op OpCode }

func (e Empty) opCode() OpCode { return e.Op }

type QueryReply struct {
	Free []timeslot.Interval
}

func (QueryReply) opCode() OpCode { return OpQuery }

type BookReply struct {
	ConfirmationID string
}

func (BookReply) opCode() OpCode { return OpBook }

// ErrorReply is the ERROR wire message (opcode 0xFF).
type ErrorReply struct {
	Code   ErrorCode
	Detail string
}

func (ErrorReply) opCode() OpCode { return OpError }

// MonitorUpdate is the unsolicited callback (opcode 7). It never carries a
// request id and is never itself replied to.
type MonitorUpdate struct {
	Facility string
	Free     []timeslot.Interval
}

func (MonitorUpdate) opCode() OpCode { return OpMonitorUpdate }

// Reply is the full envelope for a server-originated reply or callback.
type Reply struct {
	Payload ReplyPayload
}

func (r Reply) OpCode() OpCode { return r.Payload.opCode() }

// EncodeRequest serializes a Request per spec.md §4.1.
func EncodeRequest(req Request) ([]byte, error) {
	w := newWriter(64)
	op := req.OpCode()
	w.u8(uint8(op))
	w.u32(req.RequestID)

	switch p := req.Payload.(type) {
	case QueryRequest:
		w.str(p.Facility)
		w.days(p.Days)
	case BookRequest:
		w.str(p.Facility)
		w.time(p.Start)
		w.time(p.End)
	case ChangeRequest:
		w.str(p.ConfirmationID)
		w.i32(p.OffsetMinutes)
	case MonitorRegisterRequest:
		w.str(p.Facility)
		w.u32(p.DurationSeconds)
	case ExtendRequest:
		w.str(p.ConfirmationID)
		w.u32(p.ExtraMinutes)
	case CancelRequest:
		w.str(p.ConfirmationID)
	default:
		return nil, fmt.Errorf("proto: unknown request payload type %T", p)
	}
	return w.bytes(), nil
}

// DecodeRequest parses a request envelope. Any structural problem is
// reported as a MALFORMED DomainError, matching spec.md §4.1's decoding
// rule.
func DecodeRequest(data []byte) (Request, error) {
	r := newReader(data)
	rawOp, err := r.u8()
	if err != nil {
		return Request{}, malformed(err)
	}
	op := OpCode(rawOp)

	reqID, err := r.u32()
	if err != nil {
		return Request{}, malformed(err)
	}

	var payload RequestPayload
	switch op {
	case OpQuery:
		facility, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		days, err := r.days()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = QueryRequest{Facility: facility, Days: days}
	case OpBook:
		facility, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		start, err := r.time()
		if err != nil {
			return Request{}, malformed(err)
		}
		end, err := r.time()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = BookRequest{Facility: facility, Start: start, End: end}
	case OpChange:
		confID, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		offset, err := r.i32()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = ChangeRequest{ConfirmationID: confID, OffsetMinutes: offset}
	case OpMonitorRegister:
		facility, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		dur, err := r.u32()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = MonitorRegisterRequest{Facility: facility, DurationSeconds: dur}
	case OpExtend:
		confID, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		extra, err := r.u32()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = ExtendRequest{ConfirmationID: confID, ExtraMinutes: extra}
	case OpCancel:
		confID, err := r.str()
		if err != nil {
			return Request{}, malformed(err)
		}
		payload = CancelRequest{ConfirmationID: confID}
	default:
		return Request{}, &DomainError{Code: ErrUnknownOp, Detail: fmt.Sprintf("opcode %d", rawOp)}
	}

	return Request{RequestID: reqID, Payload: payload}, nil
}

// EncodeReply serializes a Reply (including ERROR and MONITOR-UPDATE) per
// spec.md §4.1. Replies never carry a request id on the wire.
func EncodeReply(rep Reply) ([]byte, error) {
	w := newWriter(64)
	op := rep.OpCode()
	w.u8(uint8(op))

	switch p := rep.Payload.(type) {
	case Empty:
		// no body
	case QueryReply:
		w.intervals(p.Free)
	case BookReply:
		w.str(p.ConfirmationID)
	case ErrorReply:
		w.u8(uint8(p.Code))
		w.str(p.Detail)
	case MonitorUpdate:
		w.str(p.Facility)
		w.intervals(p.Free)
	default:
		return nil, fmt.Errorf("proto: unknown reply payload type %T", p)
	}
	return w.bytes(), nil
}

// DecodeReply parses a reply/callback envelope as observed by a client. The
// caller supplies which opcode it expects a non-error reply for, since a
// bare reply envelope does not name its own request.
func DecodeReply(data []byte, expected OpCode) (Reply, error) {
	r := newReader(data)
	rawOp, err := r.u8()
	if err != nil {
		return Reply{}, malformed(err)
	}
	op := OpCode(rawOp)

	if op == OpError {
		code, err := r.u8()
		if err != nil {
			return Reply{}, malformed(err)
		}
		detail, err := r.str()
		if err != nil {
			return Reply{}, malformed(err)
		}
		return Reply{Payload: ErrorReply{Code: ErrorCode(code), Detail: detail}}, nil
	}

	if op == OpMonitorUpdate {
		facility, err := r.str()
		if err != nil {
			return Reply{}, malformed(err)
		}
		free, err := r.intervals()
		if err != nil {
			return Reply{}, malformed(err)
		}
		return Reply{Payload: MonitorUpdate{Facility: facility, Free: free}}, nil
	}

	if op != expected {
		return Reply{}, fmt.Errorf("proto: reply opcode %s does not match expected %s", op, expected)
	}

	switch op {
	case OpQuery:
		free, err := r.intervals()
		if err != nil {
			return Reply{}, malformed(err)
		}
		return Reply{Payload: QueryReply{Free: free}}, nil
	case OpBook:
		confID, err := r.str()
		if err != nil {
			return Reply{}, malformed(err)
		}
		return Reply{Payload: BookReply{ConfirmationID: confID}}, nil
	case OpChange, OpMonitorRegister, OpExtend, OpCancel:
		return Reply{Payload: Empty{Op: op}}, nil
	default:
		return Reply{}, &DomainError{Code: ErrUnknownOp, Detail: fmt.Sprintf("opcode %d", rawOp)}
	}
}

func malformed(cause error) error {
	return &DomainError{Code: ErrMalformed, Detail: cause.Error()}
}
