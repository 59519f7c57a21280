// Package client implements the reliability engine described in spec.md
// §4.6: send/timeout/bounded-retry/response-demux for a single call, and a
// bounded monitor receive loop, on top of a UDP socket to one fixed server.
package client

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"github.com/iyzyman/bookingd/internal/proto"
)

// Conn is the minimal socket surface the engine needs; satisfied by
// *net.UDPConn and by fakes in tests.
type Conn interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
}

// ErrTimeout is returned when max-attempts transmissions all time out.
var ErrTimeout = errors.New("client: request timed out after max attempts")

// Engine drives calls against one server endpoint. Not safe for concurrent
// use: spec.md §5 describes a single-threaded, blocking client.
type Engine struct {
	conn        Conn
	server      *net.UDPAddr
	timeout     time.Duration
	maxAttempts int
	nextReqID   uint32
	log         *zap.SugaredLogger
	latency     *hdrhistogram.Histogram
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithMaxAttempts(n int) Option { return func(e *Engine) { e.maxAttempts = n } }

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.log = l } }

// New builds an Engine bound to server. The initial request-id is
// randomized so two client processes started close together do not begin
// from the same sequence (spec.md §4.6's "SHOULD NOT reuse an id" is about
// not repeating one's own ids, but a random start is cheap insurance on top
// of that within a single process's lifetime too).
func New(conn Conn, server *net.UDPAddr, opts ...Option) *Engine {
	e := &Engine{
		conn:        conn,
		server:      server,
		timeout:     5 * time.Second,
		maxAttempts: 3,
		nextReqID:   rand.Uint32(),
		log:         zap.NewNop().Sugar(),
		// 1 microsecond to 10 seconds, 3 significant figures: enough
		// resolution to compare at-least-once vs at-most-once latency
		// under loss without a huge memory footprint.
		latency: hdrhistogram.New(1, 10_000_000, 3),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) allocateRequestID() uint32 {
	return atomic.AddUint32(&e.nextReqID, 1)
}

// Call runs the state machine in spec.md §4.6: send, wait up to timeout for
// a compatible reply, retransmit with the same request-id on timeout, up to
// maxAttempts total transmissions.
func (e *Engine) Call(payload proto.RequestPayload) (proto.Reply, error) {
	reqID := e.allocateRequestID()
	req := proto.Request{RequestID: reqID, Payload: payload}
	data, err := proto.EncodeRequest(req)
	if err != nil {
		return proto.Reply{}, fmt.Errorf("client: encode request: %w", err)
	}
	expected := req.OpCode()

	start := time.Now()
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.log.Debugw("sending request", "op", expected, "request_id", reqID, "attempt", attempt)
		if _, err := e.conn.WriteToUDP(data, e.server); err != nil {
			return proto.Reply{}, fmt.Errorf("client: send: %w", err)
		}

		reply, err := e.awaitReply(expected)
		if err == nil {
			e.recordLatency(time.Since(start))
			return reply, nil
		}
		if !errors.Is(err, errReplyTimeout) {
			return proto.Reply{}, err
		}
		e.log.Debugw("timed out waiting for reply", "op", expected, "request_id", reqID, "attempt", attempt)
	}
	return proto.Reply{}, ErrTimeout
}

var errReplyTimeout = errors.New("client: no compatible reply before deadline")

// awaitReply waits up to e.timeout for a reply compatible with expected
// (its own reply code, or ERROR). Datagrams that decode to anything else —
// including MONITOR-UPDATE, which never belongs to the request loop — are
// discarded and the wait continues against the same deadline.
func (e *Engine) awaitReply(expected proto.OpCode) (proto.Reply, error) {
	deadline := time.Now().Add(e.timeout)
	if err := e.conn.SetReadDeadline(deadline); err != nil {
		return proto.Reply{}, fmt.Errorf("client: set read deadline: %w", err)
	}

	buf := make([]byte, 65507)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				return proto.Reply{}, errReplyTimeout
			}
			return proto.Reply{}, fmt.Errorf("client: read: %w", err)
		}

		reply, err := proto.DecodeReply(buf[:n], expected)
		if err != nil {
			e.log.Debugw("discarding unparseable datagram while awaiting reply", "err", err)
			continue
		}
		if reply.OpCode() == proto.OpMonitorUpdate {
			e.log.Debugw("discarding stray monitor update outside monitoring mode")
			continue
		}
		return reply, nil
	}
}

func (e *Engine) recordLatency(d time.Duration) {
	micros := d.Microseconds()
	if micros <= 0 {
		micros = 1
	}
	_ = e.latency.RecordValue(micros)
}

// Stats returns the histogram of recorded end-to-end call latency in
// microseconds, across every completed call.
func (e *Engine) Stats() *hdrhistogram.Histogram {
	return e.latency
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Monitor registers interest in facility for the given duration, then blocks
// in the bounded receive loop described in spec.md §4.6's "Monitoring
// mode": every MONITOR-UPDATE for the facility is passed to onUpdate, no
// retransmission is attempted, and the call returns once duration has
// elapsed since registration succeeded. The socket is not closed.
func (e *Engine) Monitor(facility string, duration time.Duration, onUpdate func(proto.MonitorUpdate)) error {
	reply, err := e.Call(proto.MonitorRegisterRequest{
		Facility:        facility,
		DurationSeconds: uint32(duration.Seconds()),
	})
	if err != nil {
		return err
	}
	if errReply, ok := reply.Payload.(proto.ErrorReply); ok {
		return fmt.Errorf("client: monitor register: %s: %s", errReply.Code, errReply.Detail)
	}

	deadline := time.Now().Add(duration)
	buf := make([]byte, 65507)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("client: set read deadline: %w", err)
		}

		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}

		msg, err := proto.DecodeReply(buf[:n], proto.OpMonitorUpdate)
		if err != nil {
			e.log.Debugw("discarding unparseable datagram during monitoring", "err", err)
			continue
		}
		update, ok := msg.Payload.(proto.MonitorUpdate)
		if !ok || update.Facility != facility {
			continue
		}
		onUpdate(update)
	}
}
