// Package server implements the dispatcher described in spec.md §4.4: a
// single-threaded UDP receive loop applying loss simulation, the
// at-least-once/at-most-once semantics policy, and synchronous monitor
// callback fan-out.
package server

import (
	"errors"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/iyzyman/bookingd/internal/booking"
	"github.com/iyzyman/bookingd/internal/config"
	"github.com/iyzyman/bookingd/internal/history"
	"github.com/iyzyman/bookingd/internal/monitor"
	"github.com/iyzyman/bookingd/internal/proto"
)

// PacketConn is the minimal surface the dispatcher needs from a UDP socket;
// satisfied by *net.UDPConn and by fakes in tests.
type PacketConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// lossSource is the subset of *rand.Rand the dispatcher uses for Bernoulli
// loss trials; narrowed so tests can inject a deterministic source.
type lossSource interface {
	Float64() float64
}

// Dispatcher owns the socket and every piece of server-side mutable state:
// the booking store, the request-history cache (at-most-once only) and the
// monitor registry. It is not safe for concurrent use of Run from multiple
// goroutines; the design is deliberately single-threaded (spec.md §5).
type Dispatcher struct {
	conn      PacketConn
	store     *booking.Store
	hist      *history.Cache // nil under at-least-once
	reg       *monitor.Registry
	semantics config.Semantics
	reqLoss   float64
	repLoss   float64
	rng       lossSource
	log       *zap.SugaredLogger
	metrics   *Metrics

	histCapacity int
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

func WithLossProbabilities(reqLoss, repLoss float64) Option {
	return func(d *Dispatcher) { d.reqLoss, d.repLoss = reqLoss, repLoss }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithRandSource(r lossSource) Option {
	return func(d *Dispatcher) { d.rng = r }
}

func WithHistoryCapacity(capacity int) Option {
	return func(d *Dispatcher) { d.histCapacity = capacity }
}

// New builds a Dispatcher. semantics must already be validated by the
// caller (config.Semantics.Valid()).
func New(conn PacketConn, store *booking.Store, semantics config.Semantics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conn:      conn,
		store:     store,
		reg:       monitor.New(),
		semantics: semantics,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if semantics == config.AtMostOnce {
		d.hist = history.New(d.histCapacity)
	}
	return d
}

// MaxDatagramSize bounds the receive buffer. spec.md §6: "the protocol
// never fragments a logical message across datagrams", so one read is
// always one logical message.
const MaxDatagramSize = 65507

// Run blocks, servicing datagrams one at a time until conn.ReadFromUDP
// returns an error, which it returns to the caller.
func (d *Dispatcher) Run() error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, peer, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		d.handleDatagram(append([]byte(nil), buf[:n]...), peer)
	}
}

// handleDatagram implements spec.md §4.4's receive cycle for one datagram.
func (d *Dispatcher) handleDatagram(data []byte, peer *net.UDPAddr) {
	if d.rollLoss(d.reqLoss) {
		d.log.Debugw("dropping received datagram (request-loss simulation)", "peer", peer)
		d.metrics.RequestDropped()
		return
	}

	req, err := proto.DecodeRequest(data)
	if err != nil {
		d.log.Infow("malformed request", "peer", peer, "err", err)
		d.metrics.MalformedRequest()
		if replyBytes, encErr := proto.EncodeReply(errorReplyFor(err)); encErr == nil {
			d.sendUncached(peer, replyBytes)
		}
		return
	}
	d.metrics.RequestReceived()
	d.log.Debugw("received request", "peer", peer, "op", req.OpCode(), "request_id", req.RequestID)

	if req.OpCode() == proto.OpMonitorRegister {
		d.handleMonitorRegister(peer, req)
		return
	}

	key := history.Key{Endpoint: history.NormalizeEndpoint(peer), RequestID: req.RequestID}

	if d.semantics == config.AtMostOnce {
		if cached, ok := d.hist.Lookup(key); ok {
			d.metrics.CacheHit()
			d.log.Debugw("duplicate request, resending cached reply", "peer", peer, "request_id", req.RequestID)
			d.sendUncached(peer, cached) // already-cached bytes; no re-caching needed
			return
		}
	}

	reply, changed := d.execute(req)
	replyBytes, err := proto.EncodeReply(reply)
	if err != nil {
		d.log.Errorw("failed to encode reply", "err", err)
		return
	}

	if d.semantics == config.AtMostOnce {
		d.hist.Store(key, replyBytes)
	}

	d.sendUncached(peer, replyBytes)

	for _, facility := range changed {
		d.fanOut(facility)
	}
}

// execute runs the booking-store operation named by req and builds the
// corresponding reply, along with the set of facilities whose free-interval
// view changed (spec.md §4.2's "notification set").
func (d *Dispatcher) execute(req proto.Request) (proto.Reply, []string) {
	switch p := req.Payload.(type) {
	case proto.QueryRequest:
		free, err := d.store.Query(p.Facility, p.Days)
		if err != nil {
			return errorReplyFor(err), nil
		}
		return proto.Reply{Payload: proto.QueryReply{Free: free}}, nil

	case proto.BookRequest:
		id, changed, err := d.store.Book(p.Facility, p.Start, p.End)
		if err != nil {
			return errorReplyFor(err), nil
		}
		return proto.Reply{Payload: proto.BookReply{ConfirmationID: id}}, changed

	case proto.ChangeRequest:
		changed, err := d.store.Change(p.ConfirmationID, p.OffsetMinutes)
		if err != nil {
			return errorReplyFor(err), nil
		}
		return proto.Reply{Payload: proto.Empty{Op: proto.OpChange}}, changed

	case proto.ExtendRequest:
		changed, err := d.store.Extend(p.ConfirmationID, p.ExtraMinutes)
		if err != nil {
			return errorReplyFor(err), nil
		}
		return proto.Reply{Payload: proto.Empty{Op: proto.OpExtend}}, changed

	case proto.CancelRequest:
		changed, err := d.store.Cancel(p.ConfirmationID)
		if err != nil {
			return errorReplyFor(err), nil
		}
		return proto.Reply{Payload: proto.Empty{Op: proto.OpCancel}}, changed

	default:
		return errorReplyFor(proto.NewDomainError(proto.ErrInternal, "unhandled request payload %T", p)), nil
	}
}

// handleMonitorRegister implements spec.md §4.5's register operation.
// MONITOR-REGISTER deliberately bypasses the at-most-once history cache:
// duplicate registrations are allowed to coexist (spec.md §3), so this path
// runs unconditionally regardless of semantics.
func (d *Dispatcher) handleMonitorRegister(peer *net.UDPAddr, req proto.Request) {
	p := req.Payload.(proto.MonitorRegisterRequest)

	free, err := d.store.Query(p.Facility, nil)
	if err != nil {
		replyBytes, encErr := proto.EncodeReply(errorReplyFor(err))
		if encErr == nil {
			d.sendUncached(peer, replyBytes)
		}
		return
	}

	d.reg.Register(p.Facility, peer, time.Duration(p.DurationSeconds)*time.Second, time.Now())
	d.log.Infow("monitor registered", "peer", peer, "facility", p.Facility, "duration_s", p.DurationSeconds)

	ackBytes, err := proto.EncodeReply(proto.Reply{Payload: proto.Empty{Op: proto.OpMonitorRegister}})
	if err != nil {
		d.log.Errorw("failed to encode monitor ack", "err", err)
		return
	}
	d.sendUncached(peer, ackBytes)

	updateBytes, err := proto.EncodeReply(proto.Reply{Payload: proto.MonitorUpdate{Facility: p.Facility, Free: free}})
	if err != nil {
		d.log.Errorw("failed to encode initial monitor update", "err", err)
		return
	}
	// The initial snapshot is itself a server-originated datagram, subject
	// to reply-loss simulation like any callback.
	d.sendUncached(peer, updateBytes)
}

// fanOut pushes a MONITOR-UPDATE to every active subscriber of facility.
func (d *Dispatcher) fanOut(facility string) {
	sender := dispatcherSender{d: d}
	err := d.reg.FanOut(facility, time.Now(), sender, func() []byte {
		free, err := d.store.Query(facility, nil)
		if err != nil {
			d.log.Errorw("failed to compute availability for callback", "facility", facility, "err", err)
			return nil
		}
		data, err := proto.EncodeReply(proto.Reply{Payload: proto.MonitorUpdate{Facility: facility, Free: free}})
		if err != nil {
			d.log.Errorw("failed to encode monitor update", "facility", facility, "err", err)
			return nil
		}
		return data
	})
	if err != nil {
		d.log.Warnw("one or more callback sends failed; subscriptions removed", "facility", facility, "err", err)
	}
}

// dispatcherSender adapts the Dispatcher's lossy send path to
// monitor.Sender, so callbacks are subject to the same reply-loss
// simulation as ordinary replies (spec.md §4.5).
type dispatcherSender struct{ d *Dispatcher }

func (s dispatcherSender) SendTo(data []byte, addr *net.UDPAddr) error {
	if s.d.rollLoss(s.d.repLoss) {
		s.d.log.Debugw("dropping callback (reply-loss simulation)", "peer", addr)
		s.d.metrics.ReplyDropped()
		return nil // a simulated drop is not a transport failure
	}
	_, err := s.d.conn.WriteToUDP(data, addr)
	if err != nil {
		return err
	}
	s.d.metrics.CallbackSent()
	return nil
}

// sendUncached transmits reply bytes to peer, subject to reply-loss
// simulation. "Uncached" names the call site's relationship to the history
// cache, not a transport property.
func (d *Dispatcher) sendUncached(peer *net.UDPAddr, data []byte) {
	if data == nil {
		return
	}
	if d.rollLoss(d.repLoss) {
		d.log.Debugw("dropping reply (reply-loss simulation)", "peer", peer)
		d.metrics.ReplyDropped()
		return
	}
	if _, err := d.conn.WriteToUDP(data, peer); err != nil {
		d.log.Warnw("failed to send reply", "peer", peer, "err", err)
	}
}

func (d *Dispatcher) rollLoss(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return d.rng.Float64() < p
}

// errorReplyFor converts a domain/protocol error into an ERROR reply.
// Errors that are not a *proto.DomainError are reported as INTERNAL.
func errorReplyFor(err error) proto.Reply {
	var domainErr *proto.DomainError
	if errors.As(err, &domainErr) {
		return proto.Reply{Payload: proto.ErrorReply{Code: domainErr.Code, Detail: domainErr.Detail}}
	}
	return proto.Reply{Payload: proto.ErrorReply{Code: proto.ErrInternal, Detail: err.Error()}}
}
