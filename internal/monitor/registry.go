// Package monitor implements the monitor/callback subsystem described in
// spec.md §4.5: per-facility subscriber sets with TTL expiry and fan-out of
// MONITOR-UPDATE callbacks on booking-state changes.
package monitor

import (
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Sender transmits a datagram to a peer and reports transport-level
// failure. The dispatcher supplies the live UDP connection; tests supply a
// fake.
type Sender interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

type subscription struct {
	facility string
	addr     *net.UDPAddr
	expires  time.Time
}

// Registry holds the active subscriber set. Multiple subscriptions from the
// same endpoint to the same facility coexist; no deduplication is
// performed, per spec.md §3.
type Registry struct {
	mu   sync.Mutex
	subs []subscription
}

func New() *Registry {
	return &Registry{}
}

// Register records a new subscription to facility from addr, active until
// now+duration.
func (r *Registry) Register(facility string, addr *net.UDPAddr, duration time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, subscription{facility: facility, addr: addr, expires: now.Add(duration)})
}

// FanOut sends build(facility) to every active subscriber of facility,
// using sender to transmit. Expired subscriptions are pruned from the
// sweep; subscriptions whose send fails are also removed (spec.md §4.5).
// build is only called if there is at least one active subscriber, so
// callers can defer computing free intervals until they are needed.
func (r *Registry) FanOut(facility string, now time.Time, sender Sender, build func() []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var payload []byte
	var built bool
	var errs error
	kept := r.subs[:0]
	for _, sub := range r.subs {
		if !now.Before(sub.expires) {
			continue // expired, drop during this sweep
		}
		if sub.facility != facility {
			kept = append(kept, sub)
			continue
		}
		if !built {
			payload = build()
			built = true
		}
		if err := sender.SendTo(payload, sub.addr); err != nil {
			errs = multierr.Append(errs, err)
			continue // send failure removes the subscription
		}
		kept = append(kept, sub)
	}
	r.subs = kept
	return errs
}

// Sweep prunes expired subscriptions without sending anything. Subscription
// expiry is otherwise checked lazily during FanOut, matching
// spec.md §5's "no background timer thread" constraint; Sweep exists for
// callers (tests, metrics) that want to force a prune without a fan-out.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.subs[:0]
	for _, sub := range r.subs {
		if now.Before(sub.expires) {
			kept = append(kept, sub)
		}
	}
	r.subs = kept
}

// ActiveCount reports the number of active (unexpired) subscriptions to
// facility as of now. Intended for tests and metrics, not the hot path.
func (r *Registry) ActiveCount(facility string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sub := range r.subs {
		if sub.facility == facility && now.Before(sub.expires) {
			n++
		}
	}
	return n
}
