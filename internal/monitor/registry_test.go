package monitor

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent    []*net.UDPAddr
	failFor map[string]bool
}

func (f *fakeSender) SendTo(data []byte, addr *net.UDPAddr) error {
	if f.failFor[addr.String()] {
		return errors.New("simulated transport failure")
	}
	f.sent = append(f.sent, addr)
	return nil
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestFanOutSendsToActiveSubscribersOnly(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("Meeting Room A", addr(1), time.Minute, now)
	r.Register("Meeting Room A", addr(2), -time.Second, now) // already expired
	r.Register("Conference Hall", addr(3), time.Minute, now)

	sender := &fakeSender{}
	built := 0
	err := r.FanOut("Meeting Room A", now, sender, func() []byte {
		built++
		return []byte("update")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, built)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, addr(1).String(), sender.sent[0].String())

	assert.Equal(t, 0, r.ActiveCount("Meeting Room A", now.Add(2*time.Minute)))
}

func TestFanOutDoesNotBuildPayloadWithNoSubscribers(t *testing.T) {
	r := New()
	sender := &fakeSender{}
	built := 0
	err := r.FanOut("Empty Room", time.Now(), sender, func() []byte {
		built++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, built)
}

func TestFanOutRemovesSubscriptionOnSendFailure(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("Meeting Room A", addr(1), time.Minute, now)
	r.Register("Meeting Room A", addr(2), time.Minute, now)

	sender := &fakeSender{failFor: map[string]bool{addr(1).String(): true}}
	err := r.FanOut("Meeting Room A", now, sender, func() []byte { return []byte("x") })
	require.Error(t, err)

	assert.Equal(t, 1, r.ActiveCount("Meeting Room A", now))
}

func TestSweepPrunesExpired(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("Meeting Room A", addr(1), -time.Minute, now)
	r.Register("Meeting Room A", addr(2), time.Minute, now)

	r.Sweep(now)
	assert.Len(t, r.subs, 1)
	assert.Equal(t, 1, r.ActiveCount("Meeting Room A", now))
}

func TestMultipleSubscriptionsSameEndpointCoexist(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("Meeting Room A", addr(1), time.Minute, now)
	r.Register("Meeting Room A", addr(1), time.Minute, now)

	sender := &fakeSender{}
	err := r.FanOut("Meeting Room A", now, sender, func() []byte { return []byte("x") })
	require.NoError(t, err)
	assert.Len(t, sender.sent, 2)
}
