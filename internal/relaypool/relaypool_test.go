package relaypool

import (
	"testing"
	"time"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/ops"
)

func testPolicy() config.RelayPolicy {
	return config.RelayPolicy{
		ConnectTimeoutMs:   100,
		BackoffInitialMs:   10,
		BackoffCapMs:       100,
		BackoffResetAfterS: 1,
		IdleTimeoutS:       1,
		BackgroundGraceS:   1,
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Open, "open"},
		{Closing, "closing"},
		{Closed, "closed"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	policy := testPolicy()
	b := time.Duration(policy.BackoffInitialMs) * time.Millisecond
	b = nextBackoff(b, policy)
	if b != 20*time.Millisecond {
		t.Errorf("first backoff = %v, want 20ms", b)
	}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b, policy)
	}
	if b != time.Duration(policy.BackoffCapMs)*time.Millisecond {
		t.Errorf("backoff should cap at %dms, got %v", policy.BackoffCapMs, b)
	}
}

func TestNewConnectionStartsDisconnected(t *testing.T) {
	p := New(testPolicy(), ops.Nop())
	if got := p.State("relay.example.com"); got != Disconnected {
		t.Errorf("initial state = %v, want Disconnected", got)
	}
}

func TestAddSubRefPreventsIdleClose(t *testing.T) {
	p := New(testPolicy(), ops.Nop())
	c := p.getOrCreate("relay.example.com")
	c.mu.Lock()
	c.state = Open
	c.mu.Unlock()

	p.AddSubRef("relay.example.com")
	p.tryIdleClose(c)

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != Open {
		t.Errorf("state = %v, want Open (subRef should have prevented close)", state)
	}
}

func TestRemoveSubRefAllowsIdleClose(t *testing.T) {
	p := New(testPolicy(), ops.Nop())
	c := p.getOrCreate("relay.example.com")
	c.mu.Lock()
	c.state = Open
	c.mu.Unlock()

	p.AddSubRef("relay.example.com")
	p.RemoveSubRef("relay.example.com")
	p.tryIdleClose(c)

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Open {
		t.Error("expected idle close to transition state away from Open")
	}
}

func TestSameURLDifferentCasingSharesOneConn(t *testing.T) {
	p := New(testPolicy(), ops.Nop())
	c1 := p.getOrCreate("WSS://Relay.Example.com/")
	c2 := p.getOrCreate("relay.example.com")
	if c1 != c2 {
		t.Error("expected normalized URLs to share a single connection record")
	}
}
