// Package relaypool owns the one logical WebSocket connection relaycore
// keeps per normalized relay URL: its lifecycle state machine, exponential
// reconnect backoff, idle-timeout close, and foreground/background resume
// hook. It is the lowest layer of the module — every other component sends
// and subscribes through it, directly or via internal/subrouter.
package relaypool

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/coreerr"
	"github.com/wrenfeed/relaycore/internal/nostrutil"
	"github.com/wrenfeed/relaycore/internal/ops"
)

// State is a connection's position in the per-relay lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// ResumeProvider returns the (relay-set, filter) pair the feed aggregator
// wants re-applied when the pool comes back to the foreground.
type ResumeProvider func() (relays []string, filter nostr.Filter, ok bool)

// conn tracks one normalized relay URL's connection state.
type conn struct {
	mu          sync.Mutex
	url         string
	state       State
	relay       *nostr.Relay
	subRefs     int
	backoff     time.Duration
	openSince   time.Time
	idleTimer   *time.Timer
	closingTmr  *time.Timer
}

// Pool is the process-wide authority over open relay connections.
type Pool struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	policy config.RelayPolicy
	log    *ops.Logger

	foregroundMu sync.Mutex
	foreground   bool
	resumeFn     ResumeProvider
}

// New constructs a Pool governed by policy.
func New(policy config.RelayPolicy, log *ops.Logger) *Pool {
	return &Pool{
		conns:      make(map[string]*conn),
		policy:     policy,
		log:        log.With("relaypool"),
		foreground: true,
	}
}

// SetResumeProvider installs the callback consulted on foreground return.
func (p *Pool) SetResumeProvider(fn ResumeProvider) {
	p.foregroundMu.Lock()
	defer p.foregroundMu.Unlock()
	p.resumeFn = fn
}

// SetForeground toggles the app-lifecycle flag. Going to background arms a
// grace-period close on every currently idle connection; returning to
// foreground reopens everything and invokes the resume provider.
func (p *Pool) SetForeground(fg bool) {
	p.foregroundMu.Lock()
	was := p.foreground
	p.foreground = fg
	fn := p.resumeFn
	p.foregroundMu.Unlock()

	if was == fg {
		return
	}

	if !fg {
		p.mu.RLock()
		conns := make([]*conn, 0, len(p.conns))
		for _, c := range p.conns {
			conns = append(conns, c)
		}
		p.mu.RUnlock()
		grace := time.Duration(p.policy.BackgroundGraceS) * time.Second
		for _, c := range conns {
			p.armBackgroundClose(c, grace)
		}
		return
	}

	p.mu.RLock()
	urls := make([]string, 0, len(p.conns))
	for u := range p.conns {
		urls = append(urls, u)
	}
	p.mu.RUnlock()
	for _, u := range urls {
		go func(u string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.policy.ConnectTimeoutMs)*time.Millisecond)
			defer cancel()
			_, _ = p.EnsureOpen(ctx, u)
		}(u)
	}

	if fn != nil {
		if relays, filter, ok := fn(); ok {
			p.log.Info("resuming subscription on foreground", "relays", relays, "kinds", filter.Kinds)
		}
	}
}

func (p *Pool) armBackgroundClose(c *conn, grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subRefs > 0 || c.state != Open {
		return
	}
	if c.closingTmr != nil {
		c.closingTmr.Stop()
	}
	c.closingTmr = time.AfterFunc(grace, func() {
		p.closeConn(c)
	})
}

// getOrCreate returns the conn for the normalized URL, creating it if absent.
func (p *Pool) getOrCreate(url string) *conn {
	norm := nostrutil.NormalizeRelayURL(url)

	p.mu.RLock()
	c, ok := p.conns[norm]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[norm]; ok {
		return c
	}
	c = &conn{url: norm, state: Disconnected, backoff: time.Duration(p.policy.BackoffInitialMs) * time.Millisecond}
	p.conns[norm] = c
	return c
}

// EnsureOpen returns the live *nostr.Relay for url, connecting (with
// exponential backoff if this is a retry) if necessary.
func (p *Pool) EnsureOpen(ctx context.Context, url string) (*nostr.Relay, error) {
	c := p.getOrCreate(url)

	c.mu.Lock()
	if c.state == Open && c.relay != nil {
		r := c.relay
		c.mu.Unlock()
		return r, nil
	}
	if c.state == Connecting {
		c.mu.Unlock()
		return nil, coreerr.New(coreerr.WireIo, "connection already in progress for "+c.url)
	}
	c.state = Connecting
	backoff := c.backoff
	c.mu.Unlock()

	if backoff > time.Duration(p.policy.BackoffInitialMs)*time.Millisecond {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.mu.Lock()
			c.state = Disconnected
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(p.policy.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()

	relay, err := nostr.RelayConnect(dialCtx, c.url)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.backoff = nextBackoff(c.backoff, p.policy)
		c.mu.Unlock()
		p.log.Warn("relay connect failed", "url", c.url, "err", err)
		return nil, coreerr.Wrap(coreerr.WireIo, "connect "+c.url, err)
	}

	c.mu.Lock()
	c.state = Open
	c.relay = relay
	c.openSince = time.Now()
	c.backoff = time.Duration(p.policy.BackoffInitialMs) * time.Millisecond
	c.mu.Unlock()

	p.log.Info("relay connected", "url", c.url)
	p.scheduleResetCheck(c)
	p.scheduleIdleCheck(c)
	return relay, nil
}

func nextBackoff(cur time.Duration, policy config.RelayPolicy) time.Duration {
	next := cur * 2
	backoffCap := time.Duration(policy.BackoffCapMs) * time.Millisecond
	if next > backoffCap {
		next = backoffCap
	}
	return next
}

// scheduleResetCheck resets the backoff to its floor once the connection
// has stayed open for the configured sustained-open duration.
func (p *Pool) scheduleResetCheck(c *conn) {
	resetAfter := time.Duration(p.policy.BackoffResetAfterS) * time.Second
	time.AfterFunc(resetAfter, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Open && time.Since(c.openSince) >= resetAfter {
			c.backoff = time.Duration(p.policy.BackoffInitialMs) * time.Millisecond
		}
	})
}

// scheduleIdleCheck arms the idle-timeout close. AddSubRef stops the timer;
// RemoveSubRef rearms it when the reference count drops to zero.
func (p *Pool) scheduleIdleCheck(c *conn) {
	idle := time.Duration(p.policy.IdleTimeoutS) * time.Second
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(idle, func() { p.tryIdleClose(c) })
	c.mu.Unlock()
}

func (p *Pool) tryIdleClose(c *conn) {
	c.mu.Lock()
	if c.subRefs > 0 || c.state != Open {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	p.closeConn(c)
}

func (p *Pool) closeConn(c *conn) {
	c.mu.Lock()
	if c.subRefs > 0 || c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	relay := c.relay
	c.mu.Unlock()

	if relay != nil {
		_ = relay.Close()
	}

	c.mu.Lock()
	c.state = Closed
	c.relay = nil
	c.mu.Unlock()
	p.log.Info("relay closed", "url", c.url)
}

// AddSubRef increments url's active-subscription reference count,
// preventing the idle timer from closing it.
func (p *Pool) AddSubRef(url string) {
	c := p.getOrCreate(url)
	c.mu.Lock()
	c.subRefs++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()
}

// RemoveSubRef decrements url's reference count and, if it reaches zero,
// rearms the idle timer.
func (p *Pool) RemoveSubRef(url string) {
	c := p.getOrCreate(url)
	c.mu.Lock()
	if c.subRefs > 0 {
		c.subRefs--
	}
	zero := c.subRefs == 0
	c.mu.Unlock()
	if zero {
		p.scheduleIdleCheck(c)
	}
}

// State reports url's current lifecycle state.
func (p *Pool) State(url string) State {
	c := p.getOrCreate(url)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send publishes event to url, opening the connection on demand.
func (p *Pool) Send(ctx context.Context, url string, event nostr.Event) error {
	relay, err := p.EnsureOpen(ctx, url)
	if err != nil {
		return err
	}
	if err := relay.Publish(ctx, event); err != nil {
		return coreerr.Wrap(coreerr.WireIo, "publish to "+url, err)
	}
	return nil
}

// Shutdown closes every connection and releases pool resources.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	conns := make([]*conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.subRefs = 0
		relay := c.relay
		c.state = Closed
		c.relay = nil
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		if c.closingTmr != nil {
			c.closingTmr.Stop()
		}
		c.mu.Unlock()
		if relay != nil {
			_ = relay.Close()
		}
	}
	p.log.Info("pool shut down")
}
