package profile

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// runFetch drains the pending set in batches of cfg.BatchSize, issuing one
// temporary subscription per batch. It is the fetchDebounce callback and is
// never invoked concurrently with itself — a fire that lands while one run
// is already draining the pending set is a no-op, since the running
// instance loops until pending is empty and will pick up anything added in
// the meantime.
func (c *Cache) runFetch() {
	c.fetchMu.Lock()
	if c.fetching {
		c.fetchMu.Unlock()
		return
	}
	c.fetching = true
	c.fetchMu.Unlock()
	defer func() {
		c.fetchMu.Lock()
		c.fetching = false
		c.fetchMu.Unlock()
	}()

	for {
		batch, relays := c.nextBatch()
		if len(batch) == 0 {
			return
		}

		wait := time.Duration(c.cfg.WaitS) * time.Second
		if len(batch) > c.cfg.LargeBatchSize {
			wait = time.Duration(c.cfg.WaitLargeBatchS) * time.Second
		}

		ctx, cancel := context.WithTimeout(context.Background(), wait)
		handle := c.router.RequestTemporarySubscription(ctx, relays, nostr.Filters{{
			Kinds:   []int{0},
			Authors: batch,
		}}, func(relay string, ev *nostr.Event) {
			if err := c.AcceptKind0(ev); err != nil {
				c.log.Debug("discarding kind-0 event", "err", err)
			}
		})

		<-ctx.Done()
		handle.Cancel()
		cancel()

		time.Sleep(time.Duration(c.cfg.InterBatchPauseMs) * time.Millisecond)
	}
}

func (c *Cache) nextBatch() ([]string, []string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if len(c.pending) == 0 {
		return nil, nil
	}

	batch := make([]string, 0, c.cfg.BatchSize)
	for pk := range c.pending {
		batch = append(batch, pk)
		if len(batch) >= c.cfg.BatchSize {
			break
		}
	}
	for _, pk := range batch {
		delete(c.pending, pk)
	}

	return batch, c.relaySetUnlocked()
}
