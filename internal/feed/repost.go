package feed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const maxRepostFetchRelays = 5

// repostFromEmbedded builds a repost-projected Note from a kind-6 event
// whose content carries the original event's JSON inline.
func repostFromEmbedded(ev *nostr.Event, relay string) (*Note, bool) {
	var original nostr.Event
	if err := json.Unmarshal([]byte(ev.Content), &original); err != nil {
		return nil, false
	}
	if original.ID == "" {
		return nil, false
	}
	n := noteFromEvent(&original, relay)
	n.ID = "repost:" + original.ID
	n.Repost = &RepostMeta{
		OriginalID:        original.ID,
		ReposterAuthors:   []string{strings.ToLower(ev.PubKey)},
		RepostTimestampMs: int64(ev.CreatedAt) * 1000,
	}
	return n, true
}

// repostOriginalID extracts the e-tag id of a tag-only repost.
func repostOriginalID(ev *nostr.Event) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "e" {
			return t[1]
		}
	}
	return ""
}

// repostHintRelays returns the relay hints embedded in the e-tags, then the
// source relay, then profile relays, deduplicated and capped at
// maxRepostFetchRelays in total.
func repostHintRelays(ev *nostr.Event, sourceRelay string, profileRelays []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(url string) {
		if url == "" {
			return
		}
		if _, ok := seen[url]; ok {
			return
		}
		if len(out) >= maxRepostFetchRelays {
			return
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}

	for _, t := range ev.Tags {
		if len(t) >= 3 && t[0] == "e" && t[2] != "" {
			add(t[2])
		}
	}
	add(sourceRelay)
	for _, r := range profileRelays {
		add(r)
	}
	return out
}

// fetchTagOnlyRepost resolves a tag-only kind-6 repost by opening a
// temporary subscription for the referenced id, with a timeout. It returns
// nil if the original could not be found in time.
func (f *Feed) fetchTagOnlyRepost(ctx context.Context, ev *nostr.Event, relay string) *Note {
	origID := repostOriginalID(ev)
	if origID == "" {
		return nil
	}

	relays := repostHintRelays(ev, relay, f.profileRelays)
	if len(relays) == 0 {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.RepostFetchTimeoutS)*time.Second)
	defer cancel()

	resultCh := make(chan *nostr.Event, 1)
	handle := f.router.RequestTemporarySubscription(fetchCtx, relays, nostr.Filters{{
		IDs:   []string{origID},
		Limit: 1,
	}}, func(relay string, event *nostr.Event) {
		select {
		case resultCh <- event:
		default:
		}
	})
	defer handle.Cancel()

	select {
	case original := <-resultCh:
		n := noteFromEvent(original, relay)
		n.ID = "repost:" + original.ID
		n.Repost = &RepostMeta{
			OriginalID:        original.ID,
			ReposterAuthors:   []string{strings.ToLower(ev.PubKey)},
			RepostTimestampMs: int64(ev.CreatedAt) * 1000,
		}
		return n
	case <-fetchCtx.Done():
		return nil
	}
}
