package counts

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/nostrutil"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	pool := relaypool.New(config.RelayPolicy{
		ConnectTimeoutMs: 50, BackoffInitialMs: 10, BackoffCapMs: 50,
		BackoffResetAfterS: 1, IdleTimeoutS: 1, BackgroundGraceS: 1,
	}, ops.Nop())
	router, err := subrouter.New(pool, 100, ops.Nop())
	if err != nil {
		t.Fatalf("subrouter.New: %v", err)
	}
	cfg := config.Counts{
		SubscribeDebounceMs: 10, FlushDebounceMs: 5, FlushHardCapMs: 50,
		ReactionPhaseDelayMs: 10, MaxNotesPerRelay: 200, ResubscribeDeltaMin: 5,
		ProcessedIDCapacity: 1000,
	}
	a, err := New(cfg, router, ops.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestApplyReplyIncrementsDirectParentOnly(t *testing.T) {
	a := newTestAggregator(t)

	root := "root-id"
	a.mu.Lock()
	reply := &nostr.Event{ID: "r1", Kind: 1, Tags: nostr.Tags{{"e", root, "", "root"}}}
	a.applyReplyLocked(reply)

	grandchild := &nostr.Event{ID: "r2", Kind: 1, Tags: nostr.Tags{{"e", "r1", "", "reply"}}}
	a.applyReplyLocked(grandchild)
	a.mu.Unlock()

	if got := a.Get(root).ReplyCount; got != 1 {
		t.Errorf("root replyCount = %d, want 1 (depth-1 only)", got)
	}
	if got := a.Get("r1").ReplyCount; got != 1 {
		t.Errorf("r1 replyCount = %d, want 1", got)
	}
}

func TestApplyReactionPlusMapsToHeart(t *testing.T) {
	a := newTestAggregator(t)
	a.mu.Lock()
	ev := &nostr.Event{ID: "rx1", PubKey: "alice", Kind: 7, Content: "+", Tags: nostr.Tags{{"e", "note1"}}}
	a.applyReactionLocked(ev)
	a.mu.Unlock()

	nc := a.Get("note1")
	if len(nc.Reactions["❤️"]) != 1 || nc.Reactions["❤️"][0] != "alice" {
		t.Errorf("reactions = %+v, want heart from alice", nc.Reactions)
	}
}

func TestApplyReactionMinusIsIgnored(t *testing.T) {
	a := newTestAggregator(t)
	a.mu.Lock()
	ev := &nostr.Event{ID: "rx2", PubKey: "bob", Kind: 7, Content: "-", Tags: nostr.Tags{{"e", "note1"}}}
	a.applyReactionLocked(ev)
	a.mu.Unlock()

	if a.Get("note1") != nil {
		t.Error("downvote should not create a counts entry")
	}
}

func TestApplyReactionTwoDistinctReactorsHeart(t *testing.T) {
	a := newTestAggregator(t)
	a.mu.Lock()
	a.applyReactionLocked(&nostr.Event{ID: "e1", PubKey: "alice", Kind: 7, Content: "+", Tags: nostr.Tags{{"e", "noteX"}}})
	a.applyReactionLocked(&nostr.Event{ID: "e2", PubKey: "bob", Kind: 7, Content: "+", Tags: nostr.Tags{{"e", "noteX"}}})
	a.mu.Unlock()

	nc := a.Get("noteX")
	if len(nc.Reactions["❤️"]) != 2 {
		t.Fatalf("reactions[heart] = %v, want 2 distinct authors", nc.Reactions["❤️"])
	}
}

func TestApplyReactionShortcodeLooksUpEmojiURL(t *testing.T) {
	a := newTestAggregator(t)
	a.mu.Lock()
	ev := &nostr.Event{
		ID: "rx3", PubKey: "carol", Kind: 7, Content: ":soapbox:",
		Tags: nostr.Tags{{"e", "note2"}, {"emoji", "soapbox", "https://example.com/soapbox.png"}},
	}
	a.applyReactionLocked(ev)
	a.mu.Unlock()

	nc := a.Get("note2")
	if _, ok := nc.Reactions[":soapbox:"]; !ok {
		t.Fatalf("expected :soapbox: reaction key, got %+v", nc.Reactions)
	}
	if nc.CustomEmojiURLs["soapbox"] != "https://example.com/soapbox.png" {
		t.Errorf("CustomEmojiURLs[soapbox] = %q", nc.CustomEmojiURLs["soapbox"])
	}
}

func TestBolt11AmountBoundaries(t *testing.T) {
	cases := []struct {
		invoice  string
		wantSats int64
		wantOK   bool
	}{
		{"lnbc21n1pvjluez", 2, true},
		{"lnbc100u1pvjluez", 10000, true},
		{"lnbc1m1pvjluez", 100000, true},
		{"lnbc1pvjluez", 0, false},
		// Amountless invoice whose data happens to start with a byte that
		// looks like a multiplier right after the separator — must not be
		// mistaken for an amount.
		{"lnbc1mvjluez", 0, false},
	}
	for _, c := range cases {
		got, ok := nostrutil.ParseBolt11Amount(c.invoice)
		if ok != c.wantOK || got != c.wantSats {
			t.Errorf("ParseBolt11Amount(%q) = (%d, %v), want (%d, %v)", c.invoice, got, ok, c.wantSats, c.wantOK)
		}
	}
}

func TestApplyZapUsesDescriptionSenderAndBolt11Amount(t *testing.T) {
	a := newTestAggregator(t)
	desc := `{"pubkey":"zapper1","tags":[]}`
	ev := &nostr.Event{
		ID: "z1", PubKey: "relay-service-pubkey", Kind: 9735,
		Tags: nostr.Tags{
			{"e", "note3"},
			{"description", desc},
			{"bolt11", "lnbc100u1pvjluez"},
		},
	}
	a.mu.Lock()
	a.applyZapLocked(ev)
	a.mu.Unlock()

	nc := a.Get("note3")
	if nc.ZapTotalSats != 10000 {
		t.Errorf("ZapTotalSats = %d, want 10000", nc.ZapTotalSats)
	}
	if nc.ZapAmountByAuthor["zapper1"] != 10000 {
		t.Errorf("ZapAmountByAuthor[zapper1] = %d, want 10000", nc.ZapAmountByAuthor["zapper1"])
	}
	if len(nc.ZapAuthors) != 1 || nc.ZapAuthors[0] != "zapper1" {
		t.Errorf("ZapAuthors = %v, want [zapper1]", nc.ZapAuthors)
	}
}

func TestApplyZapFallsBackToEventPubkeyWithoutDescription(t *testing.T) {
	a := newTestAggregator(t)
	ev := &nostr.Event{
		ID: "z2", PubKey: "direct-sender", Kind: 9735,
		Tags: nostr.Tags{{"e", "note4"}, {"bolt11", "lnbc1m1pvjluez"}},
	}
	a.mu.Lock()
	a.applyZapLocked(ev)
	a.mu.Unlock()

	nc := a.Get("note4")
	if nc.ZapAuthors[0] != "direct-sender" {
		t.Errorf("ZapAuthors[0] = %q, want direct-sender", nc.ZapAuthors[0])
	}
	if nc.ZapTotalSats != 100000 {
		t.Errorf("ZapTotalSats = %d, want 100000", nc.ZapTotalSats)
	}
}

func TestResubscribeSuppressedUnderDelta(t *testing.T) {
	a := newTestAggregator(t)
	a.UpdateInterest("feed", map[string][]string{
		"n1": {"wss://relay.one"},
		"n2": {"wss://relay.one"},
	})
	a.resubscribe()

	a.subMu.Lock()
	first := a.subs["wss://relay.one"]
	a.subMu.Unlock()
	if first == nil {
		t.Fatal("expected a subscription to be opened")
	}

	// Add one more note (delta 1 < ResubscribeDeltaMin 5): should not replace.
	a.UpdateInterest("feed", map[string][]string{
		"n1": {"wss://relay.one"},
		"n2": {"wss://relay.one"},
		"n3": {"wss://relay.one"},
	})
	a.resubscribe()

	a.subMu.Lock()
	second := a.subs["wss://relay.one"]
	a.subMu.Unlock()
	if second != first {
		t.Error("expected resubscribe to be suppressed under the delta threshold")
	}
}
