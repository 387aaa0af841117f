// Package publish builds event templates, forwards them to the signer, and
// publishes the signed result to chosen outbox relays.
package publish

import (
	"encoding/json"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// ReplyTarget carries the root and direct-parent identifiers (and their
// authors) a text-note reply tags per NIP-10.
type ReplyTarget struct {
	RootID       string
	RootAuthor   string
	ParentID     string
	ParentAuthor string
}

// RelayListEntry is one "r" tag to emit in a kind-10002 relay list.
type RelayListEntry struct {
	URL      string
	CanRead  bool
	CanWrite bool
}

func newEvent(kind int, content string) nostr.Event {
	return nostr.Event{Kind: kind, CreatedAt: nostr.Now(), Content: content, Tags: nostr.Tags{}}
}

// BuildTextNote builds a kind-1 text note, with NIP-10 reply tags when
// reply is non-nil.
func BuildTextNote(content string, reply *ReplyTarget, quotedEventIDs []string, hashtags []string) nostr.Event {
	ev := newEvent(1, content)
	if reply != nil {
		ev.Tags = append(ev.Tags, nostr.Tag{"e", reply.RootID, "", "root"})
		if reply.RootAuthor != "" {
			ev.Tags = append(ev.Tags, nostr.Tag{"p", reply.RootAuthor})
		}
		if reply.ParentID != "" && reply.ParentID != reply.RootID {
			ev.Tags = append(ev.Tags, nostr.Tag{"e", reply.ParentID, "", "reply"})
			if reply.ParentAuthor != "" && reply.ParentAuthor != reply.RootAuthor {
				ev.Tags = append(ev.Tags, nostr.Tag{"p", reply.ParentAuthor})
			}
		}
	}
	for _, id := range quotedEventIDs {
		ev.Tags = append(ev.Tags, nostr.Tag{"q", id})
	}
	for _, tag := range hashtags {
		ev.Tags = append(ev.Tags, nostr.Tag{"t", tag})
	}
	return ev
}

// BuildRepost builds a kind-6 repost, content-embedding the original event
// when it marshals cleanly and falling back to a tag-only repost (blank
// content, e-tag referencing the original) otherwise.
func BuildRepost(original *nostr.Event, sourceRelay string) nostr.Event {
	ev := newEvent(6, "")
	if raw, err := json.Marshal(original); err == nil {
		ev.Content = string(raw)
	}
	ev.Tags = append(ev.Tags, nostr.Tag{"e", original.ID, sourceRelay})
	ev.Tags = append(ev.Tags, nostr.Tag{"p", original.PubKey})
	return ev
}

// BuildReaction builds a kind-7 reaction. emoji is "+", "-", or a custom
// shortcode (":name:"); customEmojiShortcode/URL are set only for the
// shortcode case.
func BuildReaction(target *nostr.Event, emoji, customEmojiShortcode, customEmojiURL string) nostr.Event {
	ev := newEvent(7, emoji)
	ev.Tags = append(ev.Tags, nostr.Tag{"e", target.ID})
	ev.Tags = append(ev.Tags, nostr.Tag{"p", target.PubKey})
	ev.Tags = append(ev.Tags, nostr.Tag{"k", strconv.Itoa(target.Kind)})
	if customEmojiShortcode != "" && customEmojiURL != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"emoji", customEmojiShortcode, customEmojiURL})
	}
	return ev
}

// BuildTopic builds a kind-11 topic root post.
func BuildTopic(content, title string) nostr.Event {
	ev := newEvent(11, content)
	if title != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"title", title})
	}
	return ev
}

// BuildThreadReply builds a kind-1111 NIP-22 reply: uppercase tags scope
// the root, lowercase tags name the direct parent.
func BuildThreadReply(content string, root, parent *nostr.Event) nostr.Event {
	ev := newEvent(1111, content)
	ev.Tags = append(ev.Tags,
		nostr.Tag{"E", root.ID},
		nostr.Tag{"K", strconv.Itoa(root.Kind)},
		nostr.Tag{"P", root.PubKey},
		nostr.Tag{"e", parent.ID},
		nostr.Tag{"k", strconv.Itoa(parent.Kind)},
		nostr.Tag{"p", parent.PubKey},
	)
	return ev
}

// BuildLiveActivity builds (or updates, via the same d-tag) a kind-30311
// parameterized-replaceable live activity.
func BuildLiveActivity(dTag, title, summary, status string) nostr.Event {
	ev := newEvent(30311, "")
	ev.Tags = append(ev.Tags, nostr.Tag{"d", dTag})
	if title != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"title", title})
	}
	if summary != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"summary", summary})
	}
	if status != "" {
		ev.Tags = append(ev.Tags, nostr.Tag{"status", status})
	}
	return ev
}

// BuildContactList builds a kind-3 contact list from the given follow
// pubkeys.
func BuildContactList(follows []string) nostr.Event {
	ev := newEvent(3, "")
	for _, pk := range follows {
		ev.Tags = append(ev.Tags, nostr.Tag{"p", pk})
	}
	return ev
}

// BuildRelayList builds a kind-10002 NIP-65 relay list.
func BuildRelayList(entries []RelayListEntry) nostr.Event {
	ev := newEvent(10002, "")
	for _, e := range entries {
		tag := nostr.Tag{"r", e.URL}
		if e.CanRead && !e.CanWrite {
			tag = append(tag, "read")
		} else if e.CanWrite && !e.CanRead {
			tag = append(tag, "write")
		}
		ev.Tags = append(ev.Tags, tag)
	}
	return ev
}

// BuildHTTPAuth builds a kind-27235 NIP-98 HTTP-auth event for url/method.
func BuildHTTPAuth(url, method string) nostr.Event {
	ev := newEvent(27235, "")
	ev.Tags = append(ev.Tags, nostr.Tag{"u", url}, nostr.Tag{"method", method})
	return ev
}
