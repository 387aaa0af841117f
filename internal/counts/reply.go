package counts

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/nostrutil"
)

// applyReplyLocked increments directParent's replyCount by one. directParent
// is the marked "reply" e-tag if present, else the marked "root" e-tag, else
// the last e-tag — depth-1 only, so a grandchild reply never touches the
// root's count.
func (a *Aggregator) applyReplyLocked(ev *nostr.Event) {
	target := directParent(ev.Tags)
	if target == "" {
		return
	}
	a.countsForLocked(target).ReplyCount++
}

func directParent(tags nostr.Tags) string {
	root, reply := nostrutil.ParseNIP10(tags)
	if reply != "" {
		return reply
	}
	if root != "" {
		return root
	}

	var last string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "e" {
			last = tag[1]
		}
	}
	return last
}
