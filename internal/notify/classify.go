package notify

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/nostrutil"
)

// classification is the result of classifying an inbound event before
// it's merged into the consolidated notification map.
type classification struct {
	typ      Type
	targetID string
	// targetAuthor is relaycore's best-effort read of who authored the
	// target note, used by the self-filter. It relies on the common
	// convention that an e-tag referencing a note is paired with a p-tag
	// naming that note's author (NIP-10's recommended reply-tagging
	// shape); NIP-22 (kind 1111) carries this explicitly via its
	// uppercase root tags, which is authoritative where present.
	targetAuthor string
	drop         bool
}

func classify(ev *nostr.Event, me string) classification {
	switch ev.Kind {
	case 7:
		return classification{typ: Like, targetID: lastTag(ev.Tags, "e"), targetAuthor: lastTag(ev.Tags, "p")}

	case 1:
		root, reply := nostrutil.ParseNIP10(ev.Tags)
		if root == "" {
			if hasTag(ev.Tags, "p", me) {
				return classification{typ: Mention, targetID: ev.ID, targetAuthor: me}
			}
			return classification{drop: true}
		}
		target := reply
		if target == "" {
			target = root
		}
		return classification{typ: Reply, targetID: target, targetAuthor: lastTag(ev.Tags, "p")}

	case 1111:
		rootID := lastTag(ev.Tags, "E")
		rootAuthor := lastTag(ev.Tags, "P")
		if rootID == "" {
			rootID = lastTag(ev.Tags, "e")
		}
		return classification{typ: Reply, targetID: rootID, targetAuthor: rootAuthor}

	case 6:
		return classification{typ: Repost, targetID: lastTag(ev.Tags, "e")}

	case 9735:
		return classification{typ: Zap, targetID: lastTag(ev.Tags, "e")}

	default:
		return classification{drop: true}
	}
}
