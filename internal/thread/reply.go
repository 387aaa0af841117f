package thread

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/nostrutil"
)

// Reply is the thread builder's per-event projection.
type Reply struct {
	ID          string
	AuthorID    string
	Content     string
	TimestampMs int64
	RootID      string
	ParentID    string
}

func replyFromEvent(ev *nostr.Event) Reply {
	root, parent := nostrutil.ParseNIP10(ev.Tags)
	return Reply{
		ID:          ev.ID,
		AuthorID:    ev.PubKey,
		Content:     ev.Content,
		TimestampMs: int64(ev.CreatedAt) * 1000,
		RootID:      root,
		ParentID:    parent,
	}
}

func sortRepliesAscending(replies []Reply) {
	sort.Slice(replies, func(i, j int) bool { return replies[i].TimestampMs < replies[j].TimestampMs })
}
