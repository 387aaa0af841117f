package feed

import (
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/nostrutil"
)

// RepostMeta carries the extra bookkeeping a repost-projected Note needs.
type RepostMeta struct {
	OriginalID        string
	ReposterAuthors   []string
	RepostTimestampMs int64
}

// Note is the UI projection of a kind-1/6/11 event.
type Note struct {
	ID             string
	AuthorID       string
	Content        string
	TimestampMs    int64
	Hashtags       []string
	MediaURLs      []string
	QuotedEventIDs []string
	IsReply        bool
	RootID         string
	ParentID       string
	RelayURLs      map[string]struct{}
	Repost         *RepostMeta
}

// sortTimestamp is the value Note ordering uses: RepostTimestampMs when
// present, else TimestampMs.
func (n *Note) sortTimestamp() int64 {
	if n.Repost != nil {
		return n.Repost.RepostTimestampMs
	}
	return n.TimestampMs
}

func (n *Note) addRelay(url string) {
	if n.RelayURLs == nil {
		n.RelayURLs = make(map[string]struct{})
	}
	n.RelayURLs[url] = struct{}{}
}

func (n *Note) hasAnyRelay(set map[string]struct{}) bool {
	if len(set) == 0 {
		return true
	}
	for url := range n.RelayURLs {
		if _, ok := set[url]; ok {
			return true
		}
	}
	return false
}

var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp4", ".mov", ".webm"}

func extractHashtags(tags nostr.Tags) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "t" {
			out = append(out, t[1])
		}
	}
	return out
}

func extractMediaURLs(content string) []string {
	var out []string
	for _, word := range strings.Fields(content) {
		lower := strings.ToLower(word)
		for _, ext := range mediaExtensions {
			if strings.HasSuffix(lower, ext) && (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) {
				out = append(out, word)
				break
			}
		}
	}
	return out
}

func extractQuotedEventIDs(tags nostr.Tags) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "q" {
			out = append(out, t[1])
		}
	}
	return out
}

// noteFromEvent converts a kind-1/11 event into a Note, leaving AuthorID as
// the raw pubkey (display-name resolution happens via the profile cache,
// consulted by the UI layer, not by the feed).
func noteFromEvent(ev *nostr.Event, relay string) *Note {
	root, reply := nostrutil.ParseNIP10(ev.Tags)
	n := &Note{
		ID:             ev.ID,
		AuthorID:       strings.ToLower(ev.PubKey),
		Content:        ev.Content,
		TimestampMs:    int64(ev.CreatedAt) * 1000,
		Hashtags:       extractHashtags(ev.Tags),
		MediaURLs:      extractMediaURLs(ev.Content),
		QuotedEventIDs: extractQuotedEventIDs(ev.Tags),
		IsReply:        root != "" || reply != "",
		RootID:         root,
		ParentID:       reply,
	}
	n.addRelay(relay)
	return n
}

// sortNotesDescending sorts notes newest-first by sortTimestamp.
func sortNotesDescending(notes []*Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].sortTimestamp() > notes[j].sortTimestamp()
	})
}
