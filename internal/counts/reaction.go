package counts

import (
	"github.com/nbd-wtf/go-nostr"
)

const maxPassthroughReactionLen = 4

// applyReactionLocked adds the reactor to the target note's per-emoji
// author list. "+" maps to the heart emoji; "-" (downvote) is ignored
// entirely; a :shortcode: form is preserved with its emoji-tag URL looked
// up; content of 4 runes or fewer passes through unchanged; anything longer
// is kept as the raw string.
func (a *Aggregator) applyReactionLocked(ev *nostr.Event) {
	target := lastETag(ev.Tags)
	if target == "" {
		return
	}

	content := ev.Content
	if content == "-" {
		return
	}

	emoji := content
	if emoji == "" || emoji == "+" {
		emoji = "❤️"
	}

	nc := a.countsForLocked(target)

	if isShortcode(emoji) {
		if url, ok := emojiTagURL(ev.Tags, shortcodeName(emoji)); ok {
			nc.CustomEmojiURLs[shortcodeName(emoji)] = url
		}
	} else if len([]rune(emoji)) > maxPassthroughReactionLen {
		// raw string passthrough, nothing further to normalize
	}

	for _, existing := range nc.Reactions[emoji] {
		if existing == ev.PubKey {
			return
		}
	}
	nc.Reactions[emoji] = append(nc.Reactions[emoji], ev.PubKey)
}

func lastETag(tags nostr.Tags) string {
	var last string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "e" {
			last = tag[1]
		}
	}
	return last
}

func isShortcode(s string) bool {
	return len(s) >= 2 && s[0] == ':' && s[len(s)-1] == ':'
}

func shortcodeName(s string) string {
	if !isShortcode(s) {
		return s
	}
	return s[1 : len(s)-1]
}

func emojiTagURL(tags nostr.Tags, shortcode string) (string, bool) {
	for _, tag := range tags {
		if len(tag) >= 3 && tag[0] == "emoji" && tag[1] == shortcode {
			return tag[2], true
		}
	}
	return "", false
}
