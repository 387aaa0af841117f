// Package nostrutil holds small pure helpers shared across relaycore's
// components: relay URL normalization and addressable-event keying.
package nostrutil

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// NormalizeRelayURL canonicalizes a relay URL the way every component that
// compares or deduplicates relay identities expects: lower-cased scheme and
// host, default scheme of wss when none is given, and no trailing slash.
func NormalizeRelayURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	if !strings.Contains(s, "://") {
		s = "wss://" + s
	}

	schemeEnd := strings.Index(s, "://")
	scheme := strings.ToLower(s[:schemeEnd])
	rest := s[schemeEnd+3:]

	switch scheme {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	case "ws", "wss":
	default:
		scheme = "wss"
	}

	slash := strings.IndexByte(rest, '/')
	host := rest
	path := ""
	if slash >= 0 {
		host = rest[:slash]
		path = rest[slash:]
	}
	host = strings.ToLower(host)
	path = strings.TrimRight(path, "/")

	return scheme + "://" + host + path
}

// IsAddressable reports whether kind identifies a parameterized-replaceable
// or plain-replaceable event, per NIP-01.
func IsAddressable(kind int) bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000) || (kind >= 30000 && kind < 40000)
}

// IsParameterizedReplaceable reports whether kind requires a d-tag identity
// component (the 30000-39999 range).
func IsParameterizedReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// AddressableKey returns the (kind,pubkey,d-tag) identity string NIP-01
// defines for replaceable and parameterized-replaceable events. dTag should
// be the empty string for events that are replaceable but not parameterized.
func AddressableKey(kind int, pubkey, dTag string) string {
	return fmt.Sprintf("%d:%s:%s", kind, pubkey, dTag)
}

// tagMarker extracts a NIP-10 marker from an e-tag, checking marker
// positions 3, 4, 2 in that order — position 3 is the modern
// [e,id,relay,marker] form, 4 is [e,id,relay,pubkey,marker], and 2 is the
// old positional-only form some clients still emit.
func tagMarker(tag nostr.Tag) string {
	isMarker := func(s string) bool { return s == "root" || s == "reply" || s == "mention" }
	if len(tag) > 3 && isMarker(tag[3]) {
		return tag[3]
	}
	if len(tag) > 4 && isMarker(tag[4]) {
		return tag[4]
	}
	if len(tag) > 2 && isMarker(tag[2]) {
		return tag[2]
	}
	return ""
}

// ParseNIP10 classifies an event's e-tags into (root, reply) per the
// four-case rule: marked tags take priority; a single unmarked e-tag is
// both root and reply; two or more unmarked e-tags are positional (first =
// root, last = reply); and a root marked without an accompanying reply
// marker falls back to the last e-tag whose id differs from the root.
func ParseNIP10(tags nostr.Tags) (root, reply string) {
	var eTags []nostr.Tag
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "e" {
			eTags = append(eTags, t)
		}
	}
	if len(eTags) == 0 {
		return "", ""
	}

	var markedRoot, markedReply string
	for _, t := range eTags {
		switch tagMarker(t) {
		case "root":
			if markedRoot == "" {
				markedRoot = t[1]
			}
		case "reply":
			if markedReply == "" {
				markedReply = t[1]
			}
		}
	}

	if markedRoot != "" || markedReply != "" {
		root = markedRoot
		reply = markedReply
		if root != "" && reply == "" {
			if len(eTags) >= 2 {
				for i := len(eTags) - 1; i >= 0; i-- {
					if eTags[i][1] != root {
						reply = eTags[i][1]
						break
					}
				}
			} else {
				reply = root
			}
		}
		return root, reply
	}

	if len(eTags) == 1 {
		return eTags[0][1], eTags[0][1]
	}

	return eTags[0][1], eTags[len(eTags)-1][1]
}
