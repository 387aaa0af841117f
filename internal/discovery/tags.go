package discovery

import "github.com/nbd-wtf/go-nostr"

func lastTag(tags nostr.Tags, name string) string {
	var last string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			last = tag[1]
		}
	}
	return last
}
