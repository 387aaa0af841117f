package notify

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Type is a notification's classification.
type Type int

const (
	Like Type = iota
	Reply
	Mention
	Repost
	Zap
	ThreadReply
)

func (t Type) String() string {
	switch t {
	case Like:
		return "like"
	case Reply:
		return "reply"
	case Mention:
		return "mention"
	case Repost:
		return "repost"
	case Zap:
		return "zap"
	case ThreadReply:
		return "thread_reply"
	default:
		return "unknown"
	}
}

// Notification is a consolidated-by-target aggregate.
type Notification struct {
	ID           string
	Type         Type
	TargetID     string
	Actors       []string
	LastEmoji    string
	ZapTotalSats int64
	ZapSenders   []string
	TimestampMs  int64
}

func notificationKey(t Type, targetID string) string {
	return fmt.Sprintf("%d:%s", t, targetID)
}

func lastTag(tags nostr.Tags, name string) string {
	var last string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			last = tag[1]
		}
	}
	return last
}

func hasTag(tags nostr.Tags, name, value string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}

func appendDeduped(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
