package nostrutil

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestNormalizeRelayURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"wss://Relay.Example.com/", "wss://relay.example.com"},
		{"relay.example.com", "wss://relay.example.com"},
		{"ws://relay.example.com", "ws://relay.example.com"},
		{"https://relay.example.com", "wss://relay.example.com"},
		{"WSS://RELAY.EXAMPLE.COM", "wss://relay.example.com"},
		{"wss://relay.example.com/path/", "wss://relay.example.com/path"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeRelayURL(c.in); got != c.want {
			t.Errorf("NormalizeRelayURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsAddressable(t *testing.T) {
	cases := []struct {
		kind int
		want bool
	}{
		{0, true},
		{3, true},
		{1, false},
		{10002, true},
		{30023, true},
		{40000, false},
		{9999, false},
	}
	for _, c := range cases {
		if got := IsAddressable(c.kind); got != c.want {
			t.Errorf("IsAddressable(%d) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestAddressableKey(t *testing.T) {
	got := AddressableKey(30023, "abc", "my-article")
	want := "30023:abc:my-article"
	if got != want {
		t.Errorf("AddressableKey = %q, want %q", got, want)
	}
}

func TestParseNIP10(t *testing.T) {
	cases := []struct {
		name       string
		tags       nostr.Tags
		root, reply string
	}{
		{
			name:  "positional two tags",
			tags:  nostr.Tags{{"e", "A"}, {"e", "B"}},
			root:  "A", reply: "B",
		},
		{
			name:  "marked root, unmarked reply",
			tags:  nostr.Tags{{"e", "A", "", "root"}, {"e", "B"}},
			root:  "A", reply: "B",
		},
		{
			name:  "single marked root",
			tags:  nostr.Tags{{"e", "A", "", "root"}},
			root:  "A", reply: "A",
		},
		{
			name:  "marked reply only, no root",
			tags:  nostr.Tags{{"e", "A", "", "pk", "reply"}},
			root:  "", reply: "A",
		},
		{
			name:  "no e tags",
			tags:  nostr.Tags{{"p", "x"}},
			root:  "", reply: "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			root, reply := ParseNIP10(c.tags)
			if root != c.root || reply != c.reply {
				t.Errorf("ParseNIP10(%v) = (%q,%q), want (%q,%q)", c.tags, root, reply, c.root, c.reply)
			}
		})
	}
}
