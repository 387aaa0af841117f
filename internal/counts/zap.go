package counts

import (
	"encoding/json"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/nostrutil"
)

// applyZapLocked credits a zap receipt (kind 9735) to its target note,
// updating the running total, the per-author breakdown, and the ordered
// distinct-author list.
func (a *Aggregator) applyZapLocked(ev *nostr.Event) {
	target := lastETag(ev.Tags)
	if target == "" {
		return
	}

	sender, descAmountMsat := parseZapDescription(tagValue(ev.Tags, "description"))
	if sender == "" {
		sender = ev.PubKey
	}

	amount, ok := nostrutil.ParseBolt11Amount(tagValue(ev.Tags, "bolt11"))
	if !ok {
		amount = descAmountMsat / 1000
	}
	if amount <= 0 {
		return
	}

	nc := a.countsForLocked(target)
	nc.ZapCount++
	nc.ZapTotalSats += amount
	nc.ZapAmountByAuthor[sender] += amount

	for _, existing := range nc.ZapAuthors {
		if existing == sender {
			return
		}
	}
	nc.ZapAuthors = append(nc.ZapAuthors, sender)
}

func tagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// parseZapDescription extracts the real sender pubkey and requested amount
// (millisats) from the nested kind-9734 zap request carried in the
// "description" tag.
func parseZapDescription(descJSON string) (sender string, amountMsat int64) {
	if descJSON == "" {
		return "", 0
	}
	var req struct {
		Pubkey string `json:"pubkey"`
		Tags   [][]string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(descJSON), &req); err != nil {
		return "", 0
	}
	for _, t := range req.Tags {
		if len(t) >= 2 && t[0] == "amount" {
			if v, err := strconv.ParseInt(t[1], 10, 64); err == nil {
				amountMsat = v
			}
		}
	}
	return req.Pubkey, amountMsat
}

