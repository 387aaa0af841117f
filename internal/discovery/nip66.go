package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// fetchNIP66 opens a temporary subscription for kind-30166 relay-discovery
// events against the configured monitor relays, collects whatever arrives
// within the timeout, and aggregates per relay across every monitor that
// reported on it. This is the fallback discovery source, used when the REST
// endpoint is unreachable or unconfigured.
func (c *Catalog) fetchNIP66(ctx context.Context) []*DiscoveredRelay {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.NIP66TimeoutS)*time.Second)
	defer cancel()

	var mu sync.Mutex
	var events []*nostr.Event

	handle := c.router.RequestTemporarySubscription(fetchCtx, c.cfg.MonitorRelays, nostr.Filters{{
		Kinds: []int{30166},
		Limit: 500,
	}}, func(relay string, ev *nostr.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	<-fetchCtx.Done()
	handle.Cancel()

	mu.Lock()
	defer mu.Unlock()
	return aggregateNIP66(events)
}

type aggState struct {
	relay        *DiscoveredRelay
	publishers   map[string]struct{}
	types        map[string]struct{}
	nips         map[int]struct{}
	topics       map[string]struct{}
	requirements map[string]struct{}
	rttOpenSum   int
	rttOpenN     int
	rttReadSum   int
	rttReadN     int
	rttWriteSum  int
	rttWriteN    int
	lastSeen     int64
}

func newAggState(url string) *aggState {
	return &aggState{
		relay:        &DiscoveredRelay{URL: url},
		publishers:   make(map[string]struct{}),
		types:        make(map[string]struct{}),
		nips:         make(map[int]struct{}),
		topics:       make(map[string]struct{}),
		requirements: make(map[string]struct{}),
	}
}

// aggregateNIP66 groups NIP-66 discovery events by their "d"-tagged relay
// URL and merges each group into one DiscoveredRelay: types/NIPs/topics/
// requirements union, RTTs averaged, scalar fields first-non-null across
// monitors, lastSeen the max created_at, monitorCount the distinct
// publisher count.
func aggregateNIP66(events []*nostr.Event) []*DiscoveredRelay {
	byURL := make(map[string]*aggState)
	for _, ev := range events {
		url := lastTag(ev.Tags, "d")
		if url == "" {
			continue
		}
		st, ok := byURL[url]
		if !ok {
			st = newAggState(url)
			byURL[url] = st
		}
		st.merge(ev)
	}

	out := make([]*DiscoveredRelay, 0, len(byURL))
	for _, st := range byURL {
		st.finalize()
		out = append(out, st.relay)
	}
	return out
}

func (s *aggState) merge(ev *nostr.Event) {
	s.publishers[ev.PubKey] = struct{}{}
	if int64(ev.CreatedAt) > s.lastSeen {
		s.lastSeen = int64(ev.CreatedAt)
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "T":
			s.types[tag[1]] = struct{}{}
		case "N":
			if n, err := strconv.Atoi(tag[1]); err == nil {
				s.nips[n] = struct{}{}
			}
		case "t":
			s.topics[tag[1]] = struct{}{}
		case "R":
			s.requirements[tag[1]] = struct{}{}
		case "rtt-open":
			if v, err := strconv.Atoi(tag[1]); err == nil {
				s.rttOpenSum += v
				s.rttOpenN++
			}
		case "rtt-read":
			if v, err := strconv.Atoi(tag[1]); err == nil {
				s.rttReadSum += v
				s.rttReadN++
			}
		case "rtt-write":
			if v, err := strconv.Atoi(tag[1]); err == nil {
				s.rttWriteSum += v
				s.rttWriteN++
			}
		case "l":
			if len(tag) >= 3 && tag[2] == "iso-3166-1" && s.relay.Country == "" {
				s.relay.Country = tag[1]
			}
		}
	}

	if ev.Content == "" {
		return
	}
	var info nip11Info
	if err := json.Unmarshal([]byte(ev.Content), &info); err != nil {
		return
	}
	if s.relay.Software == "" {
		s.relay.Software = info.Software
	}
	if s.relay.Version == "" {
		s.relay.Version = info.Version
	}
	if s.relay.Name == "" {
		s.relay.Name = info.Name
	}
	if s.relay.Description == "" {
		s.relay.Description = info.Description
	}
	for _, n := range info.SupportedNIPs {
		s.nips[n] = struct{}{}
	}
}

func (s *aggState) finalize() {
	s.relay.MonitorCount = len(s.publishers)
	s.relay.LastSeen = s.lastSeen
	if s.rttOpenN > 0 {
		s.relay.RTTOpenMs = s.rttOpenSum / s.rttOpenN
	}
	if s.rttReadN > 0 {
		s.relay.RTTReadMs = s.rttReadSum / s.rttReadN
	}
	if s.rttWriteN > 0 {
		s.relay.RTTWriteMs = s.rttWriteSum / s.rttWriteN
	}

	for t := range s.types {
		s.relay.Types = append(s.relay.Types, RelayType(t))
	}
	sort.Slice(s.relay.Types, func(i, j int) bool { return s.relay.Types[i] < s.relay.Types[j] })

	for n := range s.nips {
		s.relay.SupportedNIPs = append(s.relay.SupportedNIPs, n)
	}
	sort.Ints(s.relay.SupportedNIPs)

	for t := range s.topics {
		s.relay.Topics = append(s.relay.Topics, t)
	}
	sort.Strings(s.relay.Topics)

	for r := range s.requirements {
		s.relay.Requirements = append(s.relay.Requirements, r)
	}
	sort.Strings(s.relay.Requirements)

	if len(s.relay.Types) == 0 && len(s.relay.SupportedNIPs) > 0 {
		s.relay.Types = inferRelayTypes(s.relay.SupportedNIPs)
	}
}
