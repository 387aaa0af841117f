package discovery

// RelayType classifies what a relay is useful for. It's read directly off
// a NIP-66 monitor's "T" tags when available, and inferred from advertised
// NIP support otherwise.
type RelayType string

const (
	TypeSearch       RelayType = "SEARCH"
	TypePublicOutbox RelayType = "PUBLIC_OUTBOX"
	TypePublicInbox  RelayType = "PUBLIC_INBOX"
	TypeBlob         RelayType = "BLOB"
)

// DiscoveredRelay is a relay-URL-keyed aggregate of everything the catalog
// has learned about it, whether from the REST endpoint or from NIP-66
// monitors.
type DiscoveredRelay struct {
	URL           string
	SupportedNIPs []int
	Types         []RelayType
	Topics        []string
	Requirements  []string
	RTTOpenMs     int
	RTTReadMs     int
	RTTWriteMs    int
	Country       string
	Software      string
	Version       string
	Name          string
	Description   string
	LastSeen      int64
	MonitorCount  int
}

// RelayListEntry is one parsed "r" tag from a NIP-65 kind-10002 relay list.
type RelayListEntry struct {
	URL      string
	CanRead  bool
	CanWrite bool
}
