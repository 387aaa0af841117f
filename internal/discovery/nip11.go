package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// nip11Info is a relay's NIP-11 information document, or the subset of it
// relaycore cares about.
type nip11Info struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	SupportedNIPs []int  `json:"supported_nips"`
}

// fetchNIP11 retrieves a relay's information document over the ws(s)://
// URL's http(s) counterpart, per NIP-11.
func (c *Catalog) fetchNIP11(ctx context.Context, relayURL string) (*nip11Info, error) {
	httpURL := strings.Replace(relayURL, "wss://", "https://", 1)
	httpURL = strings.Replace(httpURL, "ws://", "http://", 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: NIP-11 request to %s failed: status %d", relayURL, resp.StatusCode)
	}

	var info nip11Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
