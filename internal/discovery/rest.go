package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type restSearchRequest struct {
	Limit  int               `json:"limit"`
	Format string            `json:"format"`
	Filter *restSearchFilter `json:"filter,omitempty"`
}

type restSearchFilter struct {
	NIPs []int `json:"nips,omitempty"`
}

type restRelayDescriptor struct {
	URL           string `json:"url"`
	SupportedNIPs []int  `json:"supported_nips"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	Country       string `json:"country"`
	RTTOpenMs     int    `json:"rtt_open_ms"`
	RTTReadMs     int    `json:"rtt_read_ms"`
	RTTWriteMs    int    `json:"rtt_write_ms"`
}

// fetchREST queries the catalog host's relay-search endpoint, the primary
// discovery source. Relay type is inferred from the descriptor's advertised
// NIPs since the REST shape doesn't carry a type field directly.
func (c *Catalog) fetchREST(ctx context.Context, nips []int) ([]*DiscoveredRelay, error) {
	if c.cfg.RestEndpoint == "" {
		return nil, fmt.Errorf("discovery: no REST endpoint configured")
	}

	body := restSearchRequest{Limit: 500, Format: "detailed"}
	if len(nips) > 0 {
		body.Filter = &restSearchFilter{NIPs: nips}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RestEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: REST search failed: status %d", resp.StatusCode)
	}

	var descriptors []restRelayDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&descriptors); err != nil {
		return nil, err
	}

	out := make([]*DiscoveredRelay, 0, len(descriptors))
	for _, d := range descriptors {
		relay := &DiscoveredRelay{
			URL:           d.URL,
			SupportedNIPs: d.SupportedNIPs,
			Name:          d.Name,
			Description:   d.Description,
			Software:      d.Software,
			Version:       d.Version,
			Country:       d.Country,
			RTTOpenMs:     d.RTTOpenMs,
			RTTReadMs:     d.RTTReadMs,
			RTTWriteMs:    d.RTTWriteMs,
			MonitorCount:  1,
			Types:         inferRelayTypes(d.SupportedNIPs),
		}
		out = append(out, relay)
	}
	return out, nil
}
