package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// capabilityCheckTTL is how long a capability check result stays valid
const capabilityCheckTTL = 7 * 24 * time.Hour

// NIP11RelayInfo represents the relay information document (NIP-11)
type NIP11RelayInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	PubKey        string `json:"pubkey"`
	Contact       string `json:"contact"`
	SupportedNIPs []int  `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
}

// relayCapabilities caches what a relay advertised it can do
type relayCapabilities struct {
	URL                string
	SupportsNegentropy bool
	Software           string
	Version            string
	LastChecked        time.Time
	CheckExpiry        time.Time
}

// getRelayCapabilities returns cached capabilities for a relay,
// refreshing via NIP-11 when the cached result has expired. A refresh
// stores a freshly built struct; entries in p.caps are never written
// after publication.
func (p *Pool) getRelayCapabilities(ctx context.Context, url string) (*relayCapabilities, error) {
	if caps, ok := p.caps.Load(url); ok && time.Now().Before(caps.CheckExpiry) {
		return caps, nil
	}

	caps, err := p.detectRelayCapabilities(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to detect capabilities: %w", err)
	}

	caps.LastChecked = time.Now()
	caps.CheckExpiry = caps.LastChecked.Add(capabilityCheckTTL)
	p.caps.Store(url, caps)

	return caps, nil
}

// detectRelayCapabilities performs a fresh capability check. A relay that
// does not list NIP-77 is conservatively assumed not to support it; the
// negentropy path updates the cache if a sync attempt proves otherwise.
func (p *Pool) detectRelayCapabilities(ctx context.Context, url string) (*relayCapabilities, error) {
	caps := &relayCapabilities{
		URL:                url,
		SupportsNegentropy: false,
	}

	info, err := p.fetchNIP11Info(ctx, url)
	if err != nil {
		return caps, nil
	}

	caps.Software = info.Software
	caps.Version = info.Version
	for _, nip := range info.SupportedNIPs {
		if nip == 77 {
			caps.SupportsNegentropy = true
			break
		}
	}

	return caps, nil
}

// fetchNIP11Info fetches the relay information document over HTTP
func (p *Pool) fetchNIP11Info(ctx context.Context, wsURL string) (*NIP11RelayInfo, error) {
	httpURL := strings.Replace(wsURL, "ws://", "http://", 1)
	httpURL = strings.Replace(httpURL, "wss://", "https://", 1)

	req, err := http.NewRequestWithContext(ctx, "GET", httpURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/nostr+json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NIP-11 info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NIP-11 request failed: status %d", resp.StatusCode)
	}

	var info NIP11RelayInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse NIP-11 response: %w", err)
	}

	return &info, nil
}

// markNegentropyUnsupported records that a relay rejected a NIP-77
// handshake so future syncs skip straight to REQ. Cached entries are
// immutable once stored; the mark replaces the entry with a fresh one
// instead of mutating a struct other goroutines may be reading.
func (p *Pool) markNegentropyUnsupported(url string) {
	now := time.Now()
	fresh := &relayCapabilities{
		URL:         url,
		LastChecked: now,
		CheckExpiry: now.Add(capabilityCheckTTL),
	}
	if caps, ok := p.caps.Load(url); ok {
		fresh.Software = caps.Software
		fresh.Version = caps.Version
	}
	p.caps.Store(url, fresh)
}
