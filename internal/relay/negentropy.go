package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip77"

	"github.com/fourochan/fourochan/internal/store"
)

// NegentropySync reconciles the local event cache with a relay using
// NIP-77. Returns (success, error) where success=false means the caller
// should fall back to a plain REQ query.
func (p *Pool) NegentropySync(ctx context.Context, relayURL string, filter nostr.Filter) (bool, error) {
	if !p.cfg.Policy.UseNegentropy {
		return false, nil
	}

	caps, err := p.getRelayCapabilities(ctx, relayURL)
	if err != nil {
		p.log.Debug("capability check failed, falling back to REQ",
			"relay", relayURL,
			"error", err)
		return false, nil
	}
	if !caps.SupportsNegentropy {
		return false, nil
	}

	adapter := store.NewAdapter(p.store)
	wrapper := eventstore.RelayWrapper{Store: adapter}

	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Down direction: fetch what the relay has and we don't
	if err := nip77.NegentropySync(syncCtx, wrapper, relayURL, filter, nip77.Down); err != nil {
		if isNegentropyUnsupportedError(err) {
			p.markNegentropyUnsupported(relayURL)
			return false, nil
		}
		return false, fmt.Errorf("negentropy sync failed: %w", err)
	}

	p.log.Debug("negentropy sync complete", "relay", relayURL)
	return true, nil
}

// isNegentropyUnsupportedError checks if an error indicates the relay
// does not speak NIP-77 (as opposed to a transport failure).
func isNegentropyUnsupportedError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"unsupported",
		"unknown message",
		"neg-open",
		"neg-err",
		"negentropy",
		"invalid",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
