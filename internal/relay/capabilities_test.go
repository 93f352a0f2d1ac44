package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func nip11Server(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/nostr+json" {
			t.Errorf("Expected Accept application/nostr+json, got %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/nostr+json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http://", "ws://", 1)
}

func TestDetectRelayCapabilities_Negentropy(t *testing.T) {
	p := testPool(t)
	url := nip11Server(t, `{"name":"test","software":"strfry","version":"1.0","supported_nips":[1,11,77]}`)

	caps, err := p.detectRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("detectRelayCapabilities() error = %v", err)
	}

	if !caps.SupportsNegentropy {
		t.Error("Expected negentropy support for relay advertising NIP-77")
	}
	if caps.Software != "strfry" {
		t.Errorf("Expected software 'strfry', got %s", caps.Software)
	}
}

func TestDetectRelayCapabilities_NoNegentropy(t *testing.T) {
	p := testPool(t)
	url := nip11Server(t, `{"name":"test","supported_nips":[1,11]}`)

	caps, err := p.detectRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("detectRelayCapabilities() error = %v", err)
	}
	if caps.SupportsNegentropy {
		t.Error("Expected no negentropy support without NIP-77")
	}
}

func TestDetectRelayCapabilities_UnreachableRelay(t *testing.T) {
	p := testPool(t)

	caps, err := p.detectRelayCapabilities(context.Background(), "ws://127.0.0.1:1")
	if err != nil {
		t.Fatalf("Expected unreachable NIP-11 endpoint not to error, got %v", err)
	}
	if caps.SupportsNegentropy {
		t.Error("Expected conservative default of no negentropy support")
	}
}

func TestGetRelayCapabilities_Cached(t *testing.T) {
	p := testPool(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"supported_nips":[77]}`)
	}))
	t.Cleanup(srv.Close)
	url := strings.Replace(srv.URL, "http://", "ws://", 1)

	for i := 0; i < 3; i++ {
		if _, err := p.getRelayCapabilities(context.Background(), url); err != nil {
			t.Fatalf("getRelayCapabilities() error = %v", err)
		}
	}

	if calls != 1 {
		t.Errorf("Expected 1 NIP-11 fetch across cached lookups, got %d", calls)
	}
}

func TestMarkNegentropyUnsupported(t *testing.T) {
	p := testPool(t)
	url := nip11Server(t, `{"supported_nips":[77]}`)

	caps, err := p.getRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("getRelayCapabilities() error = %v", err)
	}
	if !caps.SupportsNegentropy {
		t.Fatal("Expected negentropy support before the mark")
	}

	p.markNegentropyUnsupported(url)

	caps, err = p.getRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("getRelayCapabilities() error = %v", err)
	}
	if caps.SupportsNegentropy {
		t.Error("Expected negentropy support cleared after the mark")
	}
	if time.Now().After(caps.CheckExpiry) {
		t.Error("Expected the mark to refresh the cache expiry")
	}
}

func TestCapabilities_ConcurrentGetAndMark(t *testing.T) {
	p := testPool(t)
	url := nip11Server(t, `{"software":"strfry","supported_nips":[77]}`)

	// Prime the cache so every concurrent get below is a pure read
	if _, err := p.getRelayCapabilities(context.Background(), url); err != nil {
		t.Fatalf("getRelayCapabilities() error = %v", err)
	}

	// Concurrent hydrates reading the cache while sync failures replace
	// entries must never observe a half-written struct
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := p.getRelayCapabilities(context.Background(), url); err != nil {
					t.Errorf("getRelayCapabilities() error = %v", err)
					return
				}
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.markNegentropyUnsupported(url)
			}
		}()
	}
	wg.Wait()

	caps, err := p.getRelayCapabilities(context.Background(), url)
	if err != nil {
		t.Fatalf("getRelayCapabilities() error = %v", err)
	}
	if caps.SupportsNegentropy {
		t.Error("Expected the final mark to stick")
	}
	if caps.Software != "strfry" {
		t.Errorf("Expected software carried across replacement, got %q", caps.Software)
	}
}

func TestIsNegentropyUnsupportedError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"neg-err message", fmt.Errorf("relay said: NEG-ERR closed"), true},
		{"unknown message type", fmt.Errorf("unknown message type NEG-OPEN"), true},
		{"unsupported", fmt.Errorf("unsupported protocol"), true},
		{"transport failure", fmt.Errorf("websocket: connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNegentropyUnsupportedError(tt.err); got != tt.want {
				t.Errorf("Expected %v for %v, got %v", tt.want, tt.err, got)
			}
		})
	}
}
