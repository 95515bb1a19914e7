package websocket

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func upgradeRequest(t *testing.T, url, origin string) *http.Response {
	t.Helper()

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	return resp
}

func TestHandleWebSocketRejectsCrossOrigin(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, nil))
	defer srv.Close()

	resp := upgradeRequest(t, srv.URL, "https://evil.example")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-origin upgrade: status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestHandleWebSocketSameOrigin(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, nil))
	defer srv.Close()

	resp := upgradeRequest(t, srv.URL, srv.URL)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("same-origin upgrade: status = %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}
}

func TestHandleWebSocketConfiguredOrigin(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, []string{"dashboard.branly.club"}))
	defer srv.Close()

	resp := upgradeRequest(t, srv.URL, "https://dashboard.branly.club")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("configured origin: status = %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}

	resp2 := upgradeRequest(t, srv.URL, "https://other.example")
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("unlisted origin: status = %d, want %d", resp2.StatusCode, http.StatusForbidden)
	}
}
