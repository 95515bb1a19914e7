package websocket

import (
	"log"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/branlyclub/branlyclub/internal/auth"
	"github.com/branlyclub/branlyclub/internal/model"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and runs them as Hub clients. Owners are subscribed to their own
// store's events; admins and customers watch all stores.
//
// originPatterns lists the browser origins allowed to connect, matched
// against the Origin host. Empty means same-host only, which keeps other
// sites from riding the session cookie into a store's event feed.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var storeID int64
		if ac, ok := auth.FromContext(r.Context()); ok && ac.Role == model.RoleOwner {
			storeID = ac.StoreID
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Printf("websocket: accept: %v", err)
			return
		}

		client := NewClient(hub, conn, storeID)
		client.Run(r.Context())
	}
}
