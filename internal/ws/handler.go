package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/open-same/collab-hub/internal/model"
)

// Handler upgrades HTTP requests and serves them as hub connections.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	origins  []string
	log      *slog.Logger
}

// NewHandler creates a handler for hub. allowedOrigins is matched with
// OriginAllowed.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	h := &Handler{
		hub:     hub,
		origins: allowedOrigins,
		log:     hub.log.With("component", "ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// HandleConnection upgrades the request and blocks until the connection
// has been torn down.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, identity model.Identity) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := NewConnection(h.hub, conn, identity)
	h.log.Debug("conn.accepted", "conn_id", c.ID(), "user_id", identity.UserID, "remote", r.RemoteAddr)
	c.Run(r.Context())
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return OriginAllowed(h.origins, origin)
}

// OriginAllowed reports whether origin matches an entry of allowed. Entries
// are "*", a full origin such as "https://docs.example.com", or a bare host
// such as "docs.example.com" which matches that host under any scheme. An
// empty list allows every origin.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.TrimSuffix(strings.TrimSpace(entry), "/")
		switch {
		case entry == "*":
			return true
		case strings.Contains(entry, "://"):
			if strings.EqualFold(entry, u.Scheme+"://"+u.Host) {
				return true
			}
		case strings.EqualFold(entry, u.Host):
			return true
		}
	}
	return false
}
