package wsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/reference"
	"github.com/sawpanic/cryptopulse/internal/registry"
	"github.com/sawpanic/cryptopulse/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades /ws requests and hands each connection to a new
// Session. AuthFunc, when set, validates the bearer token on the upgrade
// request; a failure closes with policy violation per §6.
type Handler struct {
	reg      *registry.Registry
	resolver *reference.Resolver
	gateway  storage.Gateway
	AuthFunc func(r *http.Request) bool
}

// NewHandler builds a Handler bound to a registry, resolver, and gateway.
func NewHandler(reg *registry.Registry, resolver *reference.Resolver, gateway storage.Gateway) *Handler {
	return &Handler{reg: reg, resolver: resolver, gateway: gateway}
}

// ServeHTTP implements http.Handler for the /ws route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.AuthFunc != nil && !h.AuthFunc(r) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wsapi: upgrade failed")
		return
	}

	sess, err := NewSession(uuid.New().String(), conn, h.reg, h.resolver, h.gateway)
	if err != nil {
		log.Warn().Err(err).Msg("wsapi: session rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	sess.Run(context.Background())
}
