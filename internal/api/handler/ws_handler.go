package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/core/ports"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long the connection may stay silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SessionSubscriber is the slice of the tracking registry the channel server
// consumes: a subscribe call yielding an event channel and its release.
type SessionSubscriber interface {
	Subscribe(ctx context.Context, orderID string) (<-chan []byte, func(), error)
}

// ChannelHandler is the realtime channel server: one websocket endpoint per
// order over which serialized tracking events are pushed in arrival order.
type ChannelHandler struct {
	service  ports.TrackingService
	registry SessionSubscriber
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewChannelHandler(service ports.TrackingService, registry SessionSubscriber, log zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{
		service:  service,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The token, not the origin, is the access control here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve handles GET /ws/orders/:id. The caller is authorized against the
// order before the upgrade, so an unauthorized connect is refused as a plain
// HTTP error without ever touching the session.
func (h *ChannelHandler) Serve(c echo.Context) error {
	actor, err := ctxActor(c)
	if err != nil {
		return err
	}
	orderID := c.Param("id")

	ctx := c.Request().Context()
	if err := h.service.AuthorizeSubscribe(ctx, orderID, actor); err != nil {
		return err
	}

	events, unsubscribe, err := h.registry.Subscribe(ctx, orderID)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		unsubscribe()
		return err
	}

	h.log.Debug().Str("order_id", orderID).Str("user_id", actor.UserID).Msg("subscriber connected")
	go h.pump(conn, orderID, events, unsubscribe)
	return nil
}

// pump owns the connection for its lifetime: it relays session events to the
// peer and tears everything down on the first sign of trouble. Unsubscribing
// on every exit path releases the subscriber slot promptly; a closed event
// channel means the session dropped us for falling behind.
func (h *ChannelHandler) pump(conn *websocket.Conn, orderID string, events <-chan []byte, unsubscribe func()) {
	defer unsubscribe()
	defer conn.Close()

	// Reader: we expect no data from subscribers, but reading is what
	// surfaces pongs, client close frames, and dead peers.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				// Dropped by the session for not keeping up. The client is
				// expected to reconnect and will receive a fresh snapshot.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"))
				h.log.Warn().Str("order_id", orderID).Msg("subscriber disconnected: channel overrun")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.log.Debug().Str("order_id", orderID).Msg("subscriber disconnected")
			return
		}
	}
}
