package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/platform/logger"
)

// Gateway defaults.
const (
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultPingInterval = 54 * time.Second

	// maxInboundMessage bounds what observers may send; the gateway only
	// reads control frames.
	maxInboundMessage = 512
)

// EventSubscriber hands out event streams.
type EventSubscriber interface {
	Subscribe(ctx context.Context, source events.BaselineSource, limit int) (<-chan events.Event, error)
	Count() int
}

// GatewayConfig tunes a Gateway.
type GatewayConfig struct {
	BaselineLimit int
	WriteWait     time.Duration
	PongWait      time.Duration
	PingInterval  time.Duration
}

// Gateway streams task and metric events to WebSocket observers. Each
// connection receives the baseline first, then incremental events, as
// JSON text frames.
type Gateway struct {
	bus      EventSubscriber
	source   events.BaselineSource
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGateway creates a Gateway over bus, loading baselines from source.
func NewGateway(bus EventSubscriber, source events.BaselineSource, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaselineLimit <= 0 {
		cfg.BaselineLimit = RecentTasksLimit
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	return &Gateway{
		bus:    bus,
		source: source,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "gateway"),
	}
}

// Subscribers returns the number of connected observers.
func (g *Gateway) Subscribers() int {
	return g.bus.Count()
}

// ServeHTTP upgrades the connection and streams events until either side
// goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), g.logger)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := g.bus.Subscribe(ctx, g.source, g.cfg.BaselineLimit)
	if err != nil {
		log.Error("failed to subscribe observer", "error", err)
		g.close(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	log.Info("observer connected", "subscribers", g.bus.Count())
	defer log.Info("observer disconnected")

	go g.readPump(conn, cancel)
	g.writePump(ctx, conn, stream, log)
}

// readPump discards inbound messages and keeps the read deadline fresh
// on pongs. It cancels the stream when the peer goes away.
func (g *Gateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxInboundMessage)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, stream <-chan events.Event, log *slog.Logger) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-stream:
			if !ok {
				// Dropped by the bus; the observer reconnects for a fresh baseline.
				g.close(conn, websocket.CloseTryAgainLater, "stream closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("failed to write event", "type", event.Type, "error", err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(g.cfg.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug("failed to ping observer", "error", err)
				return
			}
		}
	}
}

func (g *Gateway) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteWait))
}
