// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/location"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS layer
		return true
	},
}

// DeviceBinding returns the location provider and snapshot store of a device
type DeviceBinding func(device string) (location.Device, geo.KeyValueStore, error)

// PositionObserver receives session metrics
type PositionObserver interface {
	ObserveState(s geo.State)
	SessionOpened()
	SessionClosed()
}

// PositionSessionConfig contains configuration for position sessions
type PositionSessionConfig struct {
	Resolver  geosvc.ResolverConfig
	CacheKey  string
	ManualKey string
	WebSocket WebSocketConfig
}

// PositionHandler runs a geolocation resolver per websocket connection
type PositionHandler struct {
	bind     DeviceBinding
	config   PositionSessionConfig
	observer PositionObserver
	logger   logging.Logger
}

// NewPositionHandler creates a new position session handler
func NewPositionHandler(
	bind DeviceBinding,
	config PositionSessionConfig,
	observer PositionObserver,
	logger logging.Logger,
) *PositionHandler {
	if config.WebSocket == (WebSocketConfig{}) {
		config.WebSocket = DefaultWebSocketConfig()
	}
	return &PositionHandler{
		bind:     bind,
		config:   config,
		observer: observer,
		logger:   logger,
	}
}

// Messages exchanged over a position session
const (
	msgState       = "state"
	msgRequest     = "request"
	msgError       = "error"
	msgFix         = "fix"
	msgManual      = "manual"
	msgClearManual = "clear-manual"
	msgRefresh     = "refresh"
	msgWatch       = "watch"
	msgUnwatch     = "unwatch"
)

// positionCommand is a message sent by the device
type positionCommand struct {
	Type      string                `json:"type"`
	Position  *geo.Position         `json:"position,omitempty"`
	Error     *geo.GeolocationError `json:"error,omitempty"`
	Latitude  *float64              `json:"latitude,omitempty"`
	Longitude *float64              `json:"longitude,omitempty"`
	Altitude  *float64              `json:"altitude,omitempty"`
	Region    string                `json:"region,omitempty"`
}

type stateMessage struct {
	Type          string    `json:"type"`
	State         geo.State `json:"state"`
	HasPermission bool      `json:"hasPermission"`
	IsManual      bool      `json:"isManual"`
	IsCached      bool      `json:"isCached"`
}

type requestMessage struct {
	Type    string           `json:"type"`
	Request location.Request `json:"request"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServeSession upgrades the connection and runs the device's session
func (h *PositionHandler) ServeSession(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	if err := location.ValidateDeviceID(device); err != nil {
		respondWithError(w, r, h.logger, badRequest("%v", err))
		return
	}

	provider, kv, err := h.bind(device)
	if err != nil {
		respondWithError(w, r, h.logger, fmt.Errorf("error binding device: %w", err))
		return
	}

	logger := h.logger.With(logging.String("device", device))
	store := geosvc.NewPositionStore(kv, h.config.CacheKey, h.config.ManualKey)
	resolver, err := geosvc.NewResolver(store, provider, h.config.Resolver, logger)
	if err != nil {
		provider.Close()
		respondWithError(w, r, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "failed to upgrade to websocket", logging.Err(err))
		resolver.Close()
		provider.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &positionClient{
		conn:     conn,
		send:     make(chan []byte, 64),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		resolver: resolver,
		provider: provider,
		config:   h.config.WebSocket,
		language: requestLanguage(r),
		observer: h.observer,
		logger:   logger,
	}

	resolver.OnChange(func(s geo.State) {
		if h.observer != nil {
			h.observer.ObserveState(s)
		}
		client.push(newStateMessage(s))
	})

	stopRequests, err := provider.OnRequest(func(opts geo.Options) {
		client.push(requestMessage{Type: msgRequest, Request: location.NewRequest(opts)})
	})
	if err != nil {
		logger.Error(ctx, "failed to subscribe to position requests", logging.Err(err))
		client.close()
		return
	}
	client.stopRequests = stopRequests

	if h.observer != nil {
		h.observer.SessionOpened()
	}
	logger.Info(ctx, "position session opened")

	go client.writePump()
	client.push(newStateMessage(resolver.Snapshot()))
	client.background(func(ctx context.Context) error { return resolver.Start(ctx) })

	go client.readPump()
}

// positionClient is one connected device
type positionClient struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	resolver *geosvc.PositionResolver
	provider location.Device
	config   WebSocketConfig
	language string
	observer PositionObserver
	logger   logging.Logger

	stopRequests func()
	closeOnce    sync.Once
}

// readPump reads device messages until the connection drops
func (c *positionClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn(c.ctx, "websocket error", logging.Err(err))
			}
			return
		}

		c.processIncomingMessage(message)
	}
}

// writePump sends queued messages and keeps the connection alive
func (c *positionClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processIncomingMessage dispatches one device message
func (c *positionClient) processIncomingMessage(message []byte) {
	var cmd positionCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.pushError(badRequest("malformed message"))
		return
	}

	switch cmd.Type {
	case msgFix:
		if cmd.Position == nil {
			c.pushError(badRequest("fix without position"))
			return
		}
		c.pushIfError(c.provider.Push(geo.LocationEvent{Position: cmd.Position}))

	case msgError:
		if cmd.Error == nil {
			c.pushError(badRequest("error without details"))
			return
		}
		c.pushIfError(c.provider.Push(geo.LocationEvent{Err: cmd.Error}))

	case msgManual:
		c.pushIfError(c.setManual(cmd))

	case msgClearManual:
		c.background(c.resolver.ClearManualLocation)

	case msgRefresh:
		c.background(c.resolver.Refresh)

	case msgWatch:
		c.pushIfError(c.resolver.StartWatching())

	case msgUnwatch:
		c.resolver.StopWatching()

	case msgState:
		c.push(newStateMessage(c.resolver.Snapshot()))

	default:
		c.pushError(badRequest("unknown message type %q", cmd.Type))
	}
}

// setManual applies a city pick by region key or explicit coordinates
func (c *positionClient) setManual(cmd positionCommand) error {
	if cmd.Region != "" {
		region, ok := geosvc.RegionByKey(cmd.Region)
		if !ok {
			return badRequest("unknown region %q", cmd.Region)
		}
		return c.resolver.SetManualLocation(region.Latitude, region.Longitude, geo.Float(region.Altitude))
	}
	if cmd.Latitude == nil || cmd.Longitude == nil {
		return badRequest("manual location needs a region or coordinates")
	}
	return c.resolver.SetManualLocation(*cmd.Latitude, *cmd.Longitude, cmd.Altitude)
}

// background runs a blocking resolver call without stalling the read loop;
// the device's fixes arrive on that loop.
func (c *positionClient) background(fn func(ctx context.Context) error) {
	go func() {
		err := fn(c.ctx)
		if err == nil || c.ctx.Err() != nil {
			return
		}
		var ge *geo.GeolocationError
		if errors.As(err, &ge) {
			// already visible in the pushed state
			return
		}
		c.pushError(err)
	}()
}

func (c *positionClient) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error(c.ctx, "error marshaling message", logging.Err(err))
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn(c.ctx, "send buffer full, dropping message")
	}
}

func (c *positionClient) pushIfError(err error) {
	if err != nil {
		c.pushError(err)
	}
}

func (c *positionClient) pushError(err error) {
	var code, key string
	switch {
	case errors.Is(err, geosvc.ErrManualActive):
		code, key = "manual_active", i18n.KeyInvalidRequest
	default:
		_, key = classifyError(err)
		code = key
	}
	c.push(errorMessage{
		Type:    msgError,
		Code:    code,
		Error:   err.Error(),
		Message: i18n.Message(c.language, key),
	})
}

// close tears the session down once
func (c *positionClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.stopRequests != nil {
			c.stopRequests()
		}
		c.resolver.Close()
		c.provider.Close()
		c.conn.Close()

		if c.observer != nil && c.stopRequests != nil {
			c.observer.SessionClosed()
		}
		c.logger.Info(context.Background(), "position session closed")
	})
}

func newStateMessage(s geo.State) stateMessage {
	return stateMessage{
		Type:          msgState,
		State:         s,
		HasPermission: s.HasPermission(),
		IsManual:      s.IsManual(),
		IsCached:      s.IsCached(),
	}
}
