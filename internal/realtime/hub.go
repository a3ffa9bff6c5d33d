// Package realtime owns the per-user WebSocket connections, the shared
// user-id to connection routing table, and the relay that lets any server
// instance reach a connection held by another.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/store"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
	inboxSize           = 32
)

// Notifier delivers server events to a user wherever their connection lives.
type Notifier interface {
	// Emit reports false when the user has no live connection.
	Emit(ctx context.Context, userID, event string, payload any) (bool, error)
	Online(ctx context.Context, userID string) (bool, error)
}

// Client is the connection a request arrived on.
type Client interface {
	UserID() string
	Send(ctx context.Context, event string, payload any) error
}

// Handler processes inbound frames. Frames of one connection are handled
// one at a time, in arrival order.
type Handler interface {
	Handle(ctx context.Context, c Client, event string, data json.RawMessage)
	// Disconnected runs once the user's routing entry is gone.
	Disconnected(ctx context.Context, userID string)
}

type Options struct {
	InstanceID     string
	AllowedOrigins []string
	PingInterval   time.Duration
}

type Hub struct {
	store      *store.Store
	instanceID string
	origins    []string
	pingEvery  time.Duration

	mu      sync.RWMutex
	conns   map[string]*Conn
	handler Handler
}

func NewHub(st *store.Store, opt Options) *Hub {
	id := strings.TrimSpace(opt.InstanceID)
	if id == "" {
		id = uuid.NewString()
	}
	ping := opt.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Hub{
		store:      st,
		instanceID: id,
		origins:    opt.AllowedOrigins,
		pingEvery:  ping,
		conns:      make(map[string]*Conn),
	}
}

// SetHandler must be called before the hub serves connections.
func (h *Hub) SetHandler(hd Handler) {
	h.mu.Lock()
	h.handler = hd
	h.mu.Unlock()
}

func (h *Hub) InstanceID() string { return h.instanceID }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &Conn{id: uuid.NewString(), userID: userID, ws: ws, inbox: make(chan inbound, inboxSize)}
	if err := h.register(ctx, c); err != nil {
		obslog.L().Error("ws_register_failed", zap.String("user_id", userID), zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "register failed")
		return
	}
	obslog.L().Info("ws_connected", zap.String("user_id", userID), zap.String("conn_id", c.id))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.work(ctx, c) }()
	go func() { defer wg.Done(); c.pingLoop(ctx, h.pingEvery) }()

	c.readLoop(ctx)
	cancel()
	wg.Wait()

	h.unregister(c)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnected", zap.String("user_id", userID), zap.String("conn_id", c.id))
}

func (h *Hub) work(ctx context.Context, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-c.inbox:
			h.mu.RLock()
			hd := h.handler
			h.mu.RUnlock()
			if hd != nil {
				hd.Handle(ctx, c, in.Event, in.Data)
			}
		}
	}
}

func (h *Hub) handle(connID string) string { return h.instanceID + ":" + connID }

func splitHandle(handle string) (instance, connID string, ok bool) {
	i := strings.LastIndex(handle, ":")
	if i <= 0 || i == len(handle)-1 {
		return "", "", false
	}
	return handle[:i], handle[i+1:], true
}

func (h *Hub) register(ctx context.Context, c *Conn) error {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	if err := h.store.HSet(ctx, store.SocketsKey, c.userID, h.handle(c.id)); err != nil {
		h.mu.Lock()
		delete(h.conns, c.id)
		h.mu.Unlock()
		return err
	}
	return nil
}

// unregister drops the routing entry only while it still names this
// connection; a newer connection of the same user keeps its entry.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	hd := h.handler
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	removed, err := h.store.HDelIf(ctx, store.SocketsKey, c.userID, h.handle(c.id))
	if err != nil {
		obslog.L().Error("ws_unregister_failed", zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	if removed && hd != nil {
		hd.Disconnected(ctx, c.userID)
	}
}

func (h *Hub) local(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

func (h *Hub) Online(ctx context.Context, userID string) (bool, error) {
	_, ok, err := h.store.HGet(ctx, store.SocketsKey, userID)
	return ok, err
}

func (h *Hub) Emit(ctx context.Context, userID, event string, payload any) (bool, error) {
	handle, ok, err := h.store.HGet(ctx, store.SocketsKey, userID)
	if err != nil || !ok {
		return false, err
	}
	instance, connID, ok := splitHandle(handle)
	if !ok {
		return false, fmt.Errorf("malformed connection handle %q", handle)
	}
	if instance == h.instanceID {
		c, ok := h.local(connID)
		if !ok {
			return false, nil
		}
		if err := c.Send(ctx, event, payload); err != nil {
			return false, err
		}
		return true, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", event, err)
	}
	raw, err := json.Marshal(relayEnvelope{ConnID: connID, Event: event, Data: data})
	if err != nil {
		return false, err
	}
	if err := h.store.Publish(ctx, store.RelayChannel(instance), raw); err != nil {
		return false, fmt.Errorf("relay %s: %w", event, err)
	}
	return true, nil
}

type relayEnvelope struct {
	ConnID string          `json:"connId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// RunRelay delivers events published by other instances to local
// connections until ctx ends.
func (h *Hub) RunRelay(ctx context.Context) error {
	sub := h.store.Subscribe(ctx, store.RelayChannel(h.instanceID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe relay: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				obslog.L().Warn("relay_decode_failed", zap.Error(err))
				continue
			}
			c, ok := h.local(env.ConnID)
			if !ok {
				continue
			}
			if err := c.Send(ctx, env.Event, env.Data); err != nil {
				obslog.L().Warn("relay_deliver_failed", zap.String("conn_id", env.ConnID), zap.String("event", env.Event), zap.Error(err))
			}
		}
	}
}
