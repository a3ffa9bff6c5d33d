package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/obslog"
)

// Frame is the JSON envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inbound struct {
	Event string
	Data  json.RawMessage
}

type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	inbox  chan inbound
}

func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Send(ctx context.Context, event string, payload any) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, outFrame{Event: event, Data: payload})
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				obslog.L().Debug("ws_read_ended", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if f.Event == "" {
			continue
		}
		select {
		case c.inbox <- inbound{Event: f.Event, Data: f.Data}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = c.ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}
