// Package httpapi serves the room lookups, the health check and the
// WebSocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/botgame"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/room"
)

type RoomReader interface {
	Get(ctx context.Context, roomID string) (*room.Room, error)
}

type BotRoomReader interface {
	Get(ctx context.Context, roomID string) (*botgame.Room, error)
}

type Server struct {
	Rooms    RoomReader
	BotRooms BotRoomReader
	// Socket serves /ws; usually the realtime hub.
	Socket   http.Handler
	Ping     func(ctx context.Context) error
	Messages *msgcat.Catalog
}

func (s *Server) Routes() http.Handler {
	if s.Messages == nil {
		s.Messages = msgcat.Embedded()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/game", func(r chi.Router) {
		r.Get("/game-room/{roomId}", s.handleGameRoom)
		r.Get("/bot-room/{roomId}", s.handleBotRoom)
	})
	if s.Socket != nil {
		r.Handle("/ws", s.Socket)
	}
	return r
}

func (s *Server) handleGameRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomId")
	rm, err := s.Rooms.Get(r.Context(), id)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{s.Messages.Text("room.not_found")})
	case err != nil:
		obslog.L().Error("room_lookup_failed", zap.String("room_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{http.StatusText(http.StatusInternalServerError)})
	default:
		writeJSON(w, http.StatusOK, rm)
	}
}

func (s *Server) handleBotRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomId")
	rm, err := s.BotRooms.Get(r.Context(), id)
	switch {
	case errors.Is(err, botgame.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{s.Messages.Text("bot.room_not_found")})
	case err != nil:
		obslog.L().Error("bot_room_lookup_failed", zap.String("room_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{http.StatusText(http.StatusInternalServerError)})
	default:
		writeJSON(w, http.StatusOK, rm)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			obslog.L().Warn("health_check_failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

// accessLog records each request after it completes. The WebSocket route
// logs once the connection closes.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		obslog.L().Debug("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
