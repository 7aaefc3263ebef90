package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *WSSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ReplyFunc receives every reply a driver sends over its socket.
type ReplyFunc func(driverID string, reply models.DriverReply)

// WSRegistry holds driver sessions, one per driver.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	log      *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), log: log}
}

// Add installs conn as the driver's session, closing any previous one.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

func (r *WSRegistry) remove(driverID string, s *WSSession) {
	r.mu.Lock()
	if cur, ok := r.sessions[driverID]; ok && cur == s {
		delete(r.sessions, driverID)
	}
	r.mu.Unlock()
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

// Serve owns conn until it closes or ctx ends, passing each decoded reply to
// onReply. Malformed frames are logged and skipped.
func (r *WSRegistry) Serve(ctx context.Context, driverID string, conn *websocket.Conn, onReply ReplyFunc) {
	s := r.Add(driverID, conn)
	defer func() {
		r.remove(driverID, s)
		_ = conn.Close()
	}()
	log := r.log.With("driver_id", driverID)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				if err := s.ping(); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("ws closed", "err", err)
			}
			return
		}
		var reply models.DriverReply
		if err := json.Unmarshal(msg, &reply); err != nil || reply.Response == "" {
			log.Info("ws frame ignored", "err", err)
			continue
		}
		onReply(driverID, reply)
	}
}

func (r *WSRegistry) Notify(_ context.Context, driverID string, offer models.MatchOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(offer); err != nil {
		r.log.Warn("ws send error", "driver_id", driverID, "err", err)
		return err
	}
	return nil
}
