package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// Status server: REST snapshot + event websocket + metrics
// ============================================================================
//
// Endpoints:
//   - GET /api/state   current playback snapshot as JSON
//   - GET /api/ws      websocket pushing the event stream; accepts command
//                      envelopes from the client
//   - GET /metrics     prometheus exposition
//
// Each websocket client gets its own listener receiver and its own command
// feed, so one slow browser tab cannot hold anyone else up.
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

type StatusServer struct {
	addr      string
	listeners *Broadcaster[Event]
	commands  *Mux[Command]
	snapshots *snapshotHolder
	metrics   *Metrics
	logger    *slog.Logger
}

func NewStatusServer(cfg ServerConfig, listeners *Broadcaster[Event], commands *Mux[Command], snapshots *snapshotHolder, metrics *Metrics, logger *slog.Logger) *StatusServer {
	return &StatusServer{
		addr:      cfg.Addr,
		listeners: listeners,
		commands:  commands,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run serves until ctx is canceled.
func (s *StatusServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.logger.Info("status server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshots.Load()); err != nil {
		s.logger.Warn("state encode failed", "error", err)
	}
}

var upgrader = websocket.Upgrader{
	// The box lives on a trusted LAN; no origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// handleWS upgrades, sends state_init, then pumps events out and commands in.
//
// The pumps must not use the HTTP request context: net/http cancels it when
// the handler returns, which would kill the connection with a 1006. The
// connection lifetime is managed by read/write errors instead.
func (s *StatusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	recv := s.listeners.Subscribe()
	feed := s.commands.NewFeed()
	s.logger.Info("ws client connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer cancel()
		defer recv.Close()
		s.writePump(ctx, conn, recv, r.RemoteAddr)
	}()
	go func() {
		defer cancel()
		defer feed.Close()
		defer conn.Close()
		s.readPump(conn, feed, r.RemoteAddr)
	}()
}

// writePump sends state_init, then every broadcast event, plus pings.
func (s *StatusServer) writePump(ctx context.Context, conn *websocket.Conn, recv *Receiver[Event], remote string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg []byte) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					s.logger.Info("ws writePump exiting (close)", "remote_addr", remote, "code", code, "reason", text)
				} else {
					s.logger.Info("ws writePump exiting (write error)", "remote_addr", remote, "error", err)
				}
			}
			return false
		}
		return true
	}

	now := time.Now().UTC()
	snap, err := json.Marshal(s.snapshots.Load())
	if err == nil {
		init, mErr := json.Marshal(EventEnvelope{Type: "state_init", Ts: &now, Data: snap})
		if mErr == nil && !write(init) {
			return
		}
	}

	events := make(chan Message[Event])
	go func() {
		defer close(events)
		for {
			msg, ok := recv.Recv(ctx)
			if !ok {
				return
			}
			select {
			case events <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame, err := MarshalEventMessage(msg)
			if err != nil {
				s.logger.Warn("ws event marshal failed", "error", err, "type", eventName(msg.Payload))
				continue
			}
			if !write(frame) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Info("ws writePump exiting (ping error)", "remote_addr", remote, "error", err)
				}
				return
			}
		}
	}
}

// readPump turns inbound command envelopes into commands and keeps the pong
// deadline fresh. It exits on read error.
func (s *StatusServer) readPump(conn *websocket.Conn, feed *Feed[Command], remote string) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					s.logger.Info("ws readPump exiting (close)", "remote_addr", remote, "code", code, "reason", text)
				} else {
					s.logger.Info("ws readPump exiting (read error)", "remote_addr", remote, "error", err)
				}
			}
			return
		}

		cmd, err := UnmarshalCommand(data)
		if err != nil {
			s.logger.Warn("ws bad command", "remote_addr", remote, "error", err)
			continue
		}
		s.logger.Debug("ws command", "remote_addr", remote, "name", commandName(cmd))
		feed.Send(cmd)
	}
}
