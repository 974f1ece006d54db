package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Message types sent to live clients.
const (
	MsgReady     = "ready"
	MsgHeartbeat = "heartbeat"
	MsgPartial   = "partial"
	MsgFinal     = "final"
	MsgError     = "error"
)

// Message is the JSON envelope written to live clients.
type Message struct {
	Type            string    `json:"type"`
	Seq             int       `json:"seq,omitempty"`
	Text            string    `json:"text,omitempty"`
	TranscriptionID uint      `json:"transcriptionId,omitempty"`
	Time            time.Time `json:"time"`
}

// control is what clients send as text frames; {"type":"stop"} ends the
// session.
type control struct {
	Type string `json:"type"`
}

// FinalFunc persists the finished live transcript and returns its id.
type FinalFunc func(ctx context.Context, text string, elapsed time.Duration) (uint, error)

type session struct {
	conn *ws.Conn
	mu   sync.Mutex
}

func (s *session) send(m Message) error {
	m.Time = time.Now().UTC()
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(ws.TextMessage, data)
}

// Hub tracks open live sessions so they can be closed on shutdown.
type Hub struct {
	mu          sync.Mutex
	sessions    map[*session]struct{}
	heartbeat   time.Duration
	transcriber Transcriber
	upgrader    ws.Upgrader
}

func NewHub(heartbeat time.Duration, t Transcriber) *Hub {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Hub{
		sessions:    make(map[*session]struct{}),
		heartbeat:   heartbeat,
		transcriber: t,
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	_ = s.conn.Close()
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll sends a going-away close frame to every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.mu.Lock()
		_ = s.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		s.mu.Unlock()
		h.unregister(s)
	}
}

// Serve upgrades the request and runs a live transcription session until
// the client stops, disconnects or the hub closes it. Binary frames are
// audio; each one is answered with a partial transcript.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, onFinal FinalFunc) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live transcription upgrade failed", "error", err)
		return
	}
	s := &session{conn: conn}
	h.register(s)
	defer h.unregister(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := time.Now()
	slog.Info("live transcription started", "path", r.URL.Path, "sessions", h.Count())

	go h.heartbeatLoop(ctx, s)
	if err := s.send(Message{Type: MsgReady}); err != nil {
		return
	}

	var parts []string
	frames := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				slog.Debug("live transcription read ended", "error", err)
			}
			break
		}
		switch kind {
		case ws.BinaryMessage:
			frames++
			text, err := h.transcriber.Partial(ctx, data, frames)
			if err != nil {
				_ = s.send(Message{Type: MsgError, Text: "transcription failed"})
				continue
			}
			parts = append(parts, text)
			if err := s.send(Message{Type: MsgPartial, Seq: frames, Text: text}); err != nil {
				return
			}
		case ws.TextMessage:
			var c control
			if json.Unmarshal(data, &c) != nil || c.Type != "stop" {
				_ = s.send(Message{Type: MsgError, Text: `expected {"type":"stop"}`})
				continue
			}
			final := strings.Join(parts, " ")
			msg := Message{Type: MsgFinal, Seq: frames, Text: final}
			if onFinal != nil {
				id, err := onFinal(ctx, final, time.Since(started))
				if err != nil {
					slog.Error("save live transcription", "error", err)
					_ = s.send(Message{Type: MsgError, Text: "could not save transcription"})
					return
				}
				msg.TranscriptionID = id
			}
			_ = s.send(msg)
			s.mu.Lock()
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			s.mu.Unlock()
			return
		}
	}
	slog.Info("live transcription closed", "frames", frames, "duration", time.Since(started))
}

func (h *Hub) heartbeatLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(Message{Type: MsgHeartbeat}); err != nil {
				return
			}
		}
	}
}
