package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrClosed is returned by writers after a terminal message was sent.
var ErrClosed = errors.New("stream: closed")

// SSEWriter writes messages as Server-Sent Events frames, flushing each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSEWriter fails if w cannot flush, since buffered SSE is useless.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("stream: response writer does not support flushing")
	}
	return &SSEWriter{w: w, flusher: f}, nil
}

// WriteMessage sends payload as one SSE frame. The first call writes the
// event-stream headers.
func (s *SSEWriter) WriteMessage(payload []byte) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(Frame(payload)); err != nil {
		return errors.Wrap(err, "stream: sse write")
	}
	s.flusher.Flush()
	return nil
}

const wsWriteWait = 10 * time.Second

// WSWriter sends each message as one WebSocket text message.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSWriter wraps an upgraded connection.
func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

// WriteMessage sends payload as one text message. It returns ErrClosed after Close.
func (s *WSWriter) WriteMessage(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "stream: ws write")
	}
	return nil
}

// Close sends a normal close frame and releases the connection. Safe to
// call more than once.
func (s *WSWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}
