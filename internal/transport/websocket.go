package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/nudge/internal/domain"
)

// WebSocketConfig configures the gateway client.
type WebSocketConfig struct {
	URL        string
	Token      string
	AckTimeout time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// WebSocket is a Transport backed by a persistent gateway socket.
// It reconnects with exponential backoff until closed.
type WebSocket struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Frame
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates a gateway client. No connection is made until Receive.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &WebSocket{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
}

// Receive starts the connection loop and returns the inbound message stream.
func (w *WebSocket) Receive(ctx context.Context) (<-chan domain.InboundMessage, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return nil, errors.New("websocket transport already receiving")
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	out := make(chan domain.InboundMessage, 64)
	go func() {
		defer close(w.done)
		defer close(out)
		w.run(runCtx, out)
	}()
	return out, nil
}

func (w *WebSocket) run(ctx context.Context, out chan<- domain.InboundMessage) {
	backoff := w.cfg.MinBackoff
	for {
		conn, err := w.dial(ctx)
		if err == nil {
			backoff = w.cfg.MinBackoff
			w.logger.Info("Connected to chat gateway", "url", w.cfg.URL)
			err = w.readLoop(ctx, conn, out)
			w.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}

		w.logger.Warn("Chat gateway connection lost, reconnecting", "error", err, "delay", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, w.cfg.MaxBackoff)
	}
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{}
	if w.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.cfg.Token}}
	}

	conn, resp, err := websocket.Dial(dialCtx, w.cfg.URL, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial chat gateway: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return conn, nil
}

// detach drops conn and fails every send waiting on an ack from it.
func (w *WebSocket) detach(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	pending := w.pending
	w.pending = make(map[string]chan Frame)
	w.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	_ = conn.Close(websocket.StatusGoingAway, "reconnecting")
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.InboundMessage) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return fmt.Errorf("gateway closed connection: %w", err)
			}
			return fmt.Errorf("read gateway frame: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.logger.Warn("Dropping malformed gateway frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameMessage:
			msg, err := frame.Inbound(time.Now())
			if err != nil {
				w.logger.Warn("Dropping invalid message frame", "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case FrameAck:
			w.resolve(frame)
		default:
			w.logger.Debug("Ignoring gateway frame", "type", frame.Type)
		}
	}
}

func (w *WebSocket) resolve(frame Frame) {
	w.mu.Lock()
	ch, ok := w.pending[frame.ID]
	delete(w.pending, frame.ID)
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("Ack for unknown send", "id", frame.ID)
		return
	}
	ch <- frame
}

// Send writes a send frame and waits for the gateway's ack.
func (w *WebSocket) Send(ctx context.Context, conversationID, content string) error {
	id := uuid.NewString()
	ack := make(chan Frame, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return ErrNotConnected
	}
	w.pending[id] = ack
	w.mu.Unlock()

	forget := func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}

	data, err := json.Marshal(Frame{Type: FrameSend, ID: id, ConversationID: conversationID, Text: content})
	if err != nil {
		forget()
		return fmt.Errorf("encode send frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.AckTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		forget()
		return fmt.Errorf("write send frame: %w", err)
	}

	select {
	case frame, ok := <-ack:
		if !ok {
			return fmt.Errorf("send %s: connection lost before ack", id)
		}
		if frame.Error != "" {
			return fmt.Errorf("send %s rejected: %s", id, frame.Error)
		}
		return nil
	case <-ctx.Done():
		forget()
		return fmt.Errorf("await ack for %s: %w", id, ctx.Err())
	}
}

// Close stops the connection loop and waits for it to exit.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	cancel := w.cancel
	w.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-w.done
	return nil
}
