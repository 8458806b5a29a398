// Package recall is the gRPC client for the memory, context and generation services.
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/nudge/internal/domain"
)

// Full method names on the recall service. Payloads are google.protobuf.Struct.
const (
	MethodQuery    = "/nudge.recall.v1.Recall/Query"
	MethodHistory  = "/nudge.recall.v1.Recall/History"
	MethodGenerate = "/nudge.recall.v1.Recall/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	// ErrEmptyGeneration is returned when the generator produced no text.
	ErrEmptyGeneration = errors.New("generator returned empty text")
)

// Config holds configuration for the gRPC client.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	GenerateTimeout  time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// Client talks to the recall service.
type Client struct {
	conn   *grpc.ClientConn
	addr   string
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a client and waits up to ConnectTimeout for the connection to be ready.
func NewClient(cfg Config, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create recall client for %s: %w", cfg.Address, err)
	}

	// Force a connection attempt so a bad endpoint fails startup.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("recall service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to recall service", "address", cfg.Address)

	return &Client{conn: conn, addr: cfg.Address, cfg: cfg, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Ready reports whether the underlying connection is usable.
func (c *Client) Ready() bool {
	state := c.conn.GetState()
	return state == connectivity.Ready || state == connectivity.Idle
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// Query asks long-term memory about a user. An empty answer is a miss.
func (c *Client) Query(ctx context.Context, userID, question string) (string, error) {
	resp, err := c.invoke(ctx, MethodQuery, map[string]any{
		"user_id":  userID,
		"question": question,
	})
	if err != nil {
		return "", err
	}
	return resp.GetFields()["answer"].GetStringValue(), nil
}

// History returns up to count recent messages of a conversation, oldest first.
func (c *Client) History(ctx context.Context, conversationID string, count int) ([]domain.HistoryMessage, error) {
	resp, err := c.invoke(ctx, MethodHistory, map[string]any{
		"conversation_id": conversationID,
		"count":           count,
	})
	if err != nil {
		return nil, err
	}

	values := resp.GetFields()["messages"].GetListValue().GetValues()
	msgs := make([]domain.HistoryMessage, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		msg := domain.HistoryMessage{
			SenderID:   f["sender_id"].GetStringValue(),
			SenderName: f["sender_name"].GetStringValue(),
			Content:    f["content"].GetStringValue(),
		}
		if ts := f["timestamp"].GetNumberValue(); ts > 0 {
			msg.Timestamp = time.Unix(int64(ts), 0)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Generate turns a draft into the message text to send.
func (c *Client) Generate(ctx context.Context, draft domain.Draft) (string, error) {
	if c.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.GenerateTimeout)
		defer cancel()
	}

	history := make([]any, 0, len(draft.History))
	for _, m := range draft.History {
		history = append(history, map[string]any{
			"sender_id":   m.SenderID,
			"sender_name": m.SenderName,
			"content":     m.Content,
			"timestamp":   m.Timestamp.Unix(),
		})
	}

	resp, err := c.invoke(ctx, MethodGenerate, map[string]any{
		"conversation_id": draft.ConversationID,
		"user_id":         draft.UserID,
		"user_name":       draft.UserName,
		"reason":          draft.Reason,
		"source":          string(draft.Source),
		"seed":            draft.Seed,
		"question":        draft.Question,
		"history":         history,
	})
	if err != nil {
		return "", err
	}

	text := resp.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}
