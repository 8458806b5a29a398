package recall

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/nudge/internal/domain"
)

type fakeRecall struct {
	mu       sync.Mutex
	requests map[string]*structpb.Struct
	answer   string
	text     string
	fail     bool
}

func (f *fakeRecall) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)

	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	f.mu.Lock()
	f.requests[method] = req
	fail := f.fail
	f.mu.Unlock()

	if fail {
		return status.Error(codes.Unavailable, "recall offline")
	}

	var resp map[string]any
	switch method {
	case MethodQuery:
		resp = map[string]any{"answer": f.answer}
	case MethodHistory:
		resp = map[string]any{"messages": []any{
			map[string]any{"sender_id": "u1", "sender_name": "Mika", "content": "hello", "timestamp": 1773500000},
			map[string]any{"sender_id": "bot", "content": "hi there"},
		}}
	case MethodGenerate:
		resp = map[string]any{"text": f.text}
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	out, err := structpb.NewStruct(resp)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}

func (f *fakeRecall) request(method string) *structpb.Struct {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[method]
}

func newTestClient(t *testing.T, fake *fakeRecall) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(fake.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient(Config{Address: "passthrough:///bufnet", ConnectTimeout: 2 * time.Second}, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClient_Query(t *testing.T) {
	t.Parallel()

	fake := &fakeRecall{requests: map[string]*structpb.Struct{}, answer: "likes hiking"}
	client := newTestClient(t, fake)

	got, err := client.Query(context.Background(), "u1", "what about Mika?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != "likes hiking" {
		t.Errorf("Expected answer, got %q", got)
	}
	req := fake.request(MethodQuery)
	if req.GetFields()["question"].GetStringValue() != "what about Mika?" || req.GetFields()["user_id"].GetStringValue() != "u1" {
		t.Errorf("Unexpected query request: %v", req)
	}
}

func TestClient_History(t *testing.T) {
	t.Parallel()

	fake := &fakeRecall{requests: map[string]*structpb.Struct{}}
	client := newTestClient(t, fake)

	msgs, err := client.History(context.Background(), "c1", 18)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderName != "Mika" || msgs[0].Timestamp.Unix() != 1773500000 {
		t.Errorf("Unexpected first message: %+v", msgs[0])
	}
	if !msgs[1].Timestamp.IsZero() {
		t.Errorf("Expected missing timestamp to stay zero, got %v", msgs[1].Timestamp)
	}
	if n := fake.request(MethodHistory).GetFields()["count"].GetNumberValue(); n != 18 {
		t.Errorf("Expected count 18, got %v", n)
	}
}

func TestClient_Generate(t *testing.T) {
	t.Parallel()

	fake := &fakeRecall{requests: map[string]*structpb.Struct{}, text: "How did the marathon go?"}
	client := newTestClient(t, fake)

	draft := domain.Draft{
		ConversationID: "c1",
		UserID:         "u1",
		UserName:       "Mika",
		Reason:         "silence",
		Source:         domain.SeedSourceMemory,
		Seed:           "training for a marathon",
		History:        []domain.HistoryMessage{{SenderID: "u1", Content: "bye"}},
	}
	got, err := client.Generate(context.Background(), draft)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "How did the marathon go?" {
		t.Errorf("Expected generated text, got %q", got)
	}

	req := fake.request(MethodGenerate).GetFields()
	if req["source"].GetStringValue() != "memory" || req["seed"].GetStringValue() != "training for a marathon" {
		t.Errorf("Unexpected generate request: %v", req)
	}
	if len(req["history"].GetListValue().GetValues()) != 1 {
		t.Error("Expected history forwarded to the generator")
	}
}

func TestClient_GenerateEmpty(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeRecall{requests: map[string]*structpb.Struct{}})
	if _, err := client.Generate(context.Background(), domain.Draft{ConversationID: "c1"}); !errors.Is(err, ErrEmptyGeneration) {
		t.Errorf("Expected ErrEmptyGeneration, got %v", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeRecall{requests: map[string]*structpb.Struct{}, fail: true})

	_, err := client.Query(context.Background(), "u1", "q")
	if status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Errorf("Expected Unavailable, got %v", err)
	}
}
