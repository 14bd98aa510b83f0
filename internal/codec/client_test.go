package codec

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region fake-server
type fakeServer struct {
	UnimplementedCollaboratorServer
	lastChat *structpb.Struct
	lastTool *structpb.Struct
	delay    time.Duration
}

func (f *fakeServer) Chat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.lastChat = in
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return structpb.NewStruct(map[string]any{"text": "hello from the router"})
}

func (f *fakeServer) Embed(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"embedding": []any{0.25, 0.5, 1.0}})
}

func (f *fakeServer) Retrieve(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	q := in.GetFields()["query"].GetStringValue()
	return structpb.NewStruct(map[string]any{
		"results": []any{
			map[string]any{"id": "m1", "text": "about " + q, "score": 0.9, "metadata": map[string]any{"timestamp": "2026-03-01T10:00:00Z"}},
			map[string]any{"id": "m2", "text": "other", "score": 0.4},
		},
	})
}

func (f *fakeServer) Add(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

func (f *fakeServer) Execute(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.lastTool = in
	if in.GetFields()["tool"].GetStringValue() == "explode" {
		return nil, status.Error(codes.Internal, "boom")
	}
	return structpb.NewStruct(map[string]any{"status": "ok", "message": "done"})
}

// #endregion fake-server

// #region helpers
func startServer(t *testing.T, srv CollaboratorServer, timeout time.Duration) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterCollaboratorServer(s, srv)
	go s.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		s.Stop()
	})
	return NewClientWithConn(conn, timeout, nil)
}

// #endregion helpers

func TestChatRoundTrip(t *testing.T) {
	srv := &fakeServer{}
	c := startServer(t, srv, time.Second*5)

	text := c.Chat(context.Background(), "sys", "hi", ChatOptions{Temperature: 0.7, ExpectJSON: true})
	assert.Equal(t, "hello from the router", text)

	f := srv.lastChat.GetFields()
	assert.Equal(t, "sys", f["system"].GetStringValue())
	assert.Equal(t, 0.7, f["temperature"].GetNumberValue())
	assert.True(t, f["expect_json"].GetBoolValue())
}

func TestChatTimeoutReturnsSentinel(t *testing.T) {
	c := startServer(t, &fakeServer{delay: 2 * time.Second}, 50*time.Millisecond)
	assert.Equal(t, "", c.Chat(context.Background(), "sys", "hi", ChatOptions{}))
}

func TestEmbed(t *testing.T) {
	c := startServer(t, &fakeServer{}, 5*time.Second)
	assert.Equal(t, []float32{0.25, 0.5, 1.0}, c.Embed(context.Background(), "x"))
}

func TestEmbedUnimplementedReturnsNil(t *testing.T) {
	c := startServer(t, UnimplementedCollaboratorServer{}, 5*time.Second)
	assert.Nil(t, c.Embed(context.Background(), "x"))
}

func TestRetrieve(t *testing.T) {
	c := startServer(t, &fakeServer{}, 5*time.Second)
	got, err := c.Retrieve(context.Background(), "stars", 5, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "about stars", got[0].Text)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, "2026-03-01T10:00:00Z", got[0].Metadata["timestamp"])
	assert.Empty(t, got[1].Metadata)
}

func TestRetrieveError(t *testing.T) {
	c := startServer(t, UnimplementedCollaboratorServer{}, 5*time.Second)
	_, err := c.Retrieve(context.Background(), "stars", 5, false)
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	c := startServer(t, &fakeServer{}, 5*time.Second)
	assert.NoError(t, c.Add(context.Background(), "fact", map[string]any{"type": "consolidated_fact"}))
}

func TestExecute(t *testing.T) {
	srv := &fakeServer{}
	c := startServer(t, srv, 5*time.Second)

	res := c.Execute(context.Background(), "calendar.add", map[string]any{"title": "dentist"})
	assert.True(t, res.OK())
	assert.Equal(t, "done", res.Message)
	assert.Equal(t, "dentist", srv.lastTool.GetFields()["args"].GetStructValue().GetFields()["title"].GetStringValue())

	res = c.Execute(context.Background(), "explode", nil)
	assert.False(t, res.OK())
	assert.Equal(t, "error", res.Status)
}
