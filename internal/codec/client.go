package codec

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client reaches the collaborator service (LLM router, memory index and tool
// runner) over gRPC. Messages are structpb.Struct so no generated stubs are
// needed. Every call is bounded by the client timeout.
type Client struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
	log     *zap.Logger
}

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 60 * time.Second

// #endregion client-struct

// #region constructor
// Dial connects to the collaborator service at addr.
func Dial(addr string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewClientWithConn(conn, timeout, log)
	c.conn = conn
	return c, nil
}

// NewClientWithConn wraps an existing connection. Used for testing with an
// in-process server.
func NewClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cc: cc, timeout: timeout, log: log.Named("codec")}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection when the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region invoke
func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fmt.Errorf("%s rpc: %w", method, err)
	}
	return out, nil
}

// #endregion invoke

// #region chat
// Chat asks the router for one completion. Returns "" on any failure.
func (c *Client) Chat(ctx context.Context, system, user string, opts ChatOptions) string {
	out, err := c.invoke(ctx, MethodChat, map[string]any{
		"system":      system,
		"user":        user,
		"model":       opts.Model,
		"temperature": opts.Temperature,
		"expect_json": opts.ExpectJSON,
	})
	if err != nil {
		c.log.Warn("chat failed", zap.Error(err))
		return ""
	}
	return out.GetFields()["text"].GetStringValue()
}

// #endregion chat

// #region embed
// Embed returns the embedding for text, or nil on failure.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	out, err := c.invoke(ctx, MethodEmbed, map[string]any{"text": text})
	if err != nil {
		c.log.Warn("embed failed", zap.Error(err))
		return nil
	}
	values := out.GetFields()["embedding"].GetListValue().GetValues()
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec
}

// #endregion embed

// #region retrieve
// Retrieve queries the memory index.
func (c *Client) Retrieve(ctx context.Context, query string, limit int, diversify bool) ([]Snippet, error) {
	out, err := c.invoke(ctx, MethodRetrieve, map[string]any{
		"query":     query,
		"limit":     limit,
		"diversify": diversify,
	})
	if err != nil {
		return nil, err
	}
	items := out.GetFields()["results"].GetListValue().GetValues()
	results := make([]Snippet, 0, len(items))
	for _, item := range items {
		f := item.GetStructValue().GetFields()
		results = append(results, Snippet{
			ID:       f["id"].GetStringValue(),
			Text:     f["text"].GetStringValue(),
			Score:    f["score"].GetNumberValue(),
			Metadata: f["metadata"].GetStructValue().AsMap(),
		})
	}
	return results, nil
}

// #endregion retrieve

// #region add
// Add stores text in the memory index.
func (c *Client) Add(ctx context.Context, text string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := c.invoke(ctx, MethodAdd, map[string]any{
		"text":     text,
		"metadata": metadata,
	})
	return err
}

// #endregion add

// #region execute
// Execute runs one tool. Transport failures come back as an error status.
func (c *Client) Execute(ctx context.Context, tool string, args map[string]any) ToolResult {
	if args == nil {
		args = map[string]any{}
	}
	out, err := c.invoke(ctx, MethodExecute, map[string]any{
		"tool": tool,
		"args": args,
	})
	if err != nil {
		c.log.Warn("tool execution failed", zap.String("tool", tool), zap.Error(err))
		return ToolResult{Status: "error", Message: err.Error()}
	}
	f := out.GetFields()
	status := f["status"].GetStringValue()
	if status == "" {
		status = "error"
	}
	return ToolResult{Status: status, Message: f["message"].GetStringValue()}
}

// #endregion execute
