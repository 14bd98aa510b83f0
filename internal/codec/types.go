package codec

import "context"

// #region types
// ChatOptions tunes one chat completion.
type ChatOptions struct {
	Model       string
	Temperature float64
	ExpectJSON  bool
}

// Snippet is one retrieved memory.
type Snippet struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Status  string // "ok" | "error"
	Message string
}

// OK reports whether the tool succeeded.
func (r ToolResult) OK() bool {
	return r.Status == "ok"
}

// #endregion types

// #region interfaces
// LLM is the language-model router. Implementations return "" or nil on
// total failure instead of an error so callers apply their own fallback.
type LLM interface {
	Chat(ctx context.Context, system, user string, opts ChatOptions) string
	Embed(ctx context.Context, text string) []float32
}

// Memory is the retrieval index.
type Memory interface {
	Retrieve(ctx context.Context, query string, limit int, diversify bool) ([]Snippet, error)
	Add(ctx context.Context, text string, metadata map[string]any) error
}

// Tools executes one named tool.
type Tools interface {
	Execute(ctx context.Context, tool string, args map[string]any) ToolResult
}

// #endregion interfaces
