package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when an LLM reply carries no JSON object.
var ErrNoJSON = errors.New("no json object in reply")

// #region decode-json
// DecodeJSON decodes the outermost JSON object in an LLM reply into v.
// Routers often wrap payloads in code fences or prose, so everything before
// the first '{' and after the last '}' is ignored.
func DecodeJSON(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// #endregion decode-json
