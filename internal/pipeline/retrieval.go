package pipeline

// #region imports
import (
	"context"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

// #region retrieve

// retrieve fetches top-k snippets for the utterance. Any failure yields an
// empty context.
func (p *Pipeline) retrieve(ctx context.Context, utterance string) []codec.Snippet {
	if p.memory == nil {
		return nil
	}
	results, err := p.memory.Retrieve(ctx, utterance, p.opts.TopK, p.opts.Diversify)
	if err != nil {
		p.log.Warn("retrieval failed, continuing without context", zap.Error(err))
		return nil
	}
	valid := consistencyCheck(results, p.opts.MaxSnippetLen)
	p.log.Debug("retrieved context",
		zap.Int("raw", len(results)),
		zap.Int("kept", len(valid)))
	return valid
}

// #endregion

// #region consistency-check

// consistencyCheck drops snippets that are empty, longer than maxLen, or
// repeat an earlier id.
func consistencyCheck(results []codec.Snippet, maxLen int) []codec.Snippet {
	seen := make(map[string]bool)
	var valid []codec.Snippet

	for _, rec := range results {
		if rec.Text == "" {
			continue
		}
		if maxLen > 0 && len(rec.Text) > maxLen {
			continue
		}
		if rec.ID != "" {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
		}
		valid = append(valid, rec)
	}

	return valid
}

// #endregion
