package pipeline

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

var errEmptyCandidate = errors.New("empty candidate")

// safeFallbackText is the single option used when divergent generation fails.
const safeFallbackText = "I want to get this right rather than guess. Could you tell me a little more about what you need from me?"

// #region diverge

// diverge generates one candidate per strategy in divergentSet concurrently.
// Either every strategy produces text or the turn falls back to the single
// safe candidate; a partial set is never used.
func (p *Pipeline) diverge(ctx context.Context, system, user string) []Candidate {
	out := make([]Candidate, len(divergentSet))
	g, gctx := errgroup.WithContext(ctx)
	for i, sid := range divergentSet {
		i, cfg := i, Strategies[sid]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: panic: %v", cfg.ID, r)
				}
			}()
			text := strings.TrimSpace(p.llm.Chat(gctx,
				system+"\n\nStrategy: "+cfg.PromptModifier,
				user,
				codec.ChatOptions{Temperature: cfg.Temperature}))
			if text == "" {
				return fmt.Errorf("%s: %w", cfg.ID, errEmptyCandidate)
			}
			out[i] = Candidate{Strategy: cfg.ID, Text: text, Evaluation: Evaluate(user, text)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.log.Warn("divergent generation failed, using safe fallback", zap.Error(err))
		return []Candidate{{Strategy: StrategySafe, Text: safeFallbackText}}
	}
	return out
}

// #endregion
