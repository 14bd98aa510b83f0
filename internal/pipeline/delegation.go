package pipeline

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

// #region constants

// DelegationThreshold is the perception confidence above which a request is
// treated as delegation.
const DelegationThreshold = 0.7

// AutonomyLoad is the load above which administrative work is executed
// without being asked twice.
const AutonomyLoad = 0.8

// AutonomyTier is the minimum trust tier for autonomous execution.
const AutonomyTier = 2

const scopeConfirmText = "Before I touch anything: this involves %s matters, and I won't act on those without your explicit go-ahead. " +
	"What exactly should be in scope, and what must I leave alone?"

const planSystemPrompt = `Turn the principal's request into an execution plan. Reply with JSON only:
{"plan": "one sentence", "actions": [{"tool": "name", "args": {}}]}`

// #endregion

// #region plan

type planPayload struct {
	Plan    string   `json:"plan"`
	Actions []Action `json:"actions"`
}

func (p *Pipeline) plan(ctx context.Context, utterance, task string) (planPayload, bool) {
	user := utterance
	if task != "" {
		user = utterance + "\n\nTask as understood: " + task
	}
	raw := p.llm.Chat(ctx, planSystemPrompt, user, codec.ChatOptions{Temperature: 0, ExpectJSON: true})
	if raw == "" {
		p.log.Warn("planner unavailable")
		return planPayload{}, false
	}
	var payload planPayload
	if err := codec.DecodeJSON(raw, &payload); err != nil {
		p.log.Warn("plan malformed", zap.Error(err))
		return planPayload{}, false
	}
	payload.Plan = strings.TrimSpace(payload.Plan)
	kept := payload.Actions[:0]
	for _, a := range payload.Actions {
		if strings.TrimSpace(a.Tool) != "" {
			kept = append(kept, a)
		}
	}
	payload.Actions = kept
	if payload.Plan == "" || len(payload.Actions) == 0 {
		return planPayload{}, false
	}
	return payload, true
}

// #endregion

// #region confirm

// confirmScope is the reply for high-stakes delegation. Nothing is executed.
func confirmScope(category string) (string, *DelegationOutcome) {
	return fmt.Sprintf(scopeConfirmText, category), &DelegationOutcome{Category: category}
}

// #endregion

// #region execute

// execute plans the request and runs each action through the tool
// collaborator. The bool is false when no usable plan was produced.
func (p *Pipeline) execute(ctx context.Context, utterance string, perc Perception) (string, *DelegationOutcome, bool) {
	plan, ok := p.plan(ctx, utterance, perc.Task)
	if !ok || p.tools == nil {
		return "", nil, false
	}
	out := &DelegationOutcome{Plan: plan.Plan}
	for _, a := range plan.Actions {
		res := p.tools.Execute(ctx, a.Tool, a.Args)
		out.Results = append(out.Results, ActionResult{Action: a, Status: res.Status, Message: res.Message})
		if res.OK() {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	p.log.Info("delegated actions executed",
		zap.String("plan", plan.Plan),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed))

	var text string
	switch {
	case out.Failed == 0:
		text = fmt.Sprintf("Done. %s All %d steps went through.", sentence(plan.Plan), out.Succeeded)
	case out.Succeeded == 0:
		text = fmt.Sprintf("I tried to handle it (%s) but none of the %d steps worked, so nothing changed on my side.", strings.TrimSuffix(plan.Plan, "."), out.Failed)
	default:
		text = fmt.Sprintf("Partly done. %s %d of %d steps went through; the rest failed and are listed in my log.",
			sentence(plan.Plan), out.Succeeded, out.Succeeded+out.Failed)
	}
	return text, out, true
}

// #endregion

// #region draft

// draft writes the plan to the review directory instead of executing it.
func (p *Pipeline) draft(ctx context.Context, turnID, utterance string, perc Perception) (string, *DelegationOutcome) {
	plan, ok := p.plan(ctx, utterance, perc.Task)
	if !ok {
		plan = planPayload{Plan: firstNonEmpty(perc.Task, utterance)}
	}
	out := &DelegationOutcome{Plan: plan.Plan}

	path := filepath.Join(p.opts.DraftsDir, turnID+".md")
	if err := p.writeDraft(path, utterance, plan); err != nil {
		p.log.Error("draft not saved", zap.String("path", path), zap.Error(err))
		return fmt.Sprintf("I've drafted this rather than doing it: %s I couldn't save the draft, so nothing has been touched.", sentence(plan.Plan)), out
	}
	out.DraftPath = path
	return fmt.Sprintf("I've drafted this for your review instead of doing it myself: %s The draft is saved at %s.", sentence(plan.Plan), path), out
}

func (p *Pipeline) writeDraft(path, utterance string, plan planPayload) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Draft for review\n\ncreated: %s\n\n## Request\n\n%s\n\n## Plan\n\n%s\n", p.now().UTC().Format(time.RFC3339), utterance, plan.Plan)
	if len(plan.Actions) > 0 {
		b.WriteString("\n## Proposed actions\n\n")
		for _, a := range plan.Actions {
			args, _ := json.Marshal(a.Args)
			fmt.Fprintf(&b, "- `%s` %s\n", a.Tool, args)
		}
	}
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create drafts dir: %w", err)
	}
	if err := afero.WriteFile(p.fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// #endregion

// #region helpers

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") {
		s = strings.TrimRight(s, "?") + "."
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// #endregion
