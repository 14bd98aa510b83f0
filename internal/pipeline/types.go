package pipeline

// #region imports
import (
	"time"

	"github.com/danielpatrickdp/companion-kernel/internal/affect"
)

// #endregion

// #region strategy-id

// StrategyID identifies a candidate-generation strategy.
type StrategyID string

const (
	StrategyDirect   StrategyID = "direct"
	StrategyClarify  StrategyID = "clarify"
	StrategyEmpathic StrategyID = "empathic"
	StrategySafe     StrategyID = "safe_fallback"
)

// #endregion

// #region strategy-config

// StrategyConfig defines how a strategy shapes its candidate.
type StrategyConfig struct {
	ID             StrategyID
	Temperature    float64
	PromptModifier string
}

// Strategies is the fixed divergent set plus the safe fallback.
var Strategies = map[StrategyID]StrategyConfig{
	StrategyDirect: {
		ID:             StrategyDirect,
		Temperature:    0.4,
		PromptModifier: "Answer plainly and concretely. Do not act on anything the principal has not approved.",
	},
	StrategyClarify: {
		ID:             StrategyClarify,
		Temperature:    0.6,
		PromptModifier: "Name the assumption you would otherwise have to make and ask the principal to confirm it.",
	},
	StrategyEmpathic: {
		ID:             StrategyEmpathic,
		Temperature:    0.8,
		PromptModifier: "Lead with how the principal seems to feel, then respond.",
	},
	StrategySafe: {
		ID: StrategySafe,
	},
}

// divergentSet is generated on every turn, in this order.
var divergentSet = []StrategyID{StrategyDirect, StrategyClarify, StrategyEmpathic}

// #endregion

// #region branch

// Branch names the path a turn took.
type Branch string

const (
	BranchNormal            Branch = "normal"
	BranchFriction          Branch = "friction"
	BranchDelegationConfirm Branch = "delegation_confirm"
	BranchDelegationExecute Branch = "delegation_execute"
	BranchDraftOnly         Branch = "draft_only"
	BranchApology           Branch = "apology"
)

// #endregion

// #region perception

// Perception is the classification of one utterance. Degraded is set when
// the collaborator failed and neutral defaults were substituted.
type Perception struct {
	Urgency              float64        `json:"urgency"`
	Load                 float64        `json:"load"`
	Sentiment            float64        `json:"sentiment"`
	DelegationSignal     bool           `json:"delegation_signal"`
	DelegationConfidence float64        `json:"delegation_confidence"`
	Task                 string         `json:"task,omitempty"`
	SuggestedPosture     affect.Posture `json:"suggested_posture,omitempty"`
	Degraded             bool           `json:"degraded"`
}

// NeutralPerception is used when perception fails.
func NeutralPerception() Perception {
	return Perception{Urgency: 0.5, Load: 0.5, Sentiment: 0, Degraded: true}
}

// #endregion

// #region candidate

// Candidate is one generated option.
type Candidate struct {
	Strategy   StrategyID `json:"strategy"`
	Text       string     `json:"text"`
	Evaluation Evaluation `json:"evaluation"`
}

// Selection is the outcome of convergent selection.
type Selection struct {
	Index          int          `json:"index"`
	Strategy       StrategyID   `json:"strategy"`
	Source         string       `json:"source"` // "judge" | "memory" | "quality" | "fallback"
	Vetoed         []StrategyID `json:"vetoed,omitempty"`
	Friction       bool         `json:"friction"`
	FrictionReason string       `json:"friction_reason,omitempty"`
}

// #endregion

// #region delegation

// Action is one planned tool invocation.
type Action struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ActionResult pairs an action with the tool's answer.
type ActionResult struct {
	Action  Action `json:"action"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DelegationOutcome records what the delegation branch did.
type DelegationOutcome struct {
	Category  string         `json:"category,omitempty"` // high-stakes category when confirmation was requested
	Plan      string         `json:"plan,omitempty"`
	Results   []ActionResult `json:"results,omitempty"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	DraftPath string         `json:"draft_path,omitempty"`
}

// #endregion

// #region question-report

// QuestionReport is attached to the trace when the one-question rule fired.
type QuestionReport struct {
	Length    int    `json:"length"`
	Questions int    `json:"questions"`
	Method    string `json:"method"` // "rewrite" | "truncate"
}

// #endregion

// #region trace

// Trace is the write-once audit record of one turn. It is never read back
// for control flow.
type Trace struct {
	TurnID         string                   `json:"turn_id"`
	StartedAt      time.Time                `json:"started_at"`
	Utterance      string                   `json:"utterance"`
	Perception     Perception               `json:"perception"`
	Posture        affect.Posture           `json:"posture"`
	TrustTier      int                      `json:"trust_tier"`
	AffectPersist  string                   `json:"affect_persist"`
	BaseIntact     bool                     `json:"base_intact"`
	ContextIDs     []string                 `json:"context_ids,omitempty"`
	Options        []Candidate              `json:"options,omitempty"`
	Selection      *Selection               `json:"selection,omitempty"`
	Selected       *Candidate               `json:"selected,omitempty"`
	Branch         Branch                   `json:"branch"`
	Delegation     *DelegationOutcome       `json:"delegation,omitempty"`
	QuestionRule   *QuestionReport          `json:"question_rule,omitempty"`
	FinalText      string                   `json:"final_text"`
	Error          string                   `json:"error,omitempty"`
	Timings        map[string]time.Duration `json:"timings"`
}

// #endregion
