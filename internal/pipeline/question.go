package pipeline

// #region imports
import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-kernel/internal/codec"
)

// #endregion

// #region leads

var whLeads = map[string]bool{
	"who": true, "what": true, "when": true, "where": true, "why": true,
	"how": true, "which": true, "whose": true, "whom": true,
}

var auxLeads = map[string]bool{
	"do": true, "does": true, "did": true, "can": true, "could": true,
	"would": true, "will": true, "should": true, "shall": true, "is": true,
	"are": true, "was": true, "were": true, "have": true, "has": true,
	"may": true, "might": true,
}

var subjectWords = map[string]bool{
	"you": true, "i": true, "we": true, "it": true, "they": true,
	"he": true, "she": true, "that": true, "this": true, "there": true,
}

// #endregion

// #region fragments

type fragment struct {
	body  string
	term  string
	space string
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

// splitFragments cuts text into sentence fragments. A fragment ends at a
// run of terminators or at a newline. Concatenating body+term+space of every
// fragment reproduces text exactly.
func splitFragments(text string) []fragment {
	var (
		out  []fragment
		cur  fragment
		rs   = []rune(text)
		i    int
		body strings.Builder
	)
	flush := func() {
		cur.body = body.String()
		out = append(out, cur)
		cur = fragment{}
		body.Reset()
	}
	for i < len(rs) {
		r := rs[i]
		switch {
		case isTerminator(r):
			j := i
			for j < len(rs) && isTerminator(rs[j]) {
				j++
			}
			cur.term = string(rs[i:j])
			k := j
			for k < len(rs) && unicode.IsSpace(rs[k]) {
				k++
			}
			cur.space = string(rs[j:k])
			flush()
			i = k
		case r == '\n':
			b := body.String()
			trimmed := strings.TrimRightFunc(b, unicode.IsSpace)
			body.Reset()
			body.WriteString(trimmed)
			k := i
			for k < len(rs) && unicode.IsSpace(rs[k]) {
				k++
			}
			cur.space = b[len(trimmed):] + string(rs[i:k])
			flush()
			i = k
		default:
			body.WriteRune(r)
			i++
		}
	}
	if body.Len() > 0 {
		b := body.String()
		trimmed := strings.TrimRightFunc(b, unicode.IsSpace)
		body.Reset()
		body.WriteString(trimmed)
		cur.space = b[len(trimmed):]
		flush()
	}
	return out
}

func joinFragments(frags []fragment) string {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.body)
		b.WriteString(f.term)
		b.WriteString(f.space)
	}
	return b.String()
}

// #endregion

// #region count

func hasInterrogativeLead(body string) bool {
	words := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return false
	}
	if whLeads[words[0]] {
		return true
	}
	return len(words) > 1 && auxLeads[words[0]] && subjectWords[words[1]]
}

func (f fragment) isQuestion() bool {
	if strings.Contains(f.term, "?") {
		return true
	}
	return f.term == "" && hasInterrogativeLead(f.body)
}

// CountQuestions counts interrogative fragments in text: fragments closed by
// a question mark, plus unterminated fragments that open with an
// interrogative lead ("what ...", "could you ...").
func CountQuestions(text string) int {
	n := 0
	for _, f := range splitFragments(text) {
		if f.isQuestion() {
			n++
		}
	}
	return n
}

// #endregion

// #region enforce

// EnforceSingleQuestion keeps the first question in text and turns every
// later one into a statement: its question marks become a period, and an
// unterminated interrogative gets a period appended.
func EnforceSingleQuestion(text string) string {
	frags := splitFragments(text)
	seen := false
	for i := range frags {
		if !frags[i].isQuestion() {
			continue
		}
		if !seen {
			seen = true
			continue
		}
		frags[i].term = "."
	}
	return joinFragments(frags)
}

const rewriteSystemPrompt = `Rewrite the message so that it asks exactly one question.
Keep the first question, keep every statement, and change nothing else. Reply with the rewritten message only.`

// enforceOneQuestion applies the one-question rule to text. A violation is
// first handed to the LLM for a rewrite; if the rewrite is empty or still
// has the wrong count, the deterministic truncation is used.
func (p *Pipeline) enforceOneQuestion(ctx context.Context, text string) (string, *QuestionReport) {
	n := CountQuestions(text)
	if n <= 1 {
		return text, nil
	}
	report := &QuestionReport{Length: len(text), Questions: n}
	p.log.Warn("one-question rule violated",
		zap.Int("length", len(text)),
		zap.Int("questions", n))

	if p.llm != nil {
		rewritten := strings.TrimSpace(p.llm.Chat(ctx, rewriteSystemPrompt, text, codec.ChatOptions{Temperature: 0.2}))
		if rewritten != "" && CountQuestions(rewritten) == 1 {
			report.Method = "rewrite"
			return rewritten, report
		}
		p.log.Debug("question rewrite rejected", zap.Int("questions", CountQuestions(rewritten)))
	}

	report.Method = "truncate"
	return EnforceSingleQuestion(text), report
}

// #endregion
