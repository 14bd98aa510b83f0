package pipeline

// #region imports
import (
	"strings"
	"unicode"
)

// #endregion

// #region failures

// Failure names a deterministic defect found in generated text.
type Failure string

const (
	FailureNone       Failure = ""
	FailureEmpty      Failure = "empty"
	FailureRepetition Failure = "repetition"
	FailureDisclaimer Failure = "disclaimer_cascade"
	FailureDeflection Failure = "deflection"
	FailureHollow     Failure = "hollow_agreement"
)

// Evaluation is the string-level assessment of one piece of generated text.
type Evaluation struct {
	Quality float64 `json:"quality"`
	Failure Failure `json:"failure,omitempty"`
}

// Serious reports whether the text should not be shown at all.
func (e Evaluation) Serious() bool {
	return e.Failure == FailureEmpty || e.Failure == FailureRepetition || e.Failure == FailureDisclaimer
}

// #endregion

// #region patterns

var deflectionPatterns = []string{
	"what can i do for you",
	"how can i help",
	"how can i assist",
	"i'd be happy to help",
	"let me know how i can",
	"is there anything else",
	"feel free to ask",
}

var disclaimerPatterns = []string{
	"as an ai",
	"as a language model",
	"my programming",
	"my limitations",
	"i'm not able to",
	"i am not able to",
	"i was designed to",
	"i was programmed to",
	"my training",
	"beyond my capabilities",
}

var hollowStarts = []string{
	"sure!", "sure.", "okay!", "okay.", "yes!", "yes.",
	"of course!", "of course.", "absolutely!", "absolutely.",
	"got it", "understood",
}

// #endregion

// #region evaluate

// Evaluate scores text against the utterance it answers. No model call.
// Text with a failure never scores above 0.35.
func Evaluate(utterance, text string) Evaluation {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	ev := Evaluation{
		Failure: detectFailure(trimmed, lower),
		Quality: scoreQuality(utterance, trimmed, lower),
	}
	if ev.Failure != FailureNone && ev.Quality > 0.35 {
		ev.Quality = 0.35
	}
	return ev
}

func detectFailure(trimmed, lower string) Failure {
	if strings.TrimFunc(trimmed, unicode.IsSpace) == "" {
		return FailureEmpty
	}
	if hasRepetition(lower) {
		return FailureRepetition
	}
	if countPatterns(lower, disclaimerPatterns) >= 2 {
		return FailureDisclaimer
	}
	words := len(strings.Fields(trimmed))
	if countPatterns(lower, deflectionPatterns) > 0 && words < 30 {
		return FailureDeflection
	}
	if words < 20 {
		for _, s := range hollowStarts {
			if strings.HasPrefix(lower, s) {
				return FailureHollow
			}
		}
	}
	return FailureNone
}

// hasRepetition reports three or more identical sentences.
func hasRepetition(lower string) bool {
	sentences := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(sentences) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if len(s) <= 10 {
			continue
		}
		counts[s]++
		if counts[s] >= 3 {
			return true
		}
	}
	return false
}

func countPatterns(lower string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n
}

// #endregion

// #region quality

// scoreQuality blends length adequacy, engagement with the utterance's
// content words, absence of disclaimers and novelty (not an echo).
func scoreQuality(utterance, trimmed, lower string) float64 {
	n := len(strings.Fields(trimmed))
	var length float64
	switch {
	case n < 10:
		length = float64(n) / 10
	case n <= 50:
		length = 0.5 + 0.5*float64(n-10)/40
	default:
		length = 1
	}

	said := make(map[string]bool)
	for _, w := range contentWords(lower) {
		said[w] = true
	}
	asked := contentWords(strings.ToLower(utterance))
	shared := 0
	for _, w := range asked {
		if said[w] {
			shared++
		}
	}
	engagement := float64(shared) / float64(max(len(asked), 1))

	disclaimers := float64(countPatterns(lower, disclaimerPatterns)) / float64(len(disclaimerPatterns))

	novelty := 1.0
	if u := strings.ToLower(strings.TrimSpace(utterance)); len(u) > 10 && strings.Contains(lower, u) {
		novelty = 0.3
	}

	q := 0.3*length + 0.3*engagement + 0.2*(1-disclaimers) + 0.2*novelty
	return clamp(q, 0, 1)
}

// contentWords returns the distinct words longer than three letters.
func contentWords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// #endregion
