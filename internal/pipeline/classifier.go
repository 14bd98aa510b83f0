package pipeline

// #region imports
import (
	"strings"
	"unicode"
)

// #endregion

// #region keywords

// highStakes maps a category to phrases that mark a request as hard to undo.
// Categories are checked in this order.
var highStakes = []struct {
	category string
	phrases  []string
}{
	{"deletion", []string{"delete", "deleting", "remove", "erase", "wipe", "purge", "shred", "uninstall", "empty the trash"}},
	{"financial", []string{"pay", "payment", "transfer", "wire", "invest", "buy", "purchase", "sell", "bank", "loan", "mortgage", "crypto", "refund"}},
	{"legal", []string{"contract", "sign", "lawsuit", "lawyer", "legal", "court", "nda", "terms of service", "agreement"}},
	{"medical", []string{"medication", "medicine", "dosage", "dose", "prescription", "diagnosis", "doctor", "surgery", "medical", "symptom"}},
	{"irreversible", []string{"irreversible", "permanent", "permanently", "cannot be undone", "can't be undone", "forever", "close my account", "cancel my"}},
}

var adminPrefixes = []string{
	"schedule ",
	"remind me",
	"add ",
	"book ",
	"move ",
	"rename ",
	"organize ",
	"sort ",
	"archive ",
	"file ",
	"send ",
	"reply to ",
	"draft ",
	"set up ",
	"set a ",
	"create ",
	"update ",
	"clean up ",
	"please schedule ",
	"can you schedule ",
}

var adminImperatives = map[string]bool{
	"schedule": true, "remind": true, "add": true, "book": true,
	"move": true, "rename": true, "organize": true, "sort": true,
	"archive": true, "file": true, "send": true, "draft": true,
	"list": true, "save": true, "update": true,
}

// valueConflicts are requests that collide with the prime directive or the
// honesty principle regardless of what a judge says.
var valueConflicts = []struct {
	phrase string
	reason string
}{
	{"lie to", "would mean helping deceive someone"},
	{"deceive", "would mean helping deceive someone"},
	{"manipulate", "would mean manipulating someone"},
	{"gaslight", "would mean manipulating someone"},
	{"cover up", "would mean hiding something wrong"},
	{"hurt myself", "could hurt you"},
	{"harm myself", "could hurt you"},
	{"get revenge", "could hurt someone else"},
	{"stalk", "could hurt someone else"},
	{"pretend you agree", "would mean I stop being honest with you"},
	{"just tell me what i want to hear", "would mean I stop being honest with you"},
}

// #endregion

// #region normalize

// wordText lowercases s and reduces it to space-separated words, padded so
// phrase matches can require word boundaries.
func wordText(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(words, " ") + " "
}

func containsPhrase(text, phrase string) bool {
	return strings.Contains(text, wordText(phrase))
}

// #endregion

// #region high-stakes

// HighStakes returns the category of the first high-stakes phrase found in
// any of texts.
func HighStakes(texts ...string) (string, bool) {
	joined := wordText(strings.Join(texts, " "))
	for _, group := range highStakes {
		for _, p := range group.phrases {
			if containsPhrase(joined, p) {
				return group.category, true
			}
		}
	}
	return "", false
}

// #endregion

// #region administrative

// IsAdministrative returns true for routine housekeeping requests (calendar,
// reminders, filing, messages) that may be delegated.
func IsAdministrative(prompt string) bool {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	if lower == "" {
		return false
	}
	for _, p := range adminPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}

	// Short imperative phrases (1-4 words, no question mark)
	if strings.Contains(lower, "?") {
		return false
	}
	words := strings.Fields(lower)
	if len(words) >= 1 && len(words) <= 4 {
		return adminImperatives[words[0]]
	}
	return false
}

// #endregion

// #region value-conflict

// ValueConflict reports a deterministic moral-friction hit in text.
func ValueConflict(text string) (string, bool) {
	joined := wordText(text)
	for _, v := range valueConflicts {
		if containsPhrase(joined, v.phrase) {
			return v.reason, true
		}
	}
	return "", false
}

// #endregion
