package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// #region color
var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// isColorKey reports whether an appearance key holds a color value.
func isColorKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "color") || strings.Contains(k, "colour")
}

// #endregion color

const maxValueLen = 500

// #region structural
// checkMap rejects empty keys, empty values and overlong values. When
// colors is set, color keys must hold hex colors.
func checkMap(field string, m map[string]string, colors bool) error {
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: %s has an empty key", ErrValidation, field)
		}
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s.%s is empty", ErrValidation, field, k)
		}
		if len(v) > maxValueLen {
			return fmt.Errorf("%w: %s.%s exceeds %d chars", ErrValidation, field, k, maxValueLen)
		}
		if colors && isColorKey(k) && !hexColor.MatchString(strings.TrimSpace(v)) {
			return fmt.Errorf("%w: %s.%s=%q is not a hex color", ErrValidation, field, k, v)
		}
	}
	return nil
}

func checkInterests(list []string) error {
	for _, in := range list {
		if strings.TrimSpace(in) == "" {
			return fmt.Errorf("%w: empty interest", ErrValidation)
		}
		if len(in) > maxValueLen {
			return fmt.Errorf("%w: interest exceeds %d chars", ErrValidation, maxValueLen)
		}
	}
	return nil
}

// #endregion structural

// #region bounds
// deniedTerm returns the first denylisted term found in any of values.
func deniedTerm(bounds AestheticBounds, values ...string) (string, bool) {
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, term := range bounds.Denylist {
			if term != "" && strings.Contains(lower, strings.ToLower(term)) {
				return term, true
			}
		}
	}
	return "", false
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m)*2)
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

// #endregion bounds

// #region field-validation
// validateAppearance applies both the color format and the aesthetic bounds.
func validateAppearance(m map[string]string, bounds AestheticBounds) error {
	if err := checkMap("appearance", m, true); err != nil {
		return err
	}
	if term, hit := deniedTerm(bounds, mapValues(m)...); hit {
		return fmt.Errorf("%w: appearance touches denied term %q", ErrValidation, term)
	}
	return nil
}

func validateInterests(list []string, bounds AestheticBounds) error {
	if err := checkInterests(list); err != nil {
		return err
	}
	if term, hit := deniedTerm(bounds, list...); hit {
		return fmt.Errorf("%w: interests touch denied term %q", ErrValidation, term)
	}
	return nil
}

// normalizeInterests trims and de-duplicates case-insensitively, keeping
// first occurrence order.
func normalizeInterests(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, in := range list {
		t := strings.TrimSpace(in)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// #endregion field-validation
