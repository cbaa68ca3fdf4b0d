package panel

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Kind selects how a Matcher interprets its label.
type Kind string

const (
	// KindButton matches <button> elements whose text contains the label.
	KindButton Kind = "button"
	// KindText matches the innermost element whose text contains the label.
	KindText Kind = "text"
)

// ParseKind validates a kind read from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindButton, KindText:
		return k, nil
	case "":
		return KindButton, nil
	default:
		return "", errors.Errorf("unknown matcher kind %q", s)
	}
}

// Matcher is one way of locating the renewal control.
type Matcher struct {
	Name  string
	Kind  Kind
	Label string
}

// DefaultMatchers returns the label variants in priority order: the
// localized button, any element with the localized text, the English button.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Name: "localized-button", Kind: KindButton, Label: LabelLocalized},
		{Name: "localized-text", Kind: KindText, Label: LabelLocalized},
		{Name: "english-button", Kind: KindButton, Label: LabelEnglish},
	}
}

// String renders the matcher as a Playwright-style selector.
func (m Matcher) String() string {
	if m.Kind == KindText {
		return fmt.Sprintf("text=%s", m.Label)
	}
	return fmt.Sprintf("button:has-text(%q)", m.Label)
}

// XPath renders the matcher for chromedp.BySearch. Matching ignores case
// and spans descendant text, like has-text and text= do.
func (m Matcher) XPath() string {
	text := foldCase("normalize-space(string(.))", m.Label)
	has := fmt.Sprintf("contains(%s, %s)", text, xpathLiteral(strings.ToLower(m.Label)))
	if m.Kind == KindText {
		return fmt.Sprintf(`//*[%s and not(*[%s])]`, has, has)
	}
	return fmt.Sprintf(`//button[%s]`, has)
}

// foldCase lower-cases expr for the cased letters of label. XPath 1.0 has
// no lower-case(), so translate gets exactly the letters that matter.
func foldCase(expr, label string) string {
	var upper, lower []rune
	seen := make(map[rune]bool)
	for _, r := range strings.ToLower(label) {
		u := unicode.ToUpper(r)
		if u == r || seen[u] {
			continue
		}
		seen[u] = true
		upper = append(upper, u)
		lower = append(lower, r)
	}
	if len(upper) == 0 {
		return expr
	}
	return fmt.Sprintf("translate(%s, %s, %s)", expr, xpathLiteral(string(upper)), xpathLiteral(string(lower)))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}

	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}

// Counter reports how many elements a matcher currently selects.
type Counter interface {
	Count(ctx context.Context, m Matcher) (int, error)
}

// Find walks matchers in order and returns the first one with at least one
// match. ok is false when none matched. A counting error aborts the walk.
func Find(ctx context.Context, c Counter, matchers []Matcher) (m Matcher, n int, ok bool, err error) {
	for _, cand := range matchers {
		cnt, cerr := c.Count(ctx, cand)
		if cerr != nil {
			return Matcher{}, 0, false, errors.Wrapf(cerr, "count %s", cand)
		}
		if cnt > 0 {
			return cand, cnt, true, nil
		}
	}
	return Matcher{}, 0, false, nil
}

// Labels returns the display form of each matcher, for messages.
func Labels(matchers []Matcher) []string {
	out := make([]string, len(matchers))
	for i, m := range matchers {
		out[i] = m.String()
	}
	return out
}
