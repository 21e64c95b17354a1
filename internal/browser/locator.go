package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextQuery finds elements by visible text where no stable id exists.
type TextQuery struct {
	// Selector lists the candidate elements.
	Selector string
	// Contains is matched against each candidate's textContent. The match is
	// a case-sensitive substring test.
	Contains string
}

// Match is one candidate that satisfied a TextQuery.
type Match struct {
	Query TextQuery
	// Index is the element's position among all Selector matches, in
	// document order.
	Index int
	Text  string
}

// Target says which node to click for a Match.
type Target struct {
	// Ancestor, when set, clicks the closest ancestor matching it (the match
	// itself counts). A missing ancestor is ErrNoTarget.
	Ancestor string
	// Descendant, when set, clicks the first descendant matching it and falls
	// back to the match itself.
	Descendant string
}

// FilterText returns the candidates whose text contains q.Contains, keeping
// document order. An empty needle matches nothing.
func FilterText(q TextQuery, texts []string) []Match {
	if q.Contains == "" {
		return nil
	}
	var out []Match
	for i, t := range texts {
		if strings.Contains(t, q.Contains) {
			out = append(out, Match{Query: q, Index: i, Text: t})
		}
	}
	return out
}

// Find returns every element matching q, in document order. No match is an
// empty slice, not an error.
func (p *Page) Find(ctx context.Context, q TextQuery, timeout time.Duration) ([]Match, error) {
	var texts []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => el.textContent || '')`, jsString(q.Selector))
	if err := p.Evaluate(ctx, script, &texts, timeout); err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Selector, err)
	}
	return FilterText(q, texts), nil
}

// Activate clicks the node t selects for m. The element is re-checked against
// the query first so a re-render between Find and Activate is detected.
func (p *Page) Activate(ctx context.Context, m Match, t Target, timeout time.Duration) error {
	var outcome string
	if err := p.Evaluate(ctx, activateScript(m, t), &outcome, timeout); err != nil {
		return fmt.Errorf("activate %s[%d]: %w", m.Query.Selector, m.Index, err)
	}
	switch outcome {
	case "ok":
		return nil
	case "stale":
		return ErrStaleMatch
	case "no-target":
		return ErrNoTarget
	default:
		return fmt.Errorf("activate %s[%d]: unexpected result %q", m.Query.Selector, m.Index, outcome)
	}
}

func activateScript(m Match, t Target) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%s)[%d];
  if (!el || !(el.textContent || '').includes(%s)) return 'stale';
  let target = el;
  const ancestor = %s, descendant = %s;
  if (ancestor) {
    target = el.closest(ancestor);
    if (!target) return 'no-target';
  } else if (descendant) {
    target = el.querySelector(descendant) || el;
  }
  target.click();
  return 'ok';
})()`, jsString(m.Query.Selector), m.Index, jsString(m.Query.Contains), jsString(t.Ancestor), jsString(t.Descendant))
}
