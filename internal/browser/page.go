package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Page exposes the interaction primitives of one browser tab. Every primitive
// takes its own timeout budget; there is no deadline for a sequence of them.
type Page struct {
	ctx    context.Context
	closed func() bool
}

// TypeOptions controls Type.
type TypeOptions struct {
	// ClearFirst selects the current content so the typed text replaces it.
	ClearFirst bool
	// KeyDelay is the pause between characters.
	KeyDelay time.Duration
	Timeout  time.Duration
}

// run executes actions against the tab with a budget. The budget is also cut
// short when ctx is cancelled. A budget overrun is reported as an
// ElementTimeoutError for selector.
func (p *Page) run(ctx context.Context, selector string, timeout time.Duration, actions ...chromedp.Action) error {
	if p.closed != nil && p.closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &ElementTimeoutError{Selector: selector, Timeout: timeout}
	}
	return err
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, url, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location returns the URL of the current document.
func (p *Page) Location(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, "location", 5*time.Second, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// WaitFor blocks until selector matches a node in the document.
func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, selector, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// Click waits for selector and clicks the first match.
func (p *Page) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, selector, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Type focuses selector and sends text one key event per character, so the
// page's input listeners see the same events a person typing would produce.
func (p *Page) Type(ctx context.Context, selector, text string, opts TypeOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	prepare := []chromedp.Action{
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
	}
	var selected bool
	if opts.ClearFirst {
		prepare = append(prepare, chromedp.Evaluate(selectAllScript(selector), &selected))
	}
	if err := p.run(ctx, selector, opts.Timeout, prepare...); err != nil {
		return err
	}
	// Typing without the selection would append to the old value.
	if opts.ClearFirst {
		if err := present("clear", selector, selected); err != nil {
			return err
		}
	}
	for _, r := range text {
		if err := p.run(ctx, selector, opts.Timeout, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		if err := Settle(ctx, opts.KeyDelay); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs a JavaScript expression in the page and decodes its result
// into out. Scripts should return a concrete value; null/undefined are errors.
func (p *Page) Evaluate(ctx context.Context, expression string, out any, timeout time.Duration) error {
	return p.run(ctx, "evaluate", timeout, chromedp.Evaluate(expression, out))
}

// SubmitForm calls submit() on the form matched by selector and waits until a
// new document has finished loading.
func (p *Page) SubmitForm(ctx context.Context, selector string, timeout time.Duration) error {
	var submitted bool
	if err := p.run(ctx, selector, timeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Evaluate(submitScript(selector), &submitted),
	); err != nil {
		return err
	}
	if err := present("submit", selector, submitted); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		var loaded bool
		// Errors while the old document is torn down are expected; keep polling.
		if err := p.run(ctx, selector, time.Second, chromedp.Evaluate(navigationDoneScript, &loaded)); err == nil && loaded {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return &ElementTimeoutError{Selector: selector + " (navigation)", Timeout: timeout}
		}
		if err := Settle(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// Count returns how many nodes currently match selector.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := p.run(ctx, selector, 5*time.Second, chromedp.Evaluate(countScript(selector), &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Screenshot captures the whole document as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, "screenshot", 20*time.Second, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Settle waits for d unless ctx is cancelled first. It is the fallback for
// renders that expose no completion signal.
func Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// present reports a script that found no element for selector.
func present(op, selector string, ok bool) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, selector, ErrElementGone)
}

const navigationMarker = "__heavensyncPendingNavigation"

var navigationDoneScript = fmt.Sprintf(
	`(() => typeof window.%s === 'undefined' && document.readyState === 'complete')()`, navigationMarker)

func submitScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const form = document.querySelector(%s);
  if (!form) return false;
  window.%s = true;
  form.submit();
  return true;
})()`, jsString(selector), navigationMarker)
}

func selectAllScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.focus();
  if (typeof el.select === 'function') { el.select(); } else { el.value = ''; }
  return true;
})()`, jsString(selector))
}

func countScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
