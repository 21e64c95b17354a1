package heaven

import (
	"context"
	"strings"
	"time"

	"github.com/example/heaven-sync/internal/browser"
)

type call struct {
	op       string
	selector string
	text     string
}

// fakeSession plays the remote UI from a script. Every selector succeeds
// unless it has an entry in fail.
type fakeSession struct {
	state  browser.State
	calls  []call
	closed int
	shots  int

	location string
	fail     map[string]error
	finds    map[string][]browser.Match
	counts   []int
	panicOn  string
	activate error
	shot     []byte
	shotErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:    browser.StateLaunched,
		location: "https://pro-manager.cityheaven.net/reservation/top",
		fail:     map[string]error{},
		finds: map[string][]browser.Match{
			selCastRow:  {{Index: 0, Text: "Aoi"}},
			selBarTitle: {{Index: 3, Text: "顧客未登録"}},
		},
		shot: []byte("png"),
	}
}

func (f *fakeSession) do(op, selector, text string) error {
	f.calls = append(f.calls, call{op: op, selector: selector, text: text})
	if f.panicOn != "" && f.panicOn == selector {
		panic("scripted panic")
	}
	return f.fail[selector]
}

func (f *fakeSession) Navigate(_ context.Context, url string, _ time.Duration) error {
	return f.do("navigate", url, "")
}

func (f *fakeSession) Location(context.Context) (string, error) { return f.location, nil }

func (f *fakeSession) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	return f.do("wait", selector, "")
}

func (f *fakeSession) Click(_ context.Context, selector string, _ time.Duration) error {
	return f.do("click", selector, "")
}

func (f *fakeSession) Type(_ context.Context, selector, text string, _ browser.TypeOptions) error {
	return f.do("type", selector, text)
}

func (f *fakeSession) SubmitForm(_ context.Context, selector string, _ time.Duration) error {
	return f.do("submit", selector, "")
}

func (f *fakeSession) Count(_ context.Context, selector string) (int, error) {
	if err := f.do("count", selector, ""); err != nil {
		return 0, err
	}
	if len(f.counts) == 0 {
		return 1, nil
	}
	n := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return n, nil
}

func (f *fakeSession) Find(_ context.Context, q browser.TextQuery, _ time.Duration) ([]browser.Match, error) {
	if err := f.do("find", q.Selector, q.Contains); err != nil {
		return nil, err
	}
	var out []browser.Match
	for _, m := range f.finds[q.Selector] {
		if strings.Contains(m.Text, q.Contains) {
			m.Query = q
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSession) Activate(_ context.Context, m browser.Match, _ browser.Target, _ time.Duration) error {
	f.calls = append(f.calls, call{op: "activate", selector: m.Query.Selector, text: m.Text})
	return f.activate
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.shots++
	return f.shot, f.shotErr
}

func (f *fakeSession) State() browser.State { return f.state }

func (f *fakeSession) Advance(next browser.State) error {
	f.state = next
	return nil
}

func (f *fakeSession) Close() error {
	f.closed++
	f.state = browser.StateClosed
	return nil
}

func (f *fakeSession) did(op, selector string) bool {
	for _, c := range f.calls {
		if c.op == op && c.selector == selector {
			return true
		}
	}
	return false
}

func (f *fakeSession) typed(selector string) (string, bool) {
	for _, c := range f.calls {
		if c.op == "type" && c.selector == selector {
			return c.text, true
		}
	}
	return "", false
}

type memStore struct {
	saved map[string][]byte
	err   error
}

func (m *memStore) Save(_ context.Context, name string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.saved[name] = data
	return "mem://" + name, nil
}

// steppingClock advances one second per reading.
func steppingClock() func() time.Time {
	t := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func fastTiming() Timing {
	t := DefaultTiming().Scaled(0)
	t.Poll = 0
	t.StableFor = 0
	t.CastList = 10 * time.Millisecond
	t.KeyDelay = 0
	return t
}
