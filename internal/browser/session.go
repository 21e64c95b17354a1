package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// State is the lifecycle of one browser session.
type State int

const (
	StateUnopened State = iota
	StateLaunched
	StateAuthenticated
	StateInWorkflow
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateLaunched:
		return "launched"
	case StateAuthenticated:
		return "authenticated"
	case StateInWorkflow:
		return "in_workflow"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures how the browser process is started.
type Options struct {
	ExecPath       string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	LaunchTimeout  time.Duration
	UserAgent      string
	// AcceptLanguage is sent with every request; the remote UI renders its
	// labels in the negotiated language.
	AcceptLanguage string
}

// DefaultOptions is a headless Chrome sized like a desktop display, with the
// flags a container without a setuid sandbox or a large /dev/shm needs.
func DefaultOptions() Options {
	return Options{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		LaunchTimeout:  30 * time.Second,
		AcceptLanguage: "ja-JP,ja;q=0.9",
	}
}

func (o Options) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("no-zygote", true),
		chromedp.WindowSize(o.ViewportWidth, o.ViewportHeight),
	)
	if !o.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	return opts
}

// Launcher starts one isolated browser process per Open call. Every process
// gets a fresh temporary profile, so no cookies survive between sessions.
type Launcher struct {
	opts   Options
	logger *slog.Logger
}

func NewLauncher(opts Options, logger *slog.Logger) *Launcher {
	def := DefaultOptions()
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = def.LaunchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{opts: opts, logger: logger}
}

// Open launches a browser and returns a session with one page. The browser
// lives until Close; cancelling ctx only aborts the launch itself.
func (l *Launcher) Open(ctx context.Context) (*Session, error) {
	base := context.WithoutCancel(ctx)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(base, l.opts.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Warn(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	abort := func() {
		cancelTab()
		cancelAlloc()
	}

	// The first Run starts the process; it must run on tabCtx itself, not on a
	// child with a deadline, or the browser would die with that child.
	l.watch(tabCtx)
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, l.setup()...)
	}()

	timer := time.NewTimer(l.opts.LaunchTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			abort()
			return nil, &LaunchError{Err: err}
		}
	case <-timer.C:
		abort()
		return nil, &LaunchError{Err: fmt.Errorf("browser did not start within %s", l.opts.LaunchTimeout)}
	case <-ctx.Done():
		abort()
		return nil, &LaunchError{Err: ctx.Err()}
	}

	s := &Session{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		state:       StateLaunched,
		openedAt:    time.Now(),
		logger:      l.logger,
	}
	s.Page = &Page{ctx: tabCtx, closed: s.isClosed}
	l.logger.Debug("browser session opened")
	return s, nil
}

func (l *Launcher) setup() []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(l.opts.ViewportWidth), int64(l.opts.ViewportHeight)),
	}
	if l.opts.AcceptLanguage != "" {
		actions = append(actions,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": l.opts.AcceptLanguage}),
		)
	}
	return actions
}

// watch logs uncaught page exceptions and accepts JavaScript dialogs, which
// would otherwise block every later action on the page.
func (l *Launcher) watch(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			l.logger.Debug("page exception", "component", "chromedp", "text", ev.ExceptionDetails.Text)
		case *page.EventJavascriptDialogOpening:
			l.logger.Info("accepting page dialog", "type", ev.Type, "message", ev.Message)
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					l.logger.Warn("failed to accept page dialog", "error", err)
				}
			}()
		}
	})
}

// Session owns one browser process and its single page.
type Session struct {
	*Page

	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu       sync.Mutex
	state    State
	openedAt time.Time
	once     sync.Once
	closeErr error
	logger   *slog.Logger
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the session one stage forward. Only Launched→Authenticated and
// Authenticated→InWorkflow are legal; Closed is reached through Close.
func (s *Session) Advance(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !legalTransition(s.state, next) {
		return fmt.Errorf("browser session: illegal transition %s -> %s", s.state, next)
	}
	s.state = next
	return nil
}

func legalTransition(from, to State) bool {
	switch {
	case from == StateLaunched && to == StateAuthenticated:
		return true
	case from == StateAuthenticated && to == StateInWorkflow:
		return true
	}
	return false
}

func (s *Session) isClosed() bool { return s.State() == StateClosed }

// Close terminates the browser process and removes its profile directory.
// It is safe to call more than once; only the first call does any work.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.closeErr = chromedp.Cancel(s.tabCtx)
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Debug("browser session closed", "lifetime", time.Since(s.openedAt).Round(time.Millisecond))
	})
	return s.closeErr
}
