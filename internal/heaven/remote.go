package heaven

import (
	"context"
	"strings"
	"time"

	"github.com/example/heaven-sync/internal/browser"
)

// Remote addresses the booking application.
type Remote struct {
	BaseURL    string
	LoginPath  string
	LedgerPath string
}

func DefaultRemote() Remote {
	return Remote{
		BaseURL:    "https://pro-manager.cityheaven.net",
		LoginPath:  "/login/",
		LedgerPath: "/reservation/timechart",
	}
}

func (r Remote) LoginURL() string  { return join(r.BaseURL, r.LoginPath) }
func (r Remote) LedgerURL() string { return join(r.BaseURL, r.LedgerPath) }

// IsLoginPage reports whether u is still the login form.
func (r Remote) IsLoginPage(u string) bool {
	p := strings.TrimRight(r.LoginPath, "/")
	if p == "" {
		p = "/login"
	}
	return strings.Contains(u, p)
}

func join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Selectors of the remote UI. These are an unversioned contract with the
// booking application and break when its markup changes.
const (
	selLoginID         = "#loginId"
	selLoginPassword   = "#password"
	selLoginForm       = ".login-form"
	selNewReservation  = "#new_reservation"
	selCastRow         = "div.sc_Bar"
	selCastLink        = "a"
	selRegisterButton  = "#btn-save"
	selBarTitle        = ".title"
	selBarHead         = ".head"
	selDetailButton    = "#modal_detail_view"
	selPhone           = "#reservation_phone_number"
	selMemberNumber    = "#shop_member_no"
	selCustomerName    = `input[name*="customer_name"]`
	selSaveButton      = "#button-save"
	unregisteredMarker = "顧客未登録"
)

func courseSelector(elementID string) string {
	return `label[for="` + elementID + `"]`
}

func timeSlotSelector(code string) string {
	return `label.time_btn[for*="time_` + code + `"]`
}

// Credentials log the service into the remote application.
type Credentials struct {
	User     string
	Password string
}

// Timing holds every wait the workflow uses. Settle delays cover renders the
// remote UI gives no signal for; scale them with Scaled rather than editing
// steps.
type Timing struct {
	Navigation time.Duration
	Element    time.Duration
	Ledger     time.Duration
	KeyDelay   time.Duration

	// Polling used when waiting for a DOM postcondition.
	Poll      time.Duration
	StableFor time.Duration
	CastList  time.Duration

	AfterLogin             time.Duration
	AfterLedger            time.Duration
	AfterQuickRegistration time.Duration
	AfterSelect            time.Duration
	AfterSubmit            time.Duration
	AfterCustomerBar       time.Duration
	AfterEditModal         time.Duration
	AfterSave              time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Navigation: 30 * time.Second,
		Element:    10 * time.Second,
		Ledger:     15 * time.Second,
		KeyDelay:   50 * time.Millisecond,

		Poll:      250 * time.Millisecond,
		StableFor: 750 * time.Millisecond,
		CastList:  5 * time.Second,

		AfterLogin:             2 * time.Second,
		AfterLedger:            5 * time.Second,
		AfterQuickRegistration: 2 * time.Second,
		AfterSelect:            1 * time.Second,
		AfterSubmit:            3 * time.Second,
		AfterCustomerBar:       2 * time.Second,
		AfterEditModal:         3 * time.Second,
		AfterSave:              3 * time.Second,
	}
}

// Scaled multiplies the settle delays by f. Timeouts are left alone.
func (t Timing) Scaled(f float64) Timing {
	if f < 0 {
		f = 0
	}
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * f) }
	t.AfterLogin = scale(t.AfterLogin)
	t.AfterLedger = scale(t.AfterLedger)
	t.AfterQuickRegistration = scale(t.AfterQuickRegistration)
	t.AfterSelect = scale(t.AfterSelect)
	t.AfterSubmit = scale(t.AfterSubmit)
	t.AfterCustomerBar = scale(t.AfterCustomerBar)
	t.AfterEditModal = scale(t.AfterEditModal)
	t.AfterSave = scale(t.AfterSave)
	return t
}

// Driver is the set of page primitives the workflow is allowed to use.
// *browser.Session satisfies it.
type Driver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Location(ctx context.Context) (string, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Type(ctx context.Context, selector, text string, opts browser.TypeOptions) error
	SubmitForm(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	Find(ctx context.Context, q browser.TextQuery, timeout time.Duration) ([]browser.Match, error)
	Activate(ctx context.Context, m browser.Match, t browser.Target, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session is a Driver with a lifecycle.
type Session interface {
	Driver
	State() browser.State
	Advance(next browser.State) error
	Close() error
}

// Opener starts a fresh session for one attempt.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// FromLauncher adapts a browser launcher to Opener.
func FromLauncher(l *browser.Launcher) Opener {
	return OpenerFunc(func(ctx context.Context) (Session, error) {
		s, err := l.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
