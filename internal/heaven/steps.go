package heaven

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/heaven-sync/internal/browser"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/logging"
)

// StepName identifies one stage of the registration workflow.
type StepName string

const (
	StepLogin                 StepName = "login"
	StepOpenLedger            StepName = "open_ledger"
	StepOpenQuickRegistration StepName = "open_quick_registration"
	StepSelectCourse          StepName = "select_course"
	StepSelectCast            StepName = "select_cast"
	StepSelectTimeSlot        StepName = "select_time_slot"
	StepSubmit                StepName = "submit"
	StepOpenCustomerBar       StepName = "open_customer_bar"
	StepOpenEditModal         StepName = "open_edit_modal"
	StepFillCustomerDetails   StepName = "fill_customer_details"
	StepSave                  StepName = "save"
)

// workflow is what a step can see: the request, the settings derived from
// configuration and the page. Steps share nothing else.
type workflow struct {
	d       Driver
	req     reservation.Request
	remote  Remote
	creds   Credentials
	catalog reservation.Catalog
	loc     *time.Location
	timing  Timing

	// remoteCreated flips once the register button has been clicked.
	remoteCreated bool
}

type step struct {
	name StepName
	// enters is the session state required while the step runs; establishes
	// is the state its success proves.
	enters      browser.State
	establishes browser.State
	run         func(ctx context.Context, w *workflow) error
}

// registrationSteps is the fixed order of the workflow.
func registrationSteps() []step {
	return []step{
		{name: StepLogin, establishes: browser.StateAuthenticated, run: login},
		{name: StepOpenLedger, enters: browser.StateInWorkflow, run: openLedger},
		{name: StepOpenQuickRegistration, run: openQuickRegistration},
		{name: StepSelectCourse, run: selectCourse},
		{name: StepSelectCast, run: selectCast},
		{name: StepSelectTimeSlot, run: selectTimeSlot},
		{name: StepSubmit, run: submit},
		{name: StepOpenCustomerBar, run: openCustomerBar},
		{name: StepOpenEditModal, run: openEditModal},
		{name: StepFillCustomerDetails, run: fillCustomerDetails},
		{name: StepSave, run: save},
	}
}

// pingSteps stop once the ledger is open.
func pingSteps() []step {
	return registrationSteps()[:2]
}

func login(ctx context.Context, w *workflow) error {
	if err := w.d.Navigate(ctx, w.remote.LoginURL(), w.timing.Navigation); err != nil {
		return err
	}
	if err := w.d.Type(ctx, selLoginID, w.creds.User, w.typing(false)); err != nil {
		return err
	}
	if err := w.d.Type(ctx, selLoginPassword, w.creds.Password, w.typing(false)); err != nil {
		return err
	}
	if err := w.d.SubmitForm(ctx, selLoginForm, w.timing.Navigation); err != nil {
		return err
	}
	if err := browser.Settle(ctx, w.timing.AfterLogin); err != nil {
		return err
	}
	u, err := w.d.Location(ctx)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Debug("login landed", "url", u)
	if w.remote.IsLoginPage(u) {
		return &AuthenticationFailure{URL: u}
	}
	return nil
}

// openLedger loads the timechart. The new-reservation button is the only
// observable sign of its client-side render; a settle follows because the
// button appears before its handlers are bound.
func openLedger(ctx context.Context, w *workflow) error {
	if err := w.d.Navigate(ctx, w.remote.LedgerURL(), w.timing.Navigation); err != nil {
		return err
	}
	if err := w.d.WaitFor(ctx, selNewReservation, w.timing.Ledger); err != nil {
		return err
	}
	return browser.Settle(ctx, w.timing.AfterLedger)
}

func openQuickRegistration(ctx context.Context, w *workflow) error {
	if err := w.d.Click(ctx, selNewReservation, w.timing.Ledger); err != nil {
		return err
	}
	return browser.Settle(ctx, w.timing.AfterQuickRegistration)
}

func selectCourse(ctx context.Context, w *workflow) error {
	id, ok := CourseElementID(w.catalog, w.req.Course)
	if !ok {
		return &UnknownCourseError{Course: w.req.Course}
	}
	if err := w.d.Click(ctx, courseSelector(id), w.timing.Element); err != nil {
		return err
	}
	return browser.Settle(ctx, w.timing.AfterSelect)
}

// selectCast clicks the first cast row, in document order, whose text
// contains the cast name. The row list is left to stop growing first so an
// earlier row cannot appear after the choice was made.
func selectCast(ctx context.Context, w *workflow) error {
	if err := awaitStable(ctx, w.d, selCastRow, w.timing, w.timing.CastList); err != nil {
		return err
	}
	q := browser.TextQuery{Selector: selCastRow, Contains: w.req.CastName}
	matches, err := w.d.Find(ctx, q, w.timing.Element)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return &CastNotFoundError{CastName: w.req.CastName}
	}
	if len(matches) > 1 {
		logging.FromContext(ctx).Warn("cast name matches several rows; using the first",
			"cast_name", w.req.CastName, "matches", len(matches))
	}
	if err := w.d.Activate(ctx, matches[0], browser.Target{Descendant: selCastLink}, w.timing.Element); err != nil {
		if errors.Is(err, browser.ErrStaleMatch) {
			return &CastNotFoundError{CastName: w.req.CastName}
		}
		return err
	}
	return browser.Settle(ctx, w.timing.AfterSelect)
}

func selectTimeSlot(ctx context.Context, w *workflow) error {
	at, err := w.req.StartsAt(w.loc)
	if err != nil {
		return err
	}
	code := SlotCode(at)
	if !SlotAligned(at) {
		logging.FromContext(ctx).Warn("reservation time is not on a 5 minute boundary",
			"reservation_time", w.req.ReservationTime, "slot", code)
	}
	if err := w.d.Click(ctx, timeSlotSelector(code), w.timing.Element); err != nil {
		var timeout *browser.ElementTimeoutError
		if errors.As(err, &timeout) {
			return &TimeSlotNotFoundError{TimeSlot: code, Err: err}
		}
		return err
	}
	return browser.Settle(ctx, w.timing.AfterSelect)
}

// submit creates the reservation on the remote system. There is no way to
// take it back from here.
func submit(ctx context.Context, w *workflow) error {
	if err := w.d.Click(ctx, selRegisterButton, w.timing.Element); err != nil {
		return err
	}
	w.remoteCreated = true
	return browser.Settle(ctx, w.timing.AfterSubmit)
}

func openCustomerBar(ctx context.Context, w *workflow) error {
	q := browser.TextQuery{Selector: selBarTitle, Contains: unregisteredMarker}
	matches, err := findEventually(ctx, w.d, q, w.timing, w.timing.Element)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return &CustomerBarNotFoundError{}
	}
	if err := w.d.Activate(ctx, matches[0], browser.Target{Ancestor: selBarHead}, w.timing.Element); err != nil {
		if errors.Is(err, browser.ErrNoTarget) || errors.Is(err, browser.ErrStaleMatch) {
			return &CustomerBarNotFoundError{Err: err}
		}
		return err
	}
	return browser.Settle(ctx, w.timing.AfterCustomerBar)
}

func openEditModal(ctx context.Context, w *workflow) error {
	if err := w.d.Click(ctx, selDetailButton, w.timing.Element); err != nil {
		return err
	}
	return browser.Settle(ctx, w.timing.AfterEditModal)
}

func fillCustomerDetails(ctx context.Context, w *workflow) error {
	logger := logging.FromContext(ctx)
	fields := []struct {
		name     string
		selector string
		value    string
		always   bool
	}{
		{"phone", selPhone, w.req.CustomerPhone, true},
		{"member_number", selMemberNumber, w.req.MemberNumber, false},
		{"customer_name", selCustomerName, w.req.CustomerName, false},
	}
	for _, f := range fields {
		if f.value == "" && !f.always {
			continue
		}
		if err := w.d.Type(ctx, f.selector, f.value, w.typing(true)); err != nil {
			return fmt.Errorf("fill %s: %w", f.name, err)
		}
		logger.Debug("field filled", "field", f.name)
	}
	return nil
}

func save(ctx context.Context, w *workflow) error {
	if err := w.d.Click(ctx, selSaveButton, w.timing.Element); err != nil {
		return err
	}
	return browser.Settle(ctx, w.timing.AfterSave)
}

func (w *workflow) typing(clear bool) browser.TypeOptions {
	return browser.TypeOptions{ClearFirst: clear, KeyDelay: w.timing.KeyDelay, Timeout: w.timing.Element}
}

// awaitStable polls the number of nodes matching selector until it is
// non-zero and unchanged for t.StableFor, or until limit passes. Running out
// of time is not an error; the caller checks for the content it needs.
func awaitStable(ctx context.Context, d Driver, selector string, t Timing, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	last, since := -1, time.Now()
	for {
		n, err := d.Count(ctx, selector)
		if err != nil {
			return err
		}
		if n != last {
			last, since = n, time.Now()
		} else if n > 0 && time.Since(since) >= t.StableFor {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		if err := browser.Settle(ctx, t.Poll); err != nil {
			return err
		}
	}
}

// findEventually repeats Find until something matches or limit passes.
func findEventually(ctx context.Context, d Driver, q browser.TextQuery, t Timing, limit time.Duration) ([]browser.Match, error) {
	deadline := time.Now().Add(limit)
	for {
		matches, err := d.Find(ctx, q, t.Element)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 || time.Now().After(deadline) {
			return matches, nil
		}
		if err := browser.Settle(ctx, t.Poll); err != nil {
			return nil, err
		}
	}
}
