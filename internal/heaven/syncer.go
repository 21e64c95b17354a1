package heaven

import (
	"context"
	"errors"
	"time"

	"github.com/example/heaven-sync/internal/browser"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/logging"
)

// Config is everything a Syncer needs besides a browser.
type Config struct {
	Remote      Remote
	Credentials Credentials
	Catalog     reservation.Catalog
	// Location is the remote system's wall clock; slot codes are read in it.
	Location *time.Location
	Timing   Timing
	// Partial is told about attempts that failed after the reservation was
	// created remotely. Defaults to logging a warning.
	Partial PartialHandler
}

// Result is the outcome of one attempt.
type Result struct {
	Success         bool           `json:"success"`
	ReservationID   reservation.ID `json:"reservation_id"`
	DurationSeconds float64        `json:"duration_seconds"`
	Cause           string         `json:"cause,omitempty"`
	Error           string         `json:"error,omitempty"`
	FailedStep      StepName       `json:"failed_step,omitempty"`
	AfterSubmit     bool           `json:"after_submit,omitempty"`
	Artifact        string         `json:"artifact,omitempty"`

	Duration time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// PartialHandler is called when an attempt fails after Submit. The remote
// system then holds an incomplete reservation that nothing here removes.
type PartialHandler interface {
	HandlePartial(ctx context.Context, req reservation.Request, failure *StepFailure)
}

type PartialHandlerFunc func(ctx context.Context, req reservation.Request, failure *StepFailure)

func (f PartialHandlerFunc) HandlePartial(ctx context.Context, req reservation.Request, failure *StepFailure) {
	f(ctx, req, failure)
}

func logPartial(ctx context.Context, req reservation.Request, failure *StepFailure) {
	logging.FromContext(ctx).Warn("reservation was created remotely but not completed; clean up by hand",
		"step", failure.Step, "cast_name", req.CastName, "reservation_time", req.ReservationTime)
}

// Syncer registers reservations in the remote ledger, one browser session per
// attempt. It is safe for concurrent use; attempts share nothing.
type Syncer struct {
	opener   Opener
	cfg      Config
	recorder *Recorder
	now      func() time.Time
}

func NewSyncer(opener Opener, cfg Config, recorder *Recorder) *Syncer {
	if cfg.Remote.BaseURL == "" {
		cfg.Remote = DefaultRemote()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = reservation.DefaultCatalog()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.Partial == nil {
		cfg.Partial = PartialHandlerFunc(logPartial)
	}
	return &Syncer{opener: opener, cfg: cfg, recorder: recorder, now: time.Now}
}

// Sync runs the whole registration workflow for req. The returned error is
// res.Err; a failed attempt always has a Cause.
func (s *Syncer) Sync(ctx context.Context, req reservation.Request) (res Result, err error) {
	logger := logging.FromContext(ctx).With("reservation_id", req.ReservationID)
	ctx = logging.ContextWithLogger(ctx, logger)

	start := s.now()
	res = Result{ReservationID: req.ReservationID}
	defer func() {
		res.Duration = s.now().Sub(start)
		res.DurationSeconds = res.Duration.Seconds()
		if res.Err != nil {
			res.Cause = Kind(res.Err)
			res.Error = res.Err.Error()
			logger.Error("sync failed", "cause", res.Cause, "step", res.FailedStep,
				"error", res.Err, "duration", res.Duration)
		} else {
			res.Success = true
			logger.Info("sync succeeded", "duration", res.Duration)
		}
		recordResult(res)
		err = res.Err
	}()

	if verr := req.Validate(); verr != nil {
		res.Err = verr
		return res, nil
	}

	sess, oerr := s.opener.Open(ctx)
	if oerr != nil {
		var launch *browser.LaunchError
		if !errors.As(oerr, &launch) {
			oerr = &browser.LaunchError{Err: oerr}
		}
		res.Err = oerr
		return res, nil
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("browser session did not close cleanly", "error", cerr)
		}
	}()

	w := &workflow{
		d:       sess,
		req:     req,
		remote:  s.cfg.Remote,
		creds:   s.cfg.Credentials,
		catalog: s.cfg.Catalog,
		loc:     s.cfg.Location,
		timing:  s.cfg.Timing,
	}
	if _, rerr := runSteps(ctx, registrationSteps(), sess, w); rerr != nil {
		res.Err = rerr
		var failure *StepFailure
		if errors.As(rerr, &failure) {
			res.FailedStep = failure.Step
			res.AfterSubmit = failure.AfterSubmit
		}
		res.Artifact = s.recorder.Capture(ctx, sess, req.ReservationID)
		if res.AfterSubmit {
			s.cfg.Partial.HandlePartial(ctx, req, failure)
		}
	}
	return res, nil
}

// Ping logs in and opens the ledger, touching no reservation. It checks
// credentials and that the selectors the workflow starts with still match.
func (s *Syncer) Ping(ctx context.Context) error {
	sess, err := s.opener.Open(ctx)
	if err != nil {
		var launch *browser.LaunchError
		if !errors.As(err, &launch) {
			err = &browser.LaunchError{Err: err}
		}
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logging.FromContext(ctx).Warn("browser session did not close cleanly", "error", cerr)
		}
	}()

	w := &workflow{
		d:      sess,
		remote: s.cfg.Remote,
		creds:  s.cfg.Credentials,
		timing: s.cfg.Timing,
	}
	_, err = runSteps(ctx, pingSteps(), sess, w)
	return err
}
