package heaven

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/logging"
)

// ArtifactStore persists a diagnostic file and returns where it went.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Screenshotter is the part of a session the recorder needs.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Recorder captures a full-page screenshot when an attempt fails. Capture is
// best-effort: its own failures are logged and never replace the attempt's
// error.
type Recorder struct {
	Store   ArtifactStore
	Now     func() time.Time
	Timeout time.Duration
}

// ArtifactName is error-{reservationId}-{epochMillis}.png. Characters that are
// unsafe in a file name or object key are replaced with '_'.
func ArtifactName(id reservation.ID, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, string(id))
	return fmt.Sprintf("error-%s-%d.png", safe, at.UnixMilli())
}

// Capture returns the artifact location, or "" when nothing was stored.
func (r *Recorder) Capture(ctx context.Context, page Screenshotter, id reservation.ID) string {
	if r == nil || r.Store == nil || page == nil {
		return ""
	}
	logger := logging.FromContext(ctx)
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	// The attempt context may be what failed; the capture gets its own budget.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	png, err := page.Screenshot(cctx)
	if err != nil {
		logger.Warn("failed to capture error screenshot", "error", err)
		recordArtifact("capture_failed")
		return ""
	}
	loc, err := r.Store.Save(cctx, ArtifactName(id, now()), png)
	if err != nil {
		logger.Warn("failed to store error screenshot", "error", err)
		recordArtifact("store_failed")
		return ""
	}
	logger.Info("error screenshot saved", "artifact", loc)
	recordArtifact("saved")
	return loc
}
