// Package attempts is the durable queue of sync attempts. Every accepted
// webhook call becomes one row; the scheduler claims queued rows and writes
// the result back.
package attempts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/example/heaven-sync/internal/db"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/heaven"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotRetryable = errors.New("only failed attempts can be retried")

	// ErrMaybeSubmitted guards retries of attempts that may already have
	// created the reservation remotely.
	ErrMaybeSubmitted = errors.New("attempt may already have created the reservation remotely; check the ledger and retry with force")
)

type Attempt struct {
	ID            uuid.UUID           `json:"attempt_id"`
	ReservationID reservation.ID      `json:"reservation_id"`
	Request       reservation.Request `json:"request"`
	Status        Status              `json:"status"`
	RetryOf       *uuid.UUID          `json:"retry_of,omitempty"`
	ClaimedBy     string              `json:"claimed_by,omitempty"`

	FailedStep  string `json:"failed_step,omitempty"`
	Cause       string `json:"cause,omitempty"`
	Error       string `json:"error,omitempty"`
	AfterSubmit bool   `json:"after_submit"`
	Artifact    string `json:"artifact,omitempty"`
	DurationMS  *int64 `json:"duration_ms,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

const columns = `id,reservation_id,payload,status,retry_of,failed_step,cause,error,after_submit,artifact,duration_ms,created_at,started_at,finished_at,claimed_by`

// querier is the part of *db.DB the repository uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) db.Row
	Query(ctx context.Context, sql string, args ...any) (db.Rows, error)
	ExecCount(ctx context.Context, sql string, args ...any) (int64, error)
}

// Repo stores attempts. Attempts it claims are leased to its owner id until
// they complete or the owner stops sending heartbeats.
type Repo struct {
	q     querier
	owner string
}

func NewRepo(d *db.DB) *Repo { return &Repo{q: d, owner: WorkerID()} }

// WorkerID names this process in claimed_by.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func (r *Repo) Owner() string { return r.owner }

// Enqueue stores req as a new queued attempt. retryOf links a retry to the
// attempt it repeats and may be nil.
func (r *Repo) Enqueue(ctx context.Context, req reservation.Request, retryOf *uuid.UUID) (Attempt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Attempt{}, fmt.Errorf("encode request: %w", err)
	}
	row := r.q.QueryRow(ctx, `
INSERT INTO sync_attempts(id,reservation_id,payload,status,retry_of)
VALUES ($1,$2,$3,'queued',$4)
RETURNING `+columns,
		uuid.New(), string(req.ReservationID), payload, retryOf)
	return scanAttempt(row)
}

// ClaimNext marks the oldest queued attempt running under this repo's owner
// and returns it. With nothing queued it returns db.ErrNotFound. Concurrent
// claimers never get the same row.
func (r *Repo) ClaimNext(ctx context.Context) (Attempt, error) {
	row := r.q.QueryRow(ctx, `
UPDATE sync_attempts SET status='running', started_at=now(), claimed_by=$1, heartbeat_at=now()
WHERE id = (
  SELECT id FROM sync_attempts
  WHERE status='queued'
  ORDER BY created_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING `+columns, r.owner)
	return scanAttempt(row)
}

// Heartbeat renews the lease on every attempt this owner is running.
func (r *Repo) Heartbeat(ctx context.Context) (int64, error) {
	n, err := r.q.ExecCount(ctx, `
UPDATE sync_attempts SET heartbeat_at=now()
WHERE status='running' AND claimed_by=$1`, r.owner)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	return n, nil
}

// Complete records the outcome of an attempt this owner is running. An
// attempt whose lease was lost is not overwritten; that returns
// db.ErrNotFound.
func (r *Repo) Complete(ctx context.Context, id uuid.UUID, res heaven.Result) error {
	status := StatusSucceeded
	if !res.Success {
		status = StatusFailed
	}
	n, err := r.q.ExecCount(ctx, `
UPDATE sync_attempts
SET status=$2, failed_step=$3, cause=$4, error=$5, after_submit=$6, artifact=$7, duration_ms=$8, finished_at=now()
WHERE id=$1 AND status='running' AND claimed_by=$9`,
		id, string(status), nullable(string(res.FailedStep)), nullable(res.Cause), nullable(res.Error),
		res.AfterSubmit, nullable(res.Artifact), res.Duration.Milliseconds(), r.owner)
	if err != nil {
		return fmt.Errorf("complete attempt %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("complete attempt %s: %w", id, db.ErrNotFound)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (Attempt, error) {
	return scanAttempt(r.q.QueryRow(ctx, `SELECT `+columns+` FROM sync_attempts WHERE id=$1`, id))
}

// ListRecent returns the newest attempts first, optionally only those with
// the given status.
func (r *Repo) ListRecent(ctx context.Context, status Status, limit int) ([]Attempt, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
SELECT `+columns+`
FROM sync_attempts
WHERE ($1::text = '' OR status = $1::text)
ORDER BY created_at DESC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Retry enqueues a failed attempt's request again as a new attempt. The
// original row is left as it is. Attempts that may have passed Submit are
// only retried with force.
func (r *Repo) Retry(ctx context.Context, id uuid.UUID, force bool) (Attempt, error) {
	prev, err := r.Get(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if prev.Status != StatusFailed {
		return Attempt{}, ErrNotRetryable
	}
	if prev.AfterSubmit && !force {
		return Attempt{}, ErrMaybeSubmitted
	}
	return r.Enqueue(ctx, prev.Request, &prev.ID)
}

// FailStale fails running attempts whose owner has not renewed the lease
// within lease. Nobody knows how far such an attempt got, so it is marked
// after_submit and needs a forced retry.
func (r *Repo) FailStale(ctx context.Context, lease time.Duration) (int64, error) {
	if lease <= 0 {
		return 0, fmt.Errorf("fail stale: lease must be positive, got %s", lease)
	}
	n, err := r.q.ExecCount(ctx, `
UPDATE sync_attempts
SET status='failed', cause=$1, error='worker lost its lease before the attempt finished', after_submit=TRUE, finished_at=now()
WHERE status='running'
  AND COALESCE(heartbeat_at, started_at, created_at) < now() - make_interval(secs => $2)`,
		heaven.KindUnexpected, lease.Seconds())
	if err != nil {
		return 0, fmt.Errorf("fail stale: %w", err)
	}
	return n, nil
}

func scanAttempt(row db.Row) (Attempt, error) {
	var (
		a                                      Attempt
		reservationID, status                  string
		payload                                []byte
		failedStep, cause, errText, artifactAt *string
		claimedBy                              *string
	)
	err := row.Scan(&a.ID, &reservationID, &payload, &status, &a.RetryOf, &failedStep, &cause, &errText,
		&a.AfterSubmit, &artifactAt, &a.DurationMS, &a.CreatedAt, &a.StartedAt, &a.FinishedAt, &claimedBy)
	if err != nil {
		return Attempt{}, db.WrapNotFound(err)
	}
	if err := json.Unmarshal(payload, &a.Request); err != nil {
		return Attempt{}, fmt.Errorf("decode payload of %s: %w", a.ID, err)
	}
	a.ReservationID = reservation.ID(reservationID)
	a.Status = Status(status)
	a.FailedStep = deref(failedStep)
	a.Cause = deref(cause)
	a.Error = deref(errText)
	a.Artifact = deref(artifactAt)
	a.ClaimedBy = deref(claimedBy)
	return a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
