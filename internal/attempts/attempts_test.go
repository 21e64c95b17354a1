package attempts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/heaven-sync/internal/db"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/heaven"
)

const payloadR1 = `{"reservation_id":"R-1","course":"60","cast_name":"Aoi","reservation_time":"2024-05-01T14:05:00","customer_phone":"090"}`

// fakeRow hands Scan the values a sync_attempts row would produce.
type fakeRow struct {
	id          uuid.UUID
	payload     string
	status      string
	cause       *string
	afterSubmit bool
	duration    *int64
	created     time.Time
	finishedAt  *time.Time
	claimedBy   *string
	err         error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uuid.UUID) = r.id
	*dest[1].(*string) = "R-1"
	*dest[2].(*[]byte) = []byte(r.payload)
	*dest[3].(*string) = r.status
	*dest[4].(**uuid.UUID) = nil
	*dest[5].(**string) = nil
	*dest[6].(**string) = r.cause
	*dest[7].(**string) = nil
	*dest[8].(*bool) = r.afterSubmit
	*dest[9].(**string) = nil
	*dest[10].(**int64) = r.duration
	*dest[11].(*time.Time) = r.created
	*dest[12].(**time.Time) = nil
	*dest[13].(**time.Time) = r.finishedAt
	*dest[14].(**string) = r.claimedBy
	return nil
}

type fakeRows struct {
	rows []fakeRow
	i    int
}

func (f *fakeRows) Next() bool {
	f.i++
	return f.i <= len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error { return f.rows[f.i-1].Scan(dest...) }
func (f *fakeRows) Close()                 {}
func (f *fakeRows) Err() error             { return nil }

type stmt struct {
	sql  string
	args []any
}

// fakeDB replays scripted rows and records every statement it is given.
type fakeDB struct {
	rows    []db.Row
	list    *fakeRows
	count   int64
	execErr error

	queries []stmt
	execs   []stmt
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) db.Row {
	f.queries = append(f.queries, stmt{sql, args})
	if len(f.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	r := f.rows[0]
	f.rows = f.rows[1:]
	return r
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (db.Rows, error) {
	f.queries = append(f.queries, stmt{sql, args})
	if f.list == nil {
		return &fakeRows{}, nil
	}
	return f.list, nil
}

func (f *fakeDB) ExecCount(_ context.Context, sql string, args ...any) (int64, error) {
	f.execs = append(f.execs, stmt{sql, args})
	return f.count, f.execErr
}

func newTestRepo(f *fakeDB) *Repo { return &Repo{q: f, owner: "worker-a"} }

func strp(s string) *string { return &s }

func TestScanAttempt(t *testing.T) {
	id := uuid.New()
	cause := "cast_not_found"
	ms := int64(4200)
	now := time.Now()
	a, err := scanAttempt(fakeRow{
		id:          id,
		payload:     payloadR1,
		status:      "failed",
		cause:       &cause,
		afterSubmit: true,
		duration:    &ms,
		created:     now,
		finishedAt:  &now,
		claimedBy:   strp("worker-a"),
	})
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, reservation.ID("R-1"), a.ReservationID)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, reservation.Course("60"), a.Request.Course)
	assert.Equal(t, "Aoi", a.Request.CastName)
	assert.Equal(t, "cast_not_found", a.Cause)
	assert.Empty(t, a.Error)
	assert.True(t, a.AfterSubmit)
	assert.Equal(t, int64(4200), *a.DurationMS)
	assert.Equal(t, "worker-a", a.ClaimedBy)
}

func TestScanAttempt_NotFound(t *testing.T) {
	_, err := scanAttempt(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = scanAttempt(fakeRow{err: errors.New("conn closed")})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}

func TestScanAttempt_BadPayload(t *testing.T) {
	_, err := scanAttempt(fakeRow{id: uuid.New(), payload: `[]`, status: "queued"})
	assert.Error(t, err)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusRunning, StatusSucceeded, StatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("done").Valid())
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", *nullable("x"))
	assert.Equal(t, "", deref(nil))
}

func TestWorkerID(t *testing.T) {
	a, b := WorkerID(), WorkerID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestClaimNext_LeasesToOwner(t *testing.T) {
	id := uuid.New()
	f := &fakeDB{rows: []db.Row{fakeRow{id: id, payload: payloadR1, status: "running", claimedBy: strp("worker-a")}}}
	a, err := newTestRepo(f).ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, StatusRunning, a.Status)

	require.Len(t, f.queries, 1)
	assert.Contains(t, f.queries[0].sql, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, f.queries[0].sql, "claimed_by=$1")
	assert.Contains(t, f.queries[0].sql, "heartbeat_at=now()")
	assert.Equal(t, []any{"worker-a"}, f.queries[0].args)
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	_, err := newTestRepo(&fakeDB{}).ClaimNext(context.Background())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestHeartbeat_ScopedToOwner(t *testing.T) {
	f := &fakeDB{count: 2}
	n, err := newTestRepo(f).Heartbeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, f.execs, 1)
	assert.Contains(t, f.execs[0].sql, "status='running' AND claimed_by=$1")
	assert.Equal(t, []any{"worker-a"}, f.execs[0].args)
}

func TestComplete_RecordsResult(t *testing.T) {
	id := uuid.New()
	f := &fakeDB{count: 1}
	err := newTestRepo(f).Complete(context.Background(), id, heaven.Result{
		Cause:       heaven.KindCustomerBarNotFound,
		Error:       "customer bar not found",
		FailedStep:  heaven.StepOpenCustomerBar,
		AfterSubmit: true,
		Duration:    1500 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, f.execs, 1)
	args := f.execs[0].args
	assert.Equal(t, id, args[0])
	assert.Equal(t, "failed", args[1])
	assert.Equal(t, heaven.KindCustomerBarNotFound, *args[3].(*string))
	assert.Equal(t, true, args[5])
	assert.Nil(t, args[6])
	assert.Equal(t, int64(1500), args[7])
	assert.Equal(t, "worker-a", args[8])
}

func TestComplete_LostLeaseIsNotFound(t *testing.T) {
	f := &fakeDB{count: 0}
	err := newTestRepo(f).Complete(context.Background(), uuid.New(), heaven.Result{Success: true})
	assert.ErrorIs(t, err, db.ErrNotFound)
	require.Len(t, f.execs, 1)
	assert.Contains(t, f.execs[0].sql, "status='running' AND claimed_by=$9")
	assert.Equal(t, "succeeded", f.execs[0].args[1])
}

func TestComplete_DatabaseError(t *testing.T) {
	f := &fakeDB{execErr: errors.New("conn reset")}
	err := newTestRepo(f).Complete(context.Background(), uuid.New(), heaven.Result{Success: true})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}

func TestFailStale_OnlyExpiredLeases(t *testing.T) {
	f := &fakeDB{count: 1}
	n, err := newTestRepo(f).FailStale(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Len(t, f.execs, 1)
	sql := f.execs[0].sql
	assert.Contains(t, sql, "COALESCE(heartbeat_at, started_at, created_at) < now() - make_interval(secs => $2)")
	assert.Contains(t, sql, "after_submit=TRUE")
	assert.Equal(t, []any{heaven.KindUnexpected, 120.0}, f.execs[0].args)
}

func TestFailStale_RejectsNonPositiveLease(t *testing.T) {
	f := &fakeDB{}
	_, err := newTestRepo(f).FailStale(context.Background(), 0)
	assert.Error(t, err)
	assert.Empty(t, f.execs)
}

func TestRetry_OnlyFailedAttempts(t *testing.T) {
	for _, st := range []string{"queued", "running", "succeeded"} {
		f := &fakeDB{rows: []db.Row{fakeRow{id: uuid.New(), payload: payloadR1, status: st}}}
		_, err := newTestRepo(f).Retry(context.Background(), uuid.New(), true)
		assert.ErrorIs(t, err, ErrNotRetryable, st)
		assert.Len(t, f.queries, 1, "nothing enqueued for %s", st)
	}
}

func TestRetry_MaybeSubmittedNeedsForce(t *testing.T) {
	prev := uuid.New()
	failed := fakeRow{id: prev, payload: payloadR1, status: "failed", afterSubmit: true}

	f := &fakeDB{rows: []db.Row{failed}}
	_, err := newTestRepo(f).Retry(context.Background(), prev, false)
	assert.ErrorIs(t, err, ErrMaybeSubmitted)
	assert.Len(t, f.queries, 1)

	next := uuid.New()
	f = &fakeDB{rows: []db.Row{failed, fakeRow{id: next, payload: payloadR1, status: "queued"}}}
	a, err := newTestRepo(f).Retry(context.Background(), prev, true)
	require.NoError(t, err)
	assert.Equal(t, next, a.ID)
	require.Len(t, f.queries, 2)
	assert.Contains(t, f.queries[1].sql, "INSERT INTO sync_attempts")
	assert.Equal(t, &prev, f.queries[1].args[3])
}

func TestRetry_FailedBeforeSubmit(t *testing.T) {
	prev := uuid.New()
	f := &fakeDB{rows: []db.Row{
		fakeRow{id: prev, payload: payloadR1, status: "failed"},
		fakeRow{id: uuid.New(), payload: payloadR1, status: "queued"},
	}}
	a, err := newTestRepo(f).Retry(context.Background(), prev, false)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, a.Status)
	assert.Equal(t, "R-1", f.queries[1].args[1])
}

func TestRetry_Missing(t *testing.T) {
	_, err := newTestRepo(&fakeDB{}).Retry(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListRecent(t *testing.T) {
	f := &fakeDB{list: &fakeRows{rows: []fakeRow{
		{id: uuid.New(), payload: payloadR1, status: "failed"},
		{id: uuid.New(), payload: payloadR1, status: "failed"},
	}}}
	as, err := newTestRepo(f).ListRecent(context.Background(), StatusFailed, 0)
	require.NoError(t, err)
	assert.Len(t, as, 2)
	assert.Equal(t, []any{"failed", 50}, f.queries[0].args)
}
