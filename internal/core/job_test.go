package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingStore signals each batch on entered and holds it until release is
// closed.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingStore() *blockingStore {
	return &blockingStore{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockingStore) InsertBatch(_ context.Context, records []Record) ([]Record, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}
	<-s.release
	return records, nil
}

// eventLog is a Notifier that records event types.
type eventLog struct {
	mu     sync.Mutex
	events []EventType
}

func (l *eventLog) Notify(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev.Type)
	return nil
}

func (l *eventLog) Types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EventType(nil), l.events...)
}

func userRows(n int) []byte {
	lines := []string{"Name,Email"}
	for i := range n {
		lines = append(lines, fmt.Sprintf("User %d,user%d@example.com", i, i))
	}
	return csvFile(lines...)
}

// startJob validates data and executes the resulting session.
func startJob(t *testing.T, im *Importer, data []byte, skipWarnings bool) string {
	t.Helper()
	resp := validateCSV(t, im, data)
	exec, err := im.ExecuteImport(context.Background(), ExecuteRequest{SessionID: resp.SessionID, SkipWarnings: skipWarnings})
	require.NoError(t, err)
	assert.Equal(t, JobPending, exec.Status)
	return exec.JobID
}

// waitJob waits for every job to stop and returns the final snapshot.
func waitJob(t *testing.T, svc *Service, im *Importer, jobID string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	job, err := im.GetJobStatus(jobID)
	require.NoError(t, err)
	require.True(t, job.Status.Terminal(), "job ended in %s", job.Status)
	return job
}

func TestExecuteImport_PartialBatchFailure(t *testing.T) {
	store := &memRecordStore{failOn: map[int]bool{2: true}}

	var mu sync.Mutex
	var failedIdx []int
	var postInsert int

	cfg := ModuleConfig{
		Store:     store,
		BatchSize: 100,
		ErrorHandler: func(err error, _ Record, index int) {
			mu.Lock()
			defer mu.Unlock()
			failedIdx = append(failedIdx, index)
		},
		PostInsertHook: func(_ context.Context, inserted []Record) error {
			postInsert = len(inserted)
			return nil
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	jobID := startJob(t, im, userRows(250), false)
	job := waitJob(t, svc, im, jobID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 250, job.TotalRecords)
	assert.Equal(t, 250, job.ProcessedRecords)
	assert.Equal(t, 150, job.SuccessCount)
	assert.Equal(t, 100, job.FailedCount)
	assert.Equal(t, job.TotalRecords, job.SuccessCount+job.FailedCount)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)
	assert.Len(t, job.Results, 150)

	assert.Equal(t, 3, store.Calls())
	assert.Equal(t, 150, postInsert)
	require.Len(t, failedIdx, 100)
	assert.Equal(t, 100, failedIdx[0], "indexes are positions in the job's record list")
	assert.Equal(t, 199, failedIdx[99])
}

func TestExecuteImport_ValidationBlocked(t *testing.T) {
	store := &memRecordStore{}
	cfg := ModuleConfig{
		Store: store,
		RowValidator: func(_ context.Context, row Row, _ int) []ValidationError {
			if row["name"] == "Guest" {
				return []ValidationError{{Field: "name", Message: "generic name", Code: "GENERIC_NAME", Severity: SeverityWarning}}
			}
			return nil
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	resp := validateCSV(t, im, csvFile("Name,Email", "Guest,g@b.co", ",x@b.co", "Ann,a@b.co"))
	require.False(t, resp.CanProceed)
	assert.Equal(t, 1, resp.Summary.TotalWarnings)

	_, err := im.ExecuteImport(context.Background(), ExecuteRequest{SessionID: resp.SessionID})
	assert.ErrorIs(t, err, ErrValidationBlocked)
	assert.Equal(t, 0, svc.Stats().Jobs, "no job on a blocked session")

	exec, err := im.ExecuteImport(context.Background(), ExecuteRequest{SessionID: resp.SessionID, SkipWarnings: true})
	require.NoError(t, err)
	assert.Equal(t, "Import of 2 records started", exec.Message)

	job := waitJob(t, svc, im, exec.JobID)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 2, job.TotalRecords, "only valid rows are imported")

	names := []any{}
	for _, r := range store.Inserted() {
		names = append(names, r["name"])
	}
	assert.Equal(t, []any{"Guest", "Ann"}, names)
}

func TestExecuteImport_AllowWarnings(t *testing.T) {
	cfg := ModuleConfig{
		AllowWarnings: true,
		RowValidator: func(context.Context, Row, int) []ValidationError {
			return []ValidationError{{Code: "NOTE", Severity: SeverityInfo}}
		},
	}
	_, im := newTestImporter(t, cfg, ServiceOptions{})

	resp := validateCSV(t, im, csvFile("Name,Email", "Ann,a@b.co"))
	assert.True(t, resp.CanProceed)

	_, err := im.ExecuteImport(context.Background(), ExecuteRequest{SessionID: resp.SessionID})
	assert.NoError(t, err)
}

func TestExecuteImport_NoValidRows(t *testing.T) {
	store := &memRecordStore{}
	svc, im := newTestImporter(t, ModuleConfig{Store: store}, ServiceOptions{})

	jobID := startJob(t, im, csvFile("Name,Email", ",bad"), true)
	job := waitJob(t, svc, im, jobID)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 0, job.TotalRecords)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 0, store.Calls())
}

func TestExecuteImport_RowTransformer(t *testing.T) {
	store := &memRecordStore{}
	cfg := ModuleConfig{
		Store: store,
		RowTransformer: func(row Row) (Record, error) {
			if row["name"] == "Bad" {
				return nil, errors.New("cannot map")
			}
			return Record{"full_name": row["name"], "email": row["email"], "source": "import"}, nil
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	jobID := startJob(t, im, csvFile("Name,Email", "Ann,a@b.co"), false)
	job := waitJob(t, svc, im, jobID)
	require.Equal(t, JobCompleted, job.Status)
	require.Len(t, store.Inserted(), 1)
	assert.Equal(t, Record{"full_name": "Ann", "email": "a@b.co", "source": "import"}, store.Inserted()[0])

	jobID = startJob(t, im, csvFile("Name,Email", "Ok,o@b.co", "Bad,b@b.co"), false)
	job = waitJob(t, svc, im, jobID)
	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.Error, "transform row 2")
	assert.Equal(t, 1, store.Calls(), "nothing is inserted when a row cannot be transformed")
}

func TestExecuteImport_HookFailure(t *testing.T) {
	store := &memRecordStore{}
	cfg := ModuleConfig{
		Store: store,
		PreInsertHook: func(context.Context, []Record) error {
			return errors.New("quota exceeded")
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	jobID := startJob(t, im, userRows(3), false)
	job := waitJob(t, svc, im, jobID)

	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.Error, "quota exceeded")
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 0, store.Calls())
}

func TestExecuteImport_PostInsertHookFailure(t *testing.T) {
	cfg := ModuleConfig{
		PostInsertHook: func(context.Context, []Record) error {
			return errors.New("webhook down")
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	job := waitJob(t, svc, im, startJob(t, im, userRows(2), false))
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, 2, job.SuccessCount, "inserted rows stay counted")
	assert.Contains(t, job.Error, "post-insert hook")
}

func TestExecuteImport_PanicFailsJob(t *testing.T) {
	cfg := ModuleConfig{
		Store: RecordStoreFunc(func(context.Context, []Record) ([]Record, error) {
			panic("driver exploded")
		}),
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	job := waitJob(t, svc, im, startJob(t, im, userRows(1), false))
	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.Error, "driver exploded")
}

func TestSubscribeJob_ProgressIsMonotonic(t *testing.T) {
	store := &memRecordStore{gate: make(chan struct{})}
	svc, im := newTestImporter(t, ModuleConfig{Store: store, BatchSize: 100}, ServiceOptions{})

	jobID := startJob(t, im, userRows(250), false)

	updates, stop, err := im.SubscribeJob(jobID)
	require.NoError(t, err)
	defer stop()

	go func() {
		for range 3 {
			store.gate <- struct{}{}
		}
	}()

	var seen []Job
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case job, ok := <-updates:
			if !ok {
				done = true
				break
			}
			seen = append(seen, job)
		case <-timeout:
			t.Fatal("subscription did not end")
		}
	}

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Progress, seen[i-1].Progress, "progress went backwards at update %d", i)
		assert.GreaterOrEqual(t, seen[i].ProcessedRecords, seen[i-1].ProcessedRecords)
	}

	last := seen[len(seen)-1]
	assert.Equal(t, JobCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	for _, job := range seen[:len(seen)-1] {
		assert.False(t, job.Status.Terminal(), "terminal state is delivered once, last")
	}

	waitJob(t, svc, im, jobID)
}

func TestSubscribeJob_FinishedJob(t *testing.T) {
	svc, im := newTestImporter(t, ModuleConfig{}, ServiceOptions{})
	jobID := startJob(t, im, userRows(1), false)
	waitJob(t, svc, im, jobID)

	updates, stop, err := im.SubscribeJob(jobID)
	require.NoError(t, err)
	defer stop()

	job, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, JobCompleted, job.Status)
	_, ok = <-updates
	assert.False(t, ok)

	_, _, err = im.SubscribeJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelJob(t *testing.T) {
	store := newBlockingStore()
	var hooked []Record
	cfg := ModuleConfig{
		Store:     store,
		BatchSize: 100,
		PostInsertHook: func(_ context.Context, records []Record) error {
			hooked = records
			return nil
		},
	}
	svc, im := newTestImporter(t, cfg, ServiceOptions{})

	jobID := startJob(t, im, userRows(250), false)

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never started")
	}

	job, err := im.CancelJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	close(store.release)
	final := waitJob(t, svc, im, jobID)

	assert.Equal(t, JobCancelled, final.Status, "the in-flight batch does not override cancellation")
	assert.Equal(t, int32(1), store.calls.Load(), "no batch starts after cancellation")
	assert.Equal(t, 100, final.SuccessCount, "the in-flight batch is counted")
	assert.Equal(t, 0, final.FailedCount)
	assert.Equal(t, 100, final.ProcessedRecords)
	assert.Len(t, final.Results, 100)
	assert.Len(t, hooked, 100, "inserted records still get the post-insert hook")

	_, err = im.CancelJob(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrJobNotCancellable)
}

func TestCancelJob_Finished(t *testing.T) {
	svc, im := newTestImporter(t, ModuleConfig{}, ServiceOptions{})
	jobID := startJob(t, im, userRows(1), false)
	waitJob(t, svc, im, jobID)

	job, err := im.CancelJob(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrJobNotCancellable)
	assert.Equal(t, JobCompleted, job.Status)

	_, err = im.CancelJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJob_ScopedToModule(t *testing.T) {
	Clear()
	t.Cleanup(Clear)
	Register(ModuleConfig{Name: "users", Fields: userFields(), Store: &memRecordStore{}})
	Register(ModuleConfig{Name: "teams", Fields: []FieldRule{{Name: "name", Label: "Name", Type: FieldString}}, Store: &memRecordStore{}})

	svc := NewService(ServiceOptions{})
	users, _ := svc.Importer("users")
	teams, _ := svc.Importer("teams")

	jobID := startJob(t, users, userRows(1), false)
	waitJob(t, svc, users, jobID)

	_, err := teams.GetJobStatus(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = teams.CancelJob(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJob_RetainedAfterFinish(t *testing.T) {
	clock := newFakeClock()
	svc, im := newTestImporter(t, ModuleConfig{}, ServiceOptions{Clock: clock.Now, JobRetention: 10 * time.Minute})

	jobID := startJob(t, im, userRows(1), false)
	waitJob(t, svc, im, jobID)

	clock.Advance(9 * time.Minute)
	_, err := im.GetJobStatus(jobID)
	assert.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = im.GetJobStatus(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJob_Events(t *testing.T) {
	events := &eventLog{}
	svc, im := newTestImporter(t, ModuleConfig{BatchSize: 1}, ServiceOptions{Notifier: events})

	waitJob(t, svc, im, startJob(t, im, userRows(2), false))

	assert.Equal(t, []EventType{
		EventSessionCreated,
		EventJobCreated,
		EventJobProgress, // processing
		EventJobProgress, // batch 1
		EventJobProgress, // batch 2
		EventJobCompleted,
	}, events.Types())
}

func TestJob_NotifierFailureIsNotFatal(t *testing.T) {
	failing := NotifierFunc(func(context.Context, Event) error { return errors.New("broker unavailable") })
	svc, im := newTestImporter(t, ModuleConfig{}, ServiceOptions{Notifier: failing})

	job := waitJob(t, svc, im, startJob(t, im, userRows(1), false))
	assert.Equal(t, JobCompleted, job.Status)
}

func TestJob_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := &memRecordStore{failOn: map[int]bool{1: true}}
	svc, im := newTestImporter(t, ModuleConfig{Store: store, BatchSize: 2}, ServiceOptions{Metrics: metrics})

	waitJob(t, svc, im, startJob(t, im, userRows(3), false))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.validations.WithLabelValues("users", "accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.validatedRows.WithLabelValues("users", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.jobs.WithLabelValues("users", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.records.WithLabelValues("users", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.records.WithLabelValues("users", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.activeJobs.WithLabelValues("users")))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 100, progress(0, 0))
	assert.Equal(t, 0, progress(0, 3))
	assert.Equal(t, 33, progress(1, 3))
	assert.Equal(t, 67, progress(2, 3))
	assert.Equal(t, 100, progress(3, 3))
}

func TestJob_EventsCarryRequester(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	rec := NotifierFunc(func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})
	svc, im := newTestImporter(t, ModuleConfig{}, ServiceOptions{Notifier: rec})

	who := Requester{IP: "192.0.2.10", UserAgent: "curl/8", RequestID: "req-1"}
	ctx := WithRequester(context.Background(), who)

	resp, err := im.ValidateFile(ctx, ValidateRequest{File: userRows(1), FileName: "u.csv", FileType: FileCSV})
	require.NoError(t, err)
	exec, err := im.ExecuteImport(ctx, ExecuteRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	waitJob(t, svc, im, exec.JobID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	for _, ev := range got {
		require.NotNil(t, ev.Requester, ev.Type)
		assert.Equal(t, who, *ev.Requester, ev.Type)
	}
	assert.Equal(t, EventJobCompleted, got[len(got)-1].Type, "job goroutine keeps request values")

	_, ok := RequesterFrom(context.Background())
	assert.False(t, ok)
}
