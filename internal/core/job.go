package core

// job.go runs the background insertion of a session's valid rows.
//
// Lifecycle: pending -> processing -> completed | failed, with cancelled
// reachable from pending or processing. Each job is driven by one goroutine
// tracked by the Service WaitGroup. Readers get snapshots; the record itself
// is guarded by a mutex because status reads race with the runner.
//
// Batches run strictly in order. A failing batch counts all of its rows as
// failed and the job moves on to the next batch; only hook failures,
// transformer failures and panics fail the whole job. Cancellation is checked
// between batches and never interrupts an in-flight insert. A batch that
// commits after cancellation still counts toward the job, and the post-insert
// hook runs over every record that reached the store.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

type jobRecord struct {
	mu  sync.Mutex
	job Job
}

func (r *jobRecord) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.clone()
}

// update applies fn unless the job is already terminal and returns the
// resulting snapshot. ok is false when fn was skipped.
func (r *jobRecord) update(fn func(j *Job)) (snap Job, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.job.Status.Terminal() {
		return r.job.clone(), false
	}
	fn(&r.job)
	return r.job.clone(), true
}

// record applies fn whatever the status. The runner uses it for a batch that
// finished after the job was cancelled.
func (r *jobRecord) record(fn func(j *Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.job)
}

func (j Job) clone() Job {
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

// errJobCancelled stops the runner once a cancellation is observed.
var errJobCancelled = errors.New("job cancelled")

// ExecuteImport schedules the insertion of a session's valid rows and returns
// as soon as the job exists.
func (im *Importer) ExecuteImport(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	session, err := im.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	if !session.Summary.CanProceed && !req.SkipWarnings {
		return nil, newError(CodeValidationBlocked,
			fmt.Sprintf("session %s has %d invalid rows and %d warnings",
				session.ID, session.Summary.InvalidRows, session.Summary.TotalWarnings), nil)
	}

	rows := make([]RowValidation, 0, session.Summary.ValidRows)
	for _, r := range session.ValidatedRows {
		if r.IsValid {
			rows = append(rows, r)
		}
	}

	svc := im.svc
	rec := &jobRecord{job: Job{
		ID:           svc.newID(),
		SessionID:    session.ID,
		Module:       im.cfg.Name,
		Status:       JobPending,
		TotalRecords: len(rows),
		StartedAt:    svc.now(),
	}}
	svc.jobs.Set(rec.job.ID, rec, 0)
	svc.metrics.jobStarted(im.cfg.Name)

	snap := rec.snapshot()
	svc.notify(ctx, Event{Type: EventJobCreated, Module: im.cfg.Name, SessionID: session.ID, Job: &snap})

	// The job outlives the request but keeps its values for logging.
	jobCtx := context.WithoutCancel(ctx)
	svc.wg.Add(1)
	go im.run(jobCtx, rec, rows)

	return &ExecuteResponse{
		JobID:   snap.ID,
		Status:  JobPending,
		Message: fmt.Sprintf("Import of %d records started", len(rows)),
	}, nil
}

// GetJobStatus returns a snapshot of a job.
func (im *Importer) GetJobStatus(jobID string) (Job, error) {
	rec, err := im.job(jobID)
	if err != nil {
		return Job{}, err
	}
	return rec.snapshot(), nil
}

// SubscribeJob streams job snapshots until the job is terminal.
// stop must be called when the caller stops reading.
func (im *Importer) SubscribeJob(jobID string) (updates <-chan Job, stop func(), err error) {
	rec, err := im.job(jobID)
	if err != nil {
		return nil, nil, err
	}
	updates, stop = im.svc.subscribe(rec)
	return updates, stop, nil
}

// CancelJob marks a pending or processing job cancelled. The runner stops
// before its next batch.
func (im *Importer) CancelJob(ctx context.Context, jobID string) (Job, error) {
	rec, err := im.job(jobID)
	if err != nil {
		return Job{}, err
	}

	now := im.svc.now()
	snap, ok := rec.update(func(j *Job) {
		j.Status = JobCancelled
		j.CompletedAt = &now
	})
	if !ok {
		return snap, newError(CodeJobNotCancellable,
			fmt.Sprintf("job %s is already %s", jobID, snap.Status), nil)
	}

	im.finish(ctx, snap)
	im.logger(ctx, "job_id", jobID).Info("import job cancelled",
		"processed", snap.ProcessedRecords,
		"total", snap.TotalRecords,
	)
	return snap, nil
}

func (im *Importer) job(jobID string) (*jobRecord, error) {
	rec, ok := im.svc.jobs.Get(jobID)
	if !ok || rec.snapshot().Module != im.cfg.Name {
		return nil, newError(CodeJobNotFound, fmt.Sprintf("job %s not found", jobID), nil)
	}
	return rec, nil
}

// finish publishes a terminal snapshot and schedules the job's removal.
func (im *Importer) finish(ctx context.Context, snap Job) {
	svc := im.svc
	svc.jobs.Expire(snap.ID, svc.jobRetention)
	svc.metrics.jobFinished(im.cfg.Name, snap.Status)
	svc.notify(ctx, Event{Type: jobEvent(snap.Status), Module: im.cfg.Name, SessionID: snap.SessionID, Job: &snap})
}

// run is the job goroutine. Every exit path leaves the job terminal.
func (im *Importer) run(ctx context.Context, rec *jobRecord, rows []RowValidation) {
	defer im.svc.wg.Done()

	log := im.logger(ctx, "job_id", rec.job.ID, "session_id", rec.job.SessionID)
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("panic in import job", "panic", r)
			}
		}()
		return im.process(ctx, rec, rows, log)
	}()

	now := im.svc.now()
	var snap Job
	var ok bool
	switch {
	case errors.Is(err, errJobCancelled):
		// CancelJob already finished the job.
		final := rec.snapshot()
		log.Info("import job stopped after cancellation",
			"processed", final.ProcessedRecords,
			"success", final.SuccessCount,
			"failed", final.FailedCount,
		)
		return
	case err != nil:
		snap, ok = rec.update(func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
			j.CompletedAt = &now
		})
	default:
		snap, ok = rec.update(func(j *Job) {
			j.Status = JobCompleted
			j.Progress = 100
			j.CompletedAt = &now
		})
	}
	if !ok {
		// Cancelled while the last batch or hook was running.
		return
	}

	im.finish(ctx, snap)
	if err != nil {
		log.Error("import job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	log.Info("import job completed",
		"total", snap.TotalRecords,
		"success", snap.SuccessCount,
		"failed", snap.FailedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// process transforms the rows, runs the hooks and inserts batch by batch.
func (im *Importer) process(ctx context.Context, rec *jobRecord, rows []RowValidation, log *slog.Logger) error {
	cfg := im.cfg
	svc := im.svc

	started, ok := rec.update(func(j *Job) { j.Status = JobProcessing })
	if !ok {
		return errJobCancelled
	}
	svc.notify(ctx, Event{Type: EventJobProgress, Module: cfg.Name, SessionID: started.SessionID, Job: &started})

	records := make([]Record, len(rows))
	for i, r := range rows {
		record, err := transform(cfg.RowTransformer, r.Data)
		if err != nil {
			return fmt.Errorf("transform row %d: %w", r.Row, err)
		}
		records[i] = record
	}

	if cfg.PreInsertHook != nil {
		if err := cfg.PreInsertHook(ctx, records); err != nil {
			return fmt.Errorf("pre-insert hook: %w", err)
		}
	}

	total := len(records)
	var inserted []Record
	for offset := 0; offset < total; offset += cfg.BatchSize {
		if rec.snapshot().Status == JobCancelled {
			return im.cancelled(ctx, rec, inserted, log)
		}

		end := min(offset+cfg.BatchSize, total)
		batch := records[offset:end]

		start := time.Now()
		done, err := cfg.Store.InsertBatch(ctx, batch)
		if err != nil {
			log.Warn("batch insert failed", "offset", offset, "size", len(batch), "error", err)
			if cfg.ErrorHandler != nil {
				for i, r := range batch {
					cfg.ErrorHandler(err, r, offset+i)
				}
			}
			svc.metrics.batch(cfg.Name, 0, len(batch), time.Since(start))
		} else {
			inserted = append(inserted, done...)
			svc.metrics.batch(cfg.Name, len(done), 0, time.Since(start))
		}

		tally := func(j *Job) {
			if err != nil {
				j.FailedCount += len(batch)
			} else {
				j.SuccessCount += len(done)
			}
			j.ProcessedRecords = end
			if p := progress(end, total); p > j.Progress {
				j.Progress = p
			}
		}
		snap, ok := rec.update(tally)
		if !ok {
			rec.record(tally)
			return im.cancelled(ctx, rec, inserted, log)
		}
		svc.notify(ctx, Event{Type: EventJobProgress, Module: cfg.Name, SessionID: snap.SessionID, Job: &snap})
	}

	if rec.snapshot().Status == JobCancelled {
		return im.cancelled(ctx, rec, inserted, log)
	}

	if cfg.PostInsertHook != nil {
		if err := cfg.PostInsertHook(ctx, inserted); err != nil {
			return fmt.Errorf("post-insert hook: %w", err)
		}
	}

	rec.mu.Lock()
	rec.job.Results = inserted
	rec.mu.Unlock()
	return nil
}

// cancelled keeps the records a cancelled job already inserted and runs the
// post-insert hook over them. Hook failures are logged since the job is
// already terminal.
func (im *Importer) cancelled(ctx context.Context, rec *jobRecord, inserted []Record, log *slog.Logger) error {
	rec.mu.Lock()
	rec.job.Results = inserted
	rec.mu.Unlock()

	if len(inserted) > 0 && im.cfg.PostInsertHook != nil {
		if err := im.cfg.PostInsertHook(ctx, inserted); err != nil {
			log.Error("post-insert hook after cancellation failed", "inserted", len(inserted), "error", err)
		}
	}
	return errJobCancelled
}

// transform applies the module's row transformer. Without one, the row data
// is copied as-is.
func transform(fn RowTransformerFunc, row Row) (Record, error) {
	if fn != nil {
		return fn(row)
	}
	rec := make(Record, len(row))
	for k, v := range row {
		rec[k] = v
	}
	return rec, nil
}

// progress is processed/total as a rounded percentage.
func progress(processed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
