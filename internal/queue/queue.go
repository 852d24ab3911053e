// Package queue schedules experiment jobs in memory with bounded concurrency.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentarena/api/internal/model"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrBatchNotFound      = errors.New("batch not found")
)

const (
	defaultMaxConcurrent = 3
	defaultPollInterval  = 5 * time.Second
	defaultErrorBackoff  = 10 * time.Second
	defaultStartTimeout  = 3 * time.Second
	defaultStopTimeout   = 5 * time.Second
	summaryTimeout       = 30 * time.Second
	nextUpLimit          = 3
)

// Runner executes one job. progress may be called any number of times.
type Runner interface {
	Run(ctx context.Context, jobID string, config map[string]interface{}, progress func(int)) (*model.RunOutput, error)
}

// Notifier receives job and batch events. It is always called without the
// queue lock held.
type Notifier interface {
	NotifyProgress(jobID, batchID string, progress int, status model.JobStatus)
	NotifyComplete(jobID, batchID string, resultFiles []string)
	NotifyError(jobID, batchID, message string)
	NotifyBatchComplete(batchID string, status model.BatchStatus)
}

// Option configures a Queue.
type Option func(*Queue)

func WithMaxConcurrent(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxConcurrent = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func WithErrorBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.errorBackoff = d
		}
	}
}

// WithTimeouts sets how long Start waits for a previous loop and how long
// Stop waits for the current one.
func WithTimeouts(start, stop time.Duration) Option {
	return func(q *Queue) {
		if start > 0 {
			q.startTimeout = start
		}
		if stop > 0 {
			q.stopTimeout = stop
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithSummaryWriter(w SummaryWriter) Option {
	return func(q *Queue) { q.summary = w }
}

func WithRecorder(r *Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

// entry is a running job. Completion only applies while the entry is still
// the one registered for the job id.
type entry struct {
	job    *model.Job
	cancel context.CancelFunc
}

type loop struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newLoop() *loop {
	return &loop{stop: make(chan struct{}), done: make(chan struct{})}
}

func (l *loop) signal() {
	l.once.Do(func() { close(l.stop) })
}

// Queue owns every job and batch. All state is guarded by mu.
type Queue struct {
	mu      sync.Mutex
	jobs    []*model.Job
	batches map[string]*model.Batch
	running map[string]*entry
	status  model.QueueStatus
	loop    *loop

	runner        Runner
	maxConcurrent int
	pollInterval  time.Duration
	errorBackoff  time.Duration
	startTimeout  time.Duration
	stopTimeout   time.Duration

	notifier Notifier
	summary  SummaryWriter
	recorder *Recorder
	logger   *slog.Logger

	workers sync.WaitGroup
}

// New creates a stopped queue.
func New(runner Runner, opts ...Option) *Queue {
	q := &Queue{
		batches:       make(map[string]*model.Batch),
		running:       make(map[string]*entry),
		status:        model.QueueStatusStopped,
		runner:        runner,
		maxConcurrent: defaultMaxConcurrent,
		pollInterval:  defaultPollInterval,
		errorBackoff:  defaultErrorBackoff,
		startTimeout:  defaultStartTimeout,
		stopTimeout:   defaultStopTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddExperiment appends a job. If its batch is known the job joins it.
func (q *Queue) AddExperiment(job *model.Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	if b := q.batches[job.BatchID]; job.BatchID != "" && b != nil {
		b.Jobs = append(b.Jobs, job)
	}
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.logger.Info("experiment queued", "job_id", job.ID, "batch_id", job.BatchID, "priority", job.Priority)
}

// AddBatch registers a batch and queues all of its jobs.
func (q *Queue) AddBatch(batch *model.Batch) {
	q.mu.Lock()
	q.batches[batch.ID] = batch
	for _, j := range batch.Jobs {
		j.BatchID = batch.ID
		q.jobs = append(q.jobs, j)
	}
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.logger.Info("batch queued", "batch_id", batch.ID, "experiments", len(batch.Jobs))
}

// HasBatch reports whether a batch id is registered.
func (q *Queue) HasBatch(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.batches[id]
	return ok
}

// RemoveExperiment drops a job from the queue and its batch. A running job
// has its context cancelled; the runner is expected to notice. Returns false
// when the id is unknown.
func (q *Queue) RemoveExperiment(id string) bool {
	q.mu.Lock()

	idx := -1
	for i, j := range q.jobs {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}

	job := q.jobs[idx]
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)

	prev := job.Status
	if !prev.IsTerminal() {
		now := time.Now()
		job.Status = model.JobStatusCancelled
		job.CompletedAt = &now
	}

	if e, ok := q.running[id]; ok {
		delete(q.running, id)
		e.cancel()
	}

	if b := q.batches[job.BatchID]; b != nil && b.RemoveJob(id) {
		// Keep counters consistent with the shrunken job list.
		switch prev {
		case model.JobStatusCompleted:
			b.Completed--
		case model.JobStatusFailed:
			b.Failed--
		}
	}
	batchID := job.BatchID
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.logger.Info("experiment removed", "job_id", id, "batch_id", batchID, "previous_status", prev)
	if !prev.IsTerminal() {
		q.recorder.jobFinished(model.JobStatusCancelled, 0)
		q.notifyError(id, batchID, "Experiment cancelled")
	}
	return true
}

// CancelBatch removes every pending or running job of a batch.
func (q *Queue) CancelBatch(id string) (int, bool) {
	q.mu.Lock()
	b, ok := q.batches[id]
	if !ok {
		q.mu.Unlock()
		return 0, false
	}
	var ids []string
	for _, j := range b.Jobs {
		if j.Status == model.JobStatusPending || j.Status == model.JobStatusRunning {
			ids = append(ids, j.ID)
		}
	}
	q.mu.Unlock()

	cancelled := 0
	for _, jobID := range ids {
		if q.RemoveExperiment(jobID) {
			cancelled++
		}
	}
	q.logger.Info("batch cancelled", "batch_id", id, "cancelled", cancelled)
	return cancelled, true
}

// NextPending returns a copy of the job that would be dispatched next.
func (q *Queue) NextPending() *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.nextPendingLocked()
	if j == nil {
		return nil
	}
	c := j.Clone()
	return &c
}

// nextPendingLocked picks the lowest priority number, then the earliest
// creation time. Equal keys keep submission order.
func (q *Queue) nextPendingLocked() *model.Job {
	var best *model.Job
	for _, j := range q.jobs {
		if j.Status != model.JobStatusPending {
			continue
		}
		if best == nil || dispatchesBefore(j, best) {
			best = j
		}
	}
	return best
}

func dispatchesBefore(a, b *model.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Start launches the scheduling loop. A loop left over from an earlier
// Start is asked to exit first.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.status == model.QueueStatusRunning {
		q.mu.Unlock()
		q.logger.Warn("queue already running")
		return
	}
	prev := q.loop
	cur := newLoop()
	q.loop = cur
	q.status = model.QueueStatusRunning
	q.mu.Unlock()

	if prev != nil {
		prev.signal()
		select {
		case <-prev.done:
		case <-time.After(q.startTimeout):
			q.logger.Warn("previous scheduler loop did not exit in time", "timeout", q.startTimeout)
		}
	}

	go q.run(cur)
	q.logger.Info("queue started", "max_concurrent", q.maxConcurrent)
}

// Stop halts dispatching and waits for the loop to exit. Running jobs keep
// going. Calling Stop more than once is harmless.
func (q *Queue) Stop() {
	q.mu.Lock()
	l := q.loop
	q.status = model.QueueStatusStopped
	q.mu.Unlock()

	if l == nil {
		return
	}
	l.signal()
	select {
	case <-l.done:
	case <-time.After(q.stopTimeout):
		q.logger.Warn("scheduler loop did not exit in time", "timeout", q.stopTimeout)
	}
	q.logger.Info("queue stopped")
}

// Pause stops new dispatches while running jobs finish.
func (q *Queue) Pause() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status != model.QueueStatusRunning {
		return false
	}
	q.status = model.QueueStatusPaused
	q.logger.Info("queue paused")
	return true
}

// Resume continues a paused queue.
func (q *Queue) Resume() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status != model.QueueStatusPaused {
		return false
	}
	q.status = model.QueueStatusRunning
	q.logger.Info("queue resumed")
	return true
}

// State returns the queue status.
func (q *Queue) State() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Shutdown stops the loop, cancels running jobs and waits for their
// goroutines until ctx expires.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.Stop()

	q.mu.Lock()
	for _, e := range q.running {
		e.cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running experiments: %w", ctx.Err())
	}
}

func (q *Queue) run(l *loop) {
	defer close(l.done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		wait := q.pollInterval
		if err := q.tick(); err != nil {
			q.logger.Error("scheduler iteration failed", "error", err, "backoff", q.errorBackoff)
			wait = q.errorBackoff
		}

		timer.Reset(wait)
		select {
		case <-l.stop:
			return
		case <-timer.C:
		}
	}
}

// tick dispatches at most one job.
func (q *Queue) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler panic: %v", r)
		}
	}()

	q.mu.Lock()
	if q.status != model.QueueStatusRunning || len(q.running) >= q.maxConcurrent {
		q.mu.Unlock()
		return nil
	}
	job := q.nextPendingLocked()
	if job == nil {
		q.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	e := &entry{job: job, cancel: cancel}
	q.running[job.ID] = e
	snapshot := job.Clone()
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.recorder.jobStarted()
	q.logger.Info("starting experiment", "job_id", snapshot.ID, "batch_id", snapshot.BatchID, "name", snapshot.Name)
	q.notifyProgress(snapshot.ID, snapshot.BatchID, snapshot.Progress, model.JobStatusRunning)

	q.workers.Add(1)
	go q.execute(ctx, e, snapshot)
	return nil
}

func (q *Queue) execute(ctx context.Context, e *entry, job model.Job) {
	defer q.workers.Done()
	defer e.cancel()

	out, err := q.invoke(ctx, e, job)
	q.complete(e, out, err)
}

func (q *Queue) invoke(ctx context.Context, e *entry, job model.Job) (out *model.RunOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return q.runner.Run(ctx, job.ID, job.Config, func(p int) { q.progress(e, p) })
}

func (q *Queue) progress(e *entry, p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	q.mu.Lock()
	if q.running[e.job.ID] != e || p <= e.job.Progress {
		q.mu.Unlock()
		return
	}
	e.job.Progress = p
	id, batchID := e.job.ID, e.job.BatchID
	q.mu.Unlock()

	q.notifyProgress(id, batchID, p, model.JobStatusRunning)
}

func (q *Queue) complete(e *entry, out *model.RunOutput, runErr error) {
	q.mu.Lock()
	if q.running[e.job.ID] != e {
		q.mu.Unlock()
		q.logger.Debug("ignoring completion of removed experiment", "job_id", e.job.ID)
		return
	}
	delete(q.running, e.job.ID)

	job := e.job
	now := time.Now()
	job.CompletedAt = &now

	batch := q.batches[job.BatchID]
	if runErr == nil {
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.ErrorMessage = ""
		if out != nil {
			job.ResultFiles = append([]string{}, out.OutputFiles...)
		}
		if batch != nil {
			batch.Completed++
		}
	} else {
		job.Status = model.JobStatusFailed
		job.ErrorMessage = runErr.Error()
		if batch != nil {
			batch.Failed++
		}
	}

	var (
		summary  model.BatchSnapshot
		finished bool
	)
	if batch != nil && !batch.SummaryGenerated && batch.Finished() {
		batch.SummaryGenerated = true
		summary = snapshotBatch(batch)
		finished = true
	}
	final := job.Clone()
	q.updateGaugesLocked()
	q.mu.Unlock()

	d, _ := final.Duration()
	q.recorder.jobFinished(final.Status, d)

	if final.Status == model.JobStatusCompleted {
		q.logger.Info("experiment completed", "job_id", final.ID, "batch_id", final.BatchID, "duration", d)
		q.notifyComplete(final.ID, final.BatchID, final.ResultFiles)
	} else {
		q.logger.Error("experiment failed", "job_id", final.ID, "batch_id", final.BatchID, "error", final.ErrorMessage)
		q.notifyError(final.ID, final.BatchID, final.ErrorMessage)
	}

	if finished {
		q.finishBatch(summary)
	}
}

// finishBatch runs once per batch, on the goroutine whose completion
// finished it.
func (q *Queue) finishBatch(b model.BatchSnapshot) {
	q.logger.Info("batch finished", "batch_id", b.ID, "status", b.Status,
		"completed", b.CompletedExperiments, "failed", b.FailedExperiments)

	if q.summary != nil {
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		if err := q.summary.WriteBatchSummary(ctx, b); err != nil {
			q.logger.Error("failed to write batch summary", "batch_id", b.ID, "error", err)
		}
		cancel()
	}
	if q.notifier != nil {
		q.notifier.NotifyBatchComplete(b.ID, b.Status)
	}
}

func (q *Queue) notifyProgress(jobID, batchID string, p int, s model.JobStatus) {
	if q.notifier != nil {
		q.notifier.NotifyProgress(jobID, batchID, p, s)
	}
}

func (q *Queue) notifyComplete(jobID, batchID string, files []string) {
	if q.notifier != nil {
		q.notifier.NotifyComplete(jobID, batchID, files)
	}
}

func (q *Queue) notifyError(jobID, batchID, msg string) {
	if q.notifier != nil {
		q.notifier.NotifyError(jobID, batchID, msg)
	}
}

func (q *Queue) updateGaugesLocked() {
	if q.recorder == nil {
		return
	}
	pending := 0
	for _, j := range q.jobs {
		if j.Status == model.JobStatusPending {
			pending++
		}
	}
	q.recorder.setGauges(len(q.running), pending)
}
