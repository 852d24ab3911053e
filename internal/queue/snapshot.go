package queue

import (
	"math"
	"sort"

	"github.com/agentarena/api/internal/model"
)

// Status returns a point-in-time view of the queue.
func (q *Queue) Status() model.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := model.QueueSnapshot{
		QueueStatus:        q.status,
		TotalExperiments:   len(q.jobs),
		MaxConcurrent:      q.maxConcurrent,
		Batches:            len(q.batches),
		RunningExperiments: []model.Job{},
		NextUp:             []model.Job{},
	}

	var pending []*model.Job
	for _, j := range q.jobs {
		switch j.Status {
		case model.JobStatusPending:
			s.Pending++
			pending = append(pending, j)
		case model.JobStatusRunning:
			s.Running++
			s.RunningExperiments = append(s.RunningExperiments, j.Clone())
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		case model.JobStatusCancelled:
			s.Cancelled++
		}
	}

	sort.SliceStable(pending, func(a, b int) bool {
		return dispatchesBefore(pending[a], pending[b])
	})
	for i := 0; i < len(pending) && i < nextUpLimit; i++ {
		s.NextUp = append(s.NextUp, pending[i].Clone())
	}
	return s
}

// Experiment returns a copy of one job.
func (q *Queue) Experiment(id string) (model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.ID == id {
			return j.Clone(), true
		}
	}
	return model.Job{}, false
}

// Experiments returns copies of every job in submission order.
func (q *Queue) Experiments() []model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Clone()
	}
	return out
}

// BatchStatus returns a view of one batch.
func (q *Queue) BatchStatus(id string) (model.BatchSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.batches[id]
	if !ok {
		return model.BatchSnapshot{}, false
	}
	return snapshotBatch(b), true
}

// Batches returns every batch, oldest first.
func (q *Queue) Batches() []model.BatchSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.BatchSnapshot, 0, len(q.batches))
	for _, b := range q.batches {
		out = append(out, snapshotBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Metrics derives utilisation and success figures.
func (q *Queue) Metrics() model.QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	var m model.QueueMetrics
	m.QueueStatus = q.status

	for _, j := range q.jobs {
		m.Experiments.Total++
		switch j.Status {
		case model.JobStatusPending:
			m.Experiments.Pending++
		case model.JobStatusRunning:
			m.Experiments.Running++
		case model.JobStatusCompleted:
			m.Experiments.Completed++
		case model.JobStatusFailed:
			m.Experiments.Failed++
		}
	}

	running := len(q.running)
	processed := m.Experiments.Completed + m.Experiments.Failed
	m.Queue.MaxConcurrent = q.maxConcurrent
	m.Queue.CurrentRunning = running
	m.Queue.TotalProcessed = processed
	if q.maxConcurrent > 0 {
		m.Queue.UtilizationPercentage = round2(float64(running) / float64(q.maxConcurrent) * 100)
	}
	m.Queue.SuccessRate = round2(float64(m.Experiments.Completed) / float64(max(1, processed)) * 100)

	for _, b := range q.batches {
		m.Batches.Total++
		switch b.Status() {
		case model.BatchStatusPending, model.BatchStatusRunning:
			m.Batches.Active++
		case model.BatchStatusCompleted:
			m.Batches.Completed++
		case model.BatchStatusCompletedWithFailures:
			m.Batches.Failed++
		}
	}
	return m
}

func snapshotBatch(b *model.Batch) model.BatchSnapshot {
	s := model.BatchSnapshot{
		ID:                   b.ID,
		Name:                 b.Name,
		Description:          b.Description,
		TemplateName:         b.TemplateName,
		CreatedAt:            b.CreatedAt,
		Status:               b.Status(),
		Progress:             b.Progress(),
		TotalExperiments:     b.Total(),
		CompletedExperiments: b.Completed,
		FailedExperiments:    b.Failed,
		Experiments:          make([]model.Job, len(b.Jobs)),
	}
	for i, j := range b.Jobs {
		s.Experiments[i] = j.Clone()
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
