package model

import "time"

// Job is one queued unit of experiment work.
type Job struct {
	ID                       string                 `json:"id"`
	BatchID                  string                 `json:"batchId,omitempty"`
	Name                     string                 `json:"name"`
	Config                   map[string]interface{} `json:"config"`
	Priority                 int                    `json:"priority"` // 1=highest, 10=lowest
	Status                   JobStatus              `json:"status"`
	Progress                 int                    `json:"progress"`
	ErrorMessage             string                 `json:"errorMessage,omitempty"`
	ResultFiles              []string               `json:"resultFiles"`
	EstimatedDurationMinutes int                    `json:"estimatedDurationMinutes"`
	CreatedAt                time.Time              `json:"createdAt"`
	StartedAt                *time.Time             `json:"startedAt,omitempty"`
	CompletedAt              *time.Time             `json:"completedAt,omitempty"`
}

// NewJob returns a pending job with defaults applied.
func NewJob(id, batchID, name string, config map[string]interface{}, priority int) *Job {
	if priority == 0 {
		priority = DefaultPriority
	}
	return &Job{
		ID:                       id,
		BatchID:                  batchID,
		Name:                     name,
		Config:                   config,
		Priority:                 priority,
		Status:                   JobStatusPending,
		ResultFiles:              []string{},
		EstimatedDurationMinutes: DefaultEstimatedDurationMinutes,
		CreatedAt:                time.Now(),
	}
}

// Clone returns a copy that shares nothing mutable with j.
func (j *Job) Clone() Job {
	c := *j
	c.ResultFiles = append([]string(nil), j.ResultFiles...)
	if j.Config != nil {
		c.Config = make(map[string]interface{}, len(j.Config))
		for k, v := range j.Config {
			c.Config[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Duration is the wall time between start and completion, if both are known.
func (j *Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

// Batch is a named group of jobs tracked together.
type Batch struct {
	ID           string
	Name         string
	Description  string
	TemplateName string
	CreatedAt    time.Time
	Jobs         []*Job
	Completed    int
	Failed       int

	// SummaryGenerated is set once the batch report has been claimed.
	SummaryGenerated bool
}

// NewBatch returns an empty batch.
func NewBatch(id, name, description, templateName string) *Batch {
	return &Batch{
		ID:           id,
		Name:         name,
		Description:  description,
		TemplateName: templateName,
		CreatedAt:    time.Now(),
	}
}

// Total is the number of jobs currently attached to the batch.
// It is derived from the job list so removals cannot drift it.
func (b *Batch) Total() int {
	return len(b.Jobs)
}

// Finished reports whether every attached job has reached completion or failure.
func (b *Batch) Finished() bool {
	return b.Completed+b.Failed >= b.Total()
}

// Progress returns (completed+failed)/total in [0,1].
func (b *Batch) Progress() float64 {
	total := b.Total()
	if total == 0 {
		return 0.0
	}
	p := float64(b.Completed+b.Failed) / float64(total)
	if p > 1.0 {
		return 1.0
	}
	return p
}

// Status derives the batch status from counters and job states.
func (b *Batch) Status() BatchStatus {
	total := b.Total()
	switch {
	case b.Failed > 0 && b.Completed+b.Failed == total:
		return BatchStatusCompletedWithFailures
	case b.Completed == total:
		return BatchStatusCompleted
	}

	hasPending := false
	for _, j := range b.Jobs {
		if j.Status == JobStatusRunning {
			return BatchStatusRunning
		}
		if j.Status == JobStatusPending {
			hasPending = true
		}
	}
	if hasPending {
		return BatchStatusPending
	}
	return BatchStatusUnknown
}

// RemoveJob detaches a job by id. It reports whether the job was attached.
func (b *Batch) RemoveJob(id string) bool {
	for i, j := range b.Jobs {
		if j.ID == id {
			b.Jobs = append(b.Jobs[:i], b.Jobs[i+1:]...)
			return true
		}
	}
	return false
}

// RunOutput is what a runner hands back for a finished job.
type RunOutput struct {
	Results     []map[string]interface{} `json:"results"`
	Metadata    map[string]interface{}   `json:"metadata"`
	Metrics     map[string]interface{}   `json:"metrics"`
	OutputFiles []string                 `json:"outputFiles"`
}
