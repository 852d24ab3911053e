package model

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Queue status
type QueueStatus string

const (
	QueueStatusStopped QueueStatus = "stopped"
	QueueStatusRunning QueueStatus = "running"
	QueueStatusPaused  QueueStatus = "paused"
)

// Batch status, derived from job counters
type BatchStatus string

const (
	BatchStatusPending               BatchStatus = "pending"
	BatchStatusRunning               BatchStatus = "running"
	BatchStatusCompleted             BatchStatus = "completed"
	BatchStatusCompletedWithFailures BatchStatus = "completed_with_failures"
	BatchStatusUnknown               BatchStatus = "unknown"
)

// Experiment types
type ExperimentType string

const (
	ExperimentTypeSingle    ExperimentType = "single"
	ExperimentTypeDual      ExperimentType = "dual"
	ExperimentTypeConsensus ExperimentType = "consensus"
)

var ValidExperimentTypes = []ExperimentType{
	ExperimentTypeSingle, ExperimentTypeDual, ExperimentTypeConsensus,
}

// Context injection strategies
type ContextStrategy string

const (
	ContextFirstTurnOnly    ContextStrategy = "first_turn_only"
	ContextAllTurns         ContextStrategy = "all_turns"
	ContextFirstAndLastTurn ContextStrategy = "first_and_last_turn"
)

var ValidContextStrategies = []ContextStrategy{
	ContextFirstTurnOnly, ContextAllTurns, ContextFirstAndLastTurn,
}

const (
	DefaultPriority                 = 5
	DefaultEstimatedDurationMinutes = 15
	DefaultTemperature              = 0.7
)
