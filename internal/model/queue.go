package model

import "time"

// QueueSnapshot is a point-in-time view of the queue for polling clients.
type QueueSnapshot struct {
	QueueStatus        QueueStatus `json:"queueStatus"`
	TotalExperiments   int         `json:"totalExperiments"`
	Pending            int         `json:"pending"`
	Running            int         `json:"running"`
	Completed          int         `json:"completed"`
	Failed             int         `json:"failed"`
	Cancelled          int         `json:"cancelled"`
	MaxConcurrent      int         `json:"maxConcurrent"`
	Batches            int         `json:"batches"`
	RunningExperiments []Job       `json:"runningExperiments"`
	NextUp             []Job       `json:"nextUp"`
}

// BatchSnapshot is a point-in-time view of one batch.
type BatchSnapshot struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	TemplateName         string      `json:"templateName,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	Status               BatchStatus `json:"status"`
	Progress             float64     `json:"progress"`
	TotalExperiments     int         `json:"totalExperiments"`
	CompletedExperiments int         `json:"completedExperiments"`
	FailedExperiments    int         `json:"failedExperiments"`
	Experiments          []Job       `json:"experiments"`
}

// QueueMetrics is the derived utilisation report.
type QueueMetrics struct {
	Queue struct {
		UtilizationPercentage float64 `json:"utilizationPercentage"`
		MaxConcurrent         int     `json:"maxConcurrent"`
		CurrentRunning        int     `json:"currentRunning"`
		TotalProcessed        int     `json:"totalProcessed"`
		SuccessRate           float64 `json:"successRate"`
	} `json:"queueMetrics"`
	Experiments struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"experimentStats"`
	Batches struct {
		Total     int `json:"totalBatches"`
		Active    int `json:"activeBatches"`
		Completed int `json:"completedBatches"`
		Failed    int `json:"failedBatches"`
	} `json:"batchStats"`
	QueueStatus QueueStatus `json:"queueStatus"`
}
