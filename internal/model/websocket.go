package model

// WebSocket message types
const (
	WSMessageTypeProgress      = "progress"
	WSMessageTypeComplete      = "complete"
	WSMessageTypeError         = "error"
	WSMessageTypeBatchComplete = "batch_complete"
	WSMessageTypePing          = "ping"
	WSMessageTypePong          = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type     string    `json:"type"`
	JobID    string    `json:"jobId"`
	BatchID  string    `json:"batchId,omitempty"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type        string   `json:"type"`
	JobID       string   `json:"jobId"`
	BatchID     string   `json:"batchId,omitempty"`
	ResultFiles []string `json:"resultFiles"`
}

// WSErrorMessage represents a job failure
type WSErrorMessage struct {
	Type    string  `json:"type"`
	JobID   string  `json:"jobId"`
	BatchID string  `json:"batchId,omitempty"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSBatchCompleteMessage is sent to batch subscribers once every job has finished
type WSBatchCompleteMessage struct {
	Type    string      `json:"type"`
	BatchID string      `json:"batchId"`
	Status  BatchStatus `json:"status"`
}
