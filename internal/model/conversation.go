package model

import "time"

// ConversationTurn is one model's contribution within a round.
type ConversationTurn struct {
	TurnNumber  int                    `json:"turnNumber"`
	Model       string                 `json:"model"`
	IsAdversary bool                   `json:"isAdversary"`
	Response    string                 `json:"response"`
	Metrics     map[string]interface{} `json:"metrics"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ConversationResult is the full outcome for one dataset item.
type ConversationResult struct {
	ArticleID       string                 `json:"articleId"`
	ExperimentType  ExperimentType         `json:"experimentType"`
	Models          []string               `json:"models"`
	Adversarial     bool                   `json:"adversarial"`
	Turns           []ConversationTurn     `json:"turns"`
	FinalMetrics    map[string]interface{} `json:"finalMetrics"`
	AgreementScores map[string]float64     `json:"agreementScores"`
	InfluenceScores map[string]float64     `json:"influenceScores"`
}
