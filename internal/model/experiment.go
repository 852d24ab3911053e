package model

import "time"

// ExperimentRequest represents the request to queue a single experiment
type ExperimentRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Domain          string          `json:"domain" validate:"required"`
	ExperimentType  ExperimentType  `json:"experimentType" validate:"required,oneof=single dual consensus"`
	Models          []string        `json:"models" validate:"required,min=1,max=3,dive,required"`
	ContextStrategy ContextStrategy `json:"contextStrategy" validate:"omitempty,oneof=first_turn_only all_turns first_and_last_turn"`
	Adversarial     bool            `json:"adversarial"`
	Temperature     *float64        `json:"temperature" validate:"omitempty,min=0,max=2"`
	MaxTurns        int             `json:"maxTurns" validate:"omitempty,min=1,max=10"`
	NumArticles     int             `json:"numArticles" validate:"omitempty,min=1"`
	Priority        int             `json:"priority" validate:"omitempty,min=1,max=10"`
	BatchID         string          `json:"batchId" validate:"omitempty,uuid"`
	DatasetPath     string          `json:"datasetPath"`
	DatasetContent  string          `json:"datasetContent"`
}

// BatchRequest represents the request to queue a batch of experiments
type BatchRequest struct {
	Name         string              `json:"name" validate:"required,max=200"`
	Description  string              `json:"description" validate:"max=2000"`
	TemplateName string              `json:"templateName"`
	Experiments  []ExperimentRequest `json:"experiments" validate:"required,min=1,dive"`
}

// ExperimentResponse is returned when an experiment is queued
type ExperimentResponse struct {
	ExperimentID             string    `json:"experimentId"`
	Status                   JobStatus `json:"status"`
	Message                  string    `json:"message"`
	EstimatedDurationMinutes int       `json:"estimatedDurationMinutes"`
}

// BatchResponse is returned when a batch is queued
type BatchResponse struct {
	BatchID          string    `json:"batchId"`
	Name             string    `json:"name"`
	TotalExperiments int       `json:"totalExperiments"`
	Status           JobStatus `json:"status"`
	Message          string    `json:"message"`
}

// ExperimentSummary is one entry of the experiment listing
type ExperimentSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	CreatedAt      time.Time `json:"createdAt"`
	Domain         string    `json:"domain"`
	ExperimentType string    `json:"experimentType"`
}

// CancelBatchResponse reports how many jobs a batch cancellation removed
type CancelBatchResponse struct {
	Message              string `json:"message"`
	CancelledExperiments int    `json:"cancelledExperiments"`
}
