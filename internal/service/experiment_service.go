package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/model"
	"github.com/agentarena/api/internal/queue"
)

// ErrInvalidRequest marks a request that passed struct validation but names
// something the service cannot run.
var ErrInvalidRequest = errors.New("invalid experiment request")

var ErrDomainNotFound = errors.New("domain not found")

// ExperimentService turns API requests into queued jobs.
type ExperimentService struct {
	queue     *queue.Queue
	catalogue *domain.Catalogue
	providers map[string]bool
	settings  Settings
	logger    *slog.Logger
}

// Settings are the experiment defaults applied to incoming requests.
type Settings struct {
	MaxTurns          int
	Temperature       float64
	EnableAdversarial bool
}

func NewExperimentService(q *queue.Queue, catalogue *domain.Catalogue, providers []string, settings Settings, logger *slog.Logger) *ExperimentService {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[string]bool, len(providers))
	for _, p := range providers {
		known[p] = true
	}
	if settings.Temperature == 0 {
		settings.Temperature = model.DefaultTemperature
	}
	return &ExperimentService{
		queue:     q,
		catalogue: catalogue,
		providers: known,
		settings:  settings,
		logger:    logger,
	}
}

// Start queues a single experiment, optionally into an existing batch.
func (s *ExperimentService) Start(ctx context.Context, req *model.ExperimentRequest) (*model.ExperimentResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.BatchID != "" && !s.queue.HasBatch(req.BatchID) {
		return nil, fmt.Errorf("%w: %s", queue.ErrBatchNotFound, req.BatchID)
	}

	job := s.newJob(req, req.BatchID)
	s.queue.AddExperiment(job)
	s.ensureRunning()

	return &model.ExperimentResponse{
		ExperimentID:             job.ID,
		Status:                   model.JobStatusPending,
		Message:                  fmt.Sprintf("Experiment '%s' queued successfully", req.Name),
		EstimatedDurationMinutes: job.EstimatedDurationMinutes,
	}, nil
}

// StartBatch queues every experiment of a batch. Nothing is queued unless
// all of them are valid.
func (s *ExperimentService) StartBatch(ctx context.Context, req *model.BatchRequest) (*model.BatchResponse, error) {
	for i := range req.Experiments {
		if err := s.check(&req.Experiments[i]); err != nil {
			return nil, fmt.Errorf("experiment %d: %w", i+1, err)
		}
	}

	batch := model.NewBatch(uuid.New().String(), req.Name, req.Description, req.TemplateName)
	for i := range req.Experiments {
		batch.Jobs = append(batch.Jobs, s.newJob(&req.Experiments[i], batch.ID))
	}
	s.queue.AddBatch(batch)
	s.ensureRunning()

	return &model.BatchResponse{
		BatchID:          batch.ID,
		Name:             req.Name,
		TotalExperiments: len(batch.Jobs),
		Status:           model.JobStatusPending,
		Message:          fmt.Sprintf("Batch '%s' queued successfully with %d experiments", req.Name, len(batch.Jobs)),
	}, nil
}

// check validates what struct tags cannot: the domain and the providers.
func (s *ExperimentService) check(req *model.ExperimentRequest) error {
	d, ok := s.catalogue.Get(req.Domain)
	if !ok {
		return fmt.Errorf("%w: domain '%s' not found", ErrInvalidRequest, req.Domain)
	}
	if !d.Enabled {
		return fmt.Errorf("%w: domain '%s' is disabled", ErrInvalidRequest, req.Domain)
	}

	var invalid []string
	for _, m := range req.Models {
		if !s.providers[m] {
			invalid = append(invalid, m)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: invalid models: %v", ErrInvalidRequest, invalid)
	}

	if req.Adversarial && req.ExperimentType == model.ExperimentTypeSingle {
		return fmt.Errorf("%w: adversarial mode needs a dual or consensus experiment", ErrInvalidRequest)
	}
	if req.Adversarial && !s.settings.EnableAdversarial {
		return fmt.Errorf("%w: adversarial experiments are disabled", ErrInvalidRequest)
	}
	return nil
}

func (s *ExperimentService) newJob(req *model.ExperimentRequest, batchID string) *model.Job {
	strategy := req.ContextStrategy
	if strategy == "" {
		strategy = model.ContextFirstTurnOnly
	}
	temperature := s.settings.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTurns := req.MaxTurns
	if maxTurns == 0 {
		maxTurns = s.settings.MaxTurns
	}

	id := uuid.New().String()
	cfg := map[string]interface{}{
		"experiment_id":              id,
		"domain":                     req.Domain,
		"experiment_type":            string(req.ExperimentType),
		"models":                     append([]string(nil), req.Models...),
		"context_injection_strategy": string(strategy),
		"adversarial":                req.Adversarial,
		"temperature":                temperature,
		"num_articles":               req.NumArticles,
		"max_turns":                  maxTurns,
	}
	if req.DatasetPath != "" {
		cfg["dataset_path"] = req.DatasetPath
	}
	if req.DatasetContent != "" {
		cfg["dataset_content"] = req.DatasetContent
	}

	return model.NewJob(id, batchID, req.Name, cfg, req.Priority)
}

// ensureRunning starts a stopped queue. A paused queue stays paused.
func (s *ExperimentService) ensureRunning() {
	if s.queue.State() == model.QueueStatusStopped {
		s.logger.Info("starting stopped queue for new work")
		s.queue.Start()
	}
}

// List returns a summary of every queued experiment.
func (s *ExperimentService) List() []model.ExperimentSummary {
	jobs := s.queue.Experiments()
	out := make([]model.ExperimentSummary, len(jobs))
	for i, j := range jobs {
		domainName, _ := j.Config["domain"].(string)
		typ, _ := j.Config["experiment_type"].(string)
		out[i] = model.ExperimentSummary{
			ID:             j.ID,
			Name:           j.Name,
			Status:         j.Status,
			Progress:       j.Progress,
			CreatedAt:      j.CreatedAt,
			Domain:         domainName,
			ExperimentType: typ,
		}
	}
	return out
}

// Status returns one experiment with its inline dataset left out.
func (s *ExperimentService) Status(id string) (model.Job, error) {
	job, ok := s.queue.Experiment(id)
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", queue.ErrExperimentNotFound, id)
	}
	if _, ok := job.Config["dataset_content"]; ok {
		cfg := make(map[string]interface{}, len(job.Config))
		for k, v := range job.Config {
			if k != "dataset_content" {
				cfg[k] = v
			}
		}
		job.Config = cfg
	}
	return job, nil
}

// Cancel removes an experiment from the queue.
func (s *ExperimentService) Cancel(id string) error {
	if !s.queue.RemoveExperiment(id) {
		return fmt.Errorf("%w: %s", queue.ErrExperimentNotFound, id)
	}
	return nil
}

// CancelBatch removes the unfinished experiments of a batch.
func (s *ExperimentService) CancelBatch(id string) (*model.CancelBatchResponse, error) {
	n, ok := s.queue.CancelBatch(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrBatchNotFound, id)
	}
	return &model.CancelBatchResponse{
		Message:              fmt.Sprintf("Batch %s cancelled", id),
		CancelledExperiments: n,
	}, nil
}

// Batch returns one batch.
func (s *ExperimentService) Batch(id string) (model.BatchSnapshot, error) {
	b, ok := s.queue.BatchStatus(id)
	if !ok {
		return model.BatchSnapshot{}, fmt.Errorf("%w: %s", queue.ErrBatchNotFound, id)
	}
	return b, nil
}

// Batches returns every batch.
func (s *ExperimentService) Batches() []model.BatchSnapshot {
	return s.queue.Batches()
}

// QueueStatus returns the queue snapshot.
func (s *ExperimentService) QueueStatus() model.QueueSnapshot {
	return s.queue.Status()
}

// QueueMetrics returns the derived queue metrics.
func (s *ExperimentService) QueueMetrics() model.QueueMetrics {
	return s.queue.Metrics()
}

// StartQueue starts the scheduler. It reports false when it was already running.
func (s *ExperimentService) StartQueue() bool {
	if s.queue.State() == model.QueueStatusRunning {
		return false
	}
	s.queue.Start()
	return true
}

func (s *ExperimentService) StopQueue() {
	s.queue.Stop()
}

func (s *ExperimentService) PauseQueue() bool {
	return s.queue.Pause()
}

func (s *ExperimentService) ResumeQueue() bool {
	return s.queue.Resume()
}

// Domains lists the catalogue.
func (s *ExperimentService) Domains() []domain.Domain {
	names := s.catalogue.Names()
	out := make([]domain.Domain, 0, len(names))
	for _, name := range names {
		if d, ok := s.catalogue.Get(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// ToggleDomain enables or disables a domain.
func (s *ExperimentService) ToggleDomain(name string, enabled bool) error {
	if _, ok := s.catalogue.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}
	if err := s.catalogue.SetEnabled(name, enabled); err != nil {
		return err
	}
	s.logger.Info("domain toggled", "domain", name, "enabled", enabled)
	return nil
}
