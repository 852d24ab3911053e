// Package runner executes one experiment job: it loads the dataset, runs a
// conversation per row and writes the result artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentarena/api/internal/conversation"
	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/model"
)

var (
	ErrNoBackends     = errors.New("No API clients available")
	ErrUnknownDomain  = errors.New("unknown domain")
	ErrDomainDisabled = errors.New("domain is disabled")
)

// reasoningLimit bounds the <model>_reasoning column.
const reasoningLimit = 200

// Backends resolves configured model providers.
type Backends interface {
	Available() []string
	WithTemperature(t float64) conversation.BackendResolver
}

// Options tune a Runner. Zero values fall back to the defaults noted.
type Options struct {
	ResultsDir         string
	DatasetsDir        string
	MaxRows            int     // DefaultMaxRows
	RowConcurrency     int     // 1
	DefaultMaxTurns    int     // conversation.DefaultMaxTurns
	DefaultTemperature float64 // model.DefaultTemperature
	EnableAdversarial  bool
	Uploader           Uploader
}

// Runner is the collaborator the queue invokes for each job.
type Runner struct {
	backends  Backends
	catalogue *domain.Catalogue
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a runner.
func New(backends Backends, catalogue *domain.Catalogue, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.RowConcurrency <= 0 {
		opts.RowConcurrency = 1
	}
	if opts.DefaultMaxTurns <= 0 {
		opts.DefaultMaxTurns = conversation.DefaultMaxTurns
	}
	if opts.DefaultTemperature == 0 {
		opts.DefaultTemperature = model.DefaultTemperature
	}
	return &Runner{
		backends:  backends,
		catalogue: catalogue,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// plan is a validated job ready to execute.
type plan struct {
	jobID    string
	cfg      *ExperimentConfig
	domain   domain.Domain
	models   []string
	strategy model.ContextStrategy
	maxTurns int
	engine   *conversation.Engine
}

// Run executes the job described by raw. progress receives non-decreasing
// values from 0 to 100.
func (r *Runner) Run(ctx context.Context, jobID string, raw map[string]interface{}, progress func(int)) (*model.RunOutput, error) {
	if progress == nil {
		progress = func(int) {}
	}
	logger := r.logger.With("job_id", jobID)

	p, err := r.prepare(jobID, raw)
	if err != nil {
		return nil, err
	}

	rows, err := LoadDataset(p.cfg.DatasetContent, p.cfg.DatasetPath, r.opts.DatasetsDir, r.opts.MaxRows)
	if err != nil {
		return nil, err
	}
	total := len(rows)
	if p.cfg.NumArticles > 0 && p.cfg.NumArticles < len(rows) {
		rows = rows[:p.cfg.NumArticles]
	}

	logger.Info("running experiment",
		"domain", p.domain.Name,
		"type", p.cfg.ExperimentType,
		"models", p.models,
		"rows", len(rows),
		"adversarial", p.cfg.Adversarial)

	results, err := r.processRows(ctx, p, rows, progress, logger)
	if err != nil {
		return nil, err
	}

	metrics := summaryMetrics(results, p.models, r.now())
	metadata := map[string]interface{}{
		"experiment_id":         p.cfg.ExperimentID,
		"config":                p.cfg.Echo(),
		"domain_config":         map[string]interface{}{"name": p.domain.Name, "enabled": p.domain.Enabled},
		"generated_at":          r.now().Format(time.RFC3339),
		"total_results":         len(results),
		"total_rows_in_dataset": total,
		"models_used":           p.models,
		"experiment_type":       string(p.cfg.ExperimentType),
		"domain":                p.domain.Name,
	}

	files, err := r.writeArtifacts(ctx, jobID, results, metadata, metrics)
	if err != nil {
		return nil, err
	}

	logger.Info("experiment finished", "results", len(results), "rows", len(rows))
	return &model.RunOutput{
		Results:     results,
		Metadata:    metadata,
		Metrics:     metrics,
		OutputFiles: files,
	}, nil
}

func (r *Runner) prepare(jobID string, raw map[string]interface{}) (*plan, error) {
	cfg, err := DecodeConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.ExperimentID == "" {
		cfg.ExperimentID = jobID
	}

	d, ok := r.catalogue.Get(cfg.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, cfg.Domain)
	}
	if !d.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDomainDisabled, cfg.Domain)
	}

	available := r.backends.Available()
	if len(available) == 0 {
		return nil, ErrNoBackends
	}
	configured := make(map[string]bool, len(available))
	for _, name := range available {
		configured[name] = true
	}
	var models []string
	for _, m := range cfg.Models {
		if configured[m] {
			models = append(models, m)
		} else {
			r.logger.Warn("model has no configured backend, skipping", "job_id", jobID, "model", m)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w for models %v", ErrNoBackends, cfg.Models)
	}

	if cfg.Adversarial && !r.opts.EnableAdversarial {
		r.logger.Warn("adversarial experiments are disabled, running cooperatively", "job_id", jobID)
		cfg.Adversarial = false
	}

	strategy := cfg.ContextStrategy
	if strategy == "" {
		strategy = model.ContextStrategy(d.ContextStrategy)
	}
	if !validStrategy(strategy) {
		strategy = model.ContextFirstTurnOnly
	}
	cfg.ContextStrategy = strategy

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.opts.DefaultMaxTurns
	}
	temperature := r.opts.DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	return &plan{
		jobID:    jobID,
		cfg:      cfg,
		domain:   d,
		models:   models,
		strategy: strategy,
		maxTurns: maxTurns,
		engine:   conversation.NewEngine(r.backends.WithTemperature(temperature), r.catalogue.PromptsFor(d.Name), r.logger),
	}, nil
}

// processRows fans rows out over a bounded errgroup. Row failures are
// recorded on the row; only cancellation aborts the run.
func (r *Runner) processRows(ctx context.Context, p *plan, rows []Row, progress func(int), logger *slog.Logger) ([]map[string]interface{}, error) {
	progress(0)

	slots := make([]map[string]interface{}, len(rows))
	var (
		mu   sync.Mutex
		done int
		last int
	)

	var g errgroup.Group
	g.SetLimit(r.opts.RowConcurrency)
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		i, row := i, row
		g.Go(func() error {
			slots[i] = r.processRow(ctx, p, row, logger)

			mu.Lock()
			defer mu.Unlock()
			done++
			if pct := done * 100 / len(rows); pct > last {
				last = pct
				progress(pct)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(100)

	results := make([]map[string]interface{}, 0, len(slots))
	for _, res := range slots {
		if res != nil {
			results = append(results, res)
		}
	}
	return results, nil
}

func (r *Runner) processRow(ctx context.Context, p *plan, row Row, logger *slog.Logger) map[string]interface{} {
	content := ExtractContent(row, p.domain)
	if content == "" {
		logger.Warn("skipping row without content", "row", row[RowIDKey])
		return nil
	}

	result := make(map[string]interface{}, len(row)+8)
	for k, v := range row {
		result[k] = v
	}
	if id, err := strconv.Atoi(row[RowIDKey]); err == nil {
		result[RowIDKey] = id
	}
	result["_experiment_id"] = p.cfg.ExperimentID
	result["_processed_at"] = r.now().Format(time.RFC3339)
	result["_experiment_type"] = string(p.cfg.ExperimentType)

	req := conversation.Request{
		ArticleID:   row[RowIDKey],
		Text:        content,
		Type:        p.cfg.ExperimentType,
		Adversarial: p.cfg.Adversarial,
		Strategy:    p.strategy,
		MaxTurns:    p.maxTurns,
	}

	if p.cfg.ExperimentType == model.ExperimentTypeSingle {
		for _, m := range p.models {
			req.Models = []string{m}
			res, err := p.engine.Run(ctx, req)
			if err != nil {
				logger.Error("row failed", "row", row[RowIDKey], "model", m, "error", err)
				recordError(result, m, err)
				continue
			}
			recordSingle(result, m, res)
		}
		return result
	}

	req.Models = p.models
	res, err := p.engine.Run(ctx, req)
	if err != nil {
		logger.Error("row failed", "row", row[RowIDKey], "error", err)
		for _, m := range p.models {
			recordError(result, m, err)
		}
		return result
	}
	for k, v := range res.FinalMetrics {
		result[k] = v
	}
	result["_turns"] = len(res.Turns)
	result["agreement_scores"] = res.AgreementScores
	result["influence_scores"] = res.InfluenceScores
	return result
}

func recordSingle(result map[string]interface{}, m string, res *model.ConversationResult) {
	metrics := res.FinalMetrics
	for k, v := range metrics {
		if k == conversation.FieldFullResponse {
			continue
		}
		result[m+"_"+k] = v
	}
	if len(res.Turns) > 0 {
		result[m+"_response"] = res.Turns[0].Response
	}
	result[m+"_confidence"] = metrics[conversation.FieldConfidence]
	result[m+"_classification"] = metrics[conversation.FieldClassification]

	reason, _ := metrics[conversation.FieldReason].(string)
	if r := []rune(reason); len(r) > reasoningLimit {
		reason = string(r[:reasoningLimit])
	}
	result[m+"_reasoning"] = reason
}

func recordError(result map[string]interface{}, m string, err error) {
	result[m+"_response"] = "ERROR: " + err.Error()
	result[m+"_confidence"] = 0.0
	result[m+"_classification"] = "error"
}
