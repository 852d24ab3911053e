package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/agentarena/api/internal/model"
)

// SummaryWriter persists the report for a finished batch.
type SummaryWriter interface {
	WriteBatchSummary(ctx context.Context, batch model.BatchSnapshot) error
}

// Uploader mirrors files to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
}

// FileSummaryWriter writes batch_summary.json under the results directory and
// optionally uploads the same document.
type FileSummaryWriter struct {
	ResultsDir string
	Uploader   Uploader
	Logger     *slog.Logger
	now        func() time.Time
}

// NewFileSummaryWriter creates a writer. uploader may be nil.
func NewFileSummaryWriter(resultsDir string, uploader Uploader, logger *slog.Logger) *FileSummaryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSummaryWriter{ResultsDir: resultsDir, Uploader: uploader, Logger: logger, now: time.Now}
}

type batchSummary struct {
	BatchInfo   summaryBatchInfo    `json:"batch_info"`
	Statistics  summaryStatistics   `json:"statistics"`
	Experiments []summaryExperiment `json:"experiments"`
	ResultFiles summaryResultFiles  `json:"result_files"`
}

type summaryBatchInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	TemplateName string    `json:"template_name"`
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

type summaryStatistics struct {
	TotalExperiments     int     `json:"total_experiments"`
	CompletedExperiments int     `json:"completed_experiments"`
	FailedExperiments    int     `json:"failed_experiments"`
	SuccessRate          float64 `json:"success_rate"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	TotalDurationMinutes float64 `json:"total_duration_minutes"`
}

type summaryExperiment struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	ExperimentType  string     `json:"experiment_type"`
	Adversarial     bool       `json:"adversarial"`
	ContextStrategy string     `json:"context_strategy"`
	Models          []string   `json:"models"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds"`
	ResultFiles     []string   `json:"result_files"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

type summaryResultFiles struct {
	CSVFiles     []string `json:"csv_files"`
	MetricsFiles []string `json:"metrics_files"`
}

// SummaryPath is where the summary for a batch is written.
func (w *FileSummaryWriter) SummaryPath(batchID string) string {
	return filepath.Join(w.ResultsDir, "batch_results", batchID, "batch_summary.json")
}

// WriteBatchSummary writes the summary file and uploads it when storage is
// configured. Both are attempted; their errors are combined.
func (w *FileSummaryWriter) WriteBatchSummary(ctx context.Context, b model.BatchSnapshot) error {
	data, err := json.MarshalIndent(w.build(b), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch summary: %w", err)
	}

	var result *multierror.Error

	target := w.SummaryPath(b.ID)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to create summary directory: %w", err))
	} else if err := os.WriteFile(target, data, 0o644); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to write batch summary: %w", err))
	} else {
		w.Logger.Info("batch summary written", "batch_id", b.ID, "path", target)
	}

	if w.Uploader != nil {
		key := path.Join("batch_results", b.ID, "batch_summary.json")
		url, err := w.Uploader.Upload(ctx, key, bytes.NewReader(data), "application/json")
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to upload batch summary: %w", err))
		} else {
			w.Logger.Info("batch summary uploaded", "batch_id", b.ID, "url", url)
		}
	}

	return result.ErrorOrNil()
}

func (w *FileSummaryWriter) build(b model.BatchSnapshot) batchSummary {
	s := batchSummary{
		BatchInfo: summaryBatchInfo{
			ID:           b.ID,
			Name:         b.Name,
			Description:  b.Description,
			TemplateName: b.TemplateName,
			CreatedAt:    b.CreatedAt,
			CompletedAt:  w.now(),
		},
		Experiments: make([]summaryExperiment, 0, len(b.Experiments)),
		ResultFiles: summaryResultFiles{CSVFiles: []string{}, MetricsFiles: []string{}},
	}

	var first, last time.Time
	for _, j := range b.Experiments {
		exp := summaryExperiment{
			ID:              j.ID,
			Name:            j.Name,
			Status:          string(j.Status),
			ExperimentType:  stringField(j.Config, "experiment_type"),
			Adversarial:     boolField(j.Config, "adversarial"),
			ContextStrategy: stringField(j.Config, "context_injection_strategy"),
			Models:          stringsField(j.Config, "models"),
			CreatedAt:       j.CreatedAt,
			StartedAt:       j.StartedAt,
			CompletedAt:     j.CompletedAt,
			ResultFiles:     j.ResultFiles,
			ErrorMessage:    j.ErrorMessage,
		}
		if d, ok := j.Duration(); ok {
			secs := d.Seconds()
			exp.DurationSeconds = &secs
		}
		s.Experiments = append(s.Experiments, exp)

		if j.StartedAt != nil && (first.IsZero() || j.StartedAt.Before(first)) {
			first = *j.StartedAt
		}
		if j.CompletedAt != nil && j.CompletedAt.After(last) {
			last = *j.CompletedAt
		}

		for _, f := range j.ResultFiles {
			if _, err := os.Stat(f); err != nil {
				continue
			}
			switch {
			case strings.HasSuffix(f, "_metrics.json"):
				s.ResultFiles.MetricsFiles = append(s.ResultFiles.MetricsFiles, f)
			case strings.HasSuffix(f, ".csv"):
				s.ResultFiles.CSVFiles = append(s.ResultFiles.CSVFiles, f)
			}
		}
	}

	s.Statistics = summaryStatistics{
		TotalExperiments:     b.TotalExperiments,
		CompletedExperiments: b.CompletedExperiments,
		FailedExperiments:    b.FailedExperiments,
	}
	if b.TotalExperiments > 0 {
		s.Statistics.SuccessRate = round2(float64(b.CompletedExperiments) / float64(b.TotalExperiments) * 100)
	}
	if !first.IsZero() && last.After(first) {
		d := last.Sub(first)
		s.Statistics.TotalDurationSeconds = round2(d.Seconds())
		s.Statistics.TotalDurationMinutes = round2(d.Minutes())
	}
	return s
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func stringsField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
