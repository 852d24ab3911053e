package runner

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Uploader mirrors artifacts to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
}

// ArtifactDir is where a job's files are written.
func ArtifactDir(resultsDir, jobID string) string {
	return filepath.Join(resultsDir, "experiments", jobID)
}

func (r *Runner) writeArtifacts(ctx context.Context, jobID string, results []map[string]interface{}, metadata, metrics map[string]interface{}) ([]string, error) {
	dir := ArtifactDir(r.opts.ResultsDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	csvData, err := encodeResultsCSV(results)
	if err != nil {
		return nil, err
	}
	metricsData, err := json.MarshalIndent(map[string]interface{}{
		"metadata": metadata,
		"metrics":  metrics,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	artifacts := []struct {
		name        string
		data        []byte
		contentType string
	}{
		{jobID + "_results.csv", csvData, "text/csv"},
		{jobID + "_metrics.json", metricsData, "application/json"},
	}

	files := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		target := filepath.Join(dir, a.name)
		if err := os.WriteFile(target, a.data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", a.name, err)
		}
		files = append(files, target)

		if r.opts.Uploader != nil {
			key := path.Join("experiments", jobID, a.name)
			if _, err := r.opts.Uploader.Upload(ctx, key, bytes.NewReader(a.data), a.contentType); err != nil {
				r.logger.Warn("artifact upload failed", "job_id", jobID, "key", key, "error", err)
			}
		}
	}
	return files, nil
}

// encodeResultsCSV writes one line per row over the union of row keys,
// sorted with _row_id first.
func encodeResultsCSV(results []map[string]interface{}) ([]byte, error) {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range results {
		for k := range row {
			if !seen[k] && k != RowIDKey {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	columns = append([]string{RowIDKey}, columns...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range results {
		for i, col := range columns {
			record[i] = formatCell(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case map[string]float64, map[string]interface{}, []string, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

// summaryMetrics aggregates confidence and classification per model.
func summaryMetrics(results []map[string]interface{}, models []string, now time.Time) map[string]interface{} {
	perModel := make(map[string]interface{}, len(models))
	for _, m := range models {
		var (
			scores          []float64
			classifications = map[string]int{}
			processed       int
		)
		for _, row := range results {
			if v, ok := row[m+"_confidence"]; ok {
				if f, ok := toFloat(v); ok {
					scores = append(scores, f)
				}
			}
			if v, ok := row[m+"_classification"]; ok && v != "error" {
				processed++
				classifications[fmt.Sprint(v)]++
			}
		}

		stats := map[string]interface{}{
			"total_processed": processed,
			"success_rate":    0.0,
			"avg_confidence":  0.0,
			"min_confidence":  0.0,
			"max_confidence":  0.0,
			"classifications": classifications,
		}
		if len(results) > 0 {
			stats["success_rate"] = float64(processed) / float64(len(results))
		}
		if len(scores) > 0 {
			lo, hi, sum := scores[0], scores[0], 0.0
			for _, s := range scores {
				sum += s
				lo = min(lo, s)
				hi = max(hi, s)
			}
			stats["avg_confidence"] = sum / float64(len(scores))
			stats["min_confidence"] = lo
			stats["max_confidence"] = hi
		}
		perModel[m] = stats
	}

	return map[string]interface{}{
		"overview": map[string]interface{}{
			"total_rows":   len(results),
			"models_used":  models,
			"processed_at": now.Format(time.RFC3339),
		},
		"model_metrics": perModel,
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
