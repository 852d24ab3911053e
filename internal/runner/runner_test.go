package runner

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/api/internal/conversation"
	"github.com/agentarena/api/internal/domain"
)

const reply = "Bias: 20\nManipulative Framing: 30\nAgreement Score: 75\nReason: well sourced reporting\n" +
	"Confidence: 80\nClassification: 1\nReliability: 90"

const dataset = "title,text\n" +
	"Storm,Heavy rain flooded the valley overnight\n" +
	"Empty,short\n" +
	"Vote,The council approved the new budget today\n"

type stubBackend struct {
	reply string
	err   error
}

func (b stubBackend) Invoke(context.Context, string, string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.reply, nil
}

type stubBackends struct {
	mu           sync.Mutex
	backends     map[string]conversation.Backend
	temperatures []float64
}

func (s *stubBackends) Available() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *stubBackends) WithTemperature(t float64) conversation.BackendResolver {
	s.mu.Lock()
	s.temperatures = append(s.temperatures, t)
	s.mu.Unlock()
	return s
}

func (s *stubBackends) Backend(name string) (conversation.Backend, bool) {
	b, ok := s.backends[name]
	return b, ok
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *recordingUploader) Upload(_ context.Context, key string, _ io.ReadSeeker, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return "https://storage.example.com/" + key, nil
}

func newTestRunner(t *testing.T, backends map[string]conversation.Backend, opts Options) (*Runner, *stubBackends) {
	t.Helper()
	cat, err := domain.Load()
	require.NoError(t, err)

	if opts.ResultsDir == "" {
		opts.ResultsDir = t.TempDir()
	}
	stubs := &stubBackends{backends: backends}
	return New(stubs, cat, opts, nil), stubs
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func TestRunSingleExperiment(t *testing.T) {
	up := &recordingUploader{}
	r, stubs := newTestRunner(t, map[string]conversation.Backend{
		"claude": stubBackend{reply: reply},
		"openai": stubBackend{reply: reply},
	}, Options{Uploader: up})

	temp := 0.2
	var progress progressLog
	out, err := r.Run(context.Background(), "job-1", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "single",
		"models":          []string{"claude", "openai", "gemini"},
		"temperature":     temp,
		"dataset_content": dataset,
	}, progress.record)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.2}, stubs.temperatures)
	require.Len(t, out.Results, 2, "the row without content is skipped")

	row := out.Results[0]
	assert.Equal(t, 0, row[RowIDKey])
	assert.Equal(t, "job-1", row["_experiment_id"])
	assert.Equal(t, reply, row["claude_response"])
	assert.Equal(t, 80.0, row["claude_confidence"])
	assert.Equal(t, 1, row["claude_classification"])
	assert.Equal(t, "well sourced reporting", row["claude_reasoning"])
	assert.Equal(t, 20.0, row["openai_bias"])
	assert.NotContains(t, row, "gemini_response", "models without a backend are filtered")

	assert.Equal(t, 0, progress.values[0])
	assert.Equal(t, 100, progress.values[len(progress.values)-1])
	assert.IsNonDecreasing(t, progress.values)

	assert.Equal(t, []string{"claude", "openai"}, out.Metadata["models_used"])
	assert.Equal(t, 3, out.Metadata["total_rows_in_dataset"])
	assert.NotContains(t, out.Metadata["config"], "dataset_content")

	stats := out.Metrics["model_metrics"].(map[string]interface{})["claude"].(map[string]interface{})
	assert.Equal(t, 2, stats["total_processed"])
	assert.Equal(t, 1.0, stats["success_rate"])
	assert.Equal(t, 80.0, stats["avg_confidence"])
	assert.Equal(t, map[string]int{"1": 2}, stats["classifications"])

	require.Len(t, out.OutputFiles, 2)
	f, err := os.Open(out.OutputFiles[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, RowIDKey, records[0][0])
	assert.True(t, sort.StringsAreSorted(records[0][1:]))

	data, err := os.ReadFile(out.OutputFiles[1])
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "metadata")
	assert.Contains(t, doc, "metrics")

	assert.ElementsMatch(t, []string{
		"experiments/job-1/job-1_results.csv",
		"experiments/job-1/job-1_metrics.json",
	}, up.keys)
}

func TestRunDualExperimentFlattensFinalMetrics(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{
		"claude": stubBackend{reply: reply},
		"gemini": stubBackend{reply: reply},
	}, Options{RowConcurrency: 4})

	out, err := r.Run(context.Background(), "job-2", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "dual",
		"models":          []interface{}{"claude", "gemini"},
		"max_turns":       "2",
		"dataset_content": dataset,
	}, nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	row := out.Results[1]
	assert.Equal(t, 2, row[RowIDKey], "results keep dataset order")
	assert.Equal(t, 4, row["_turns"])
	assert.Equal(t, 75.0, row["claude_agreement_score"])
	assert.Equal(t, 90.0, row["gemini_reliability"])
	assert.Equal(t, map[string]float64{"claude": 75, "gemini": 75}, row["agreement_scores"])
}

func TestRunRecordsRowErrors(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{
		"claude": stubBackend{reply: reply},
	}, Options{})

	out, err := r.Run(context.Background(), "job-3", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "dual",
		"models":          []string{"claude"},
		"dataset_content": dataset,
	}, nil)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	row := out.Results[0]
	assert.True(t, strings.HasPrefix(row["claude_response"].(string), "ERROR: "))
	assert.Equal(t, 0.0, row["claude_confidence"])
	assert.Equal(t, "error", row["claude_classification"])

	stats := out.Metrics["model_metrics"].(map[string]interface{})["claude"].(map[string]interface{})
	assert.Equal(t, 0, stats["total_processed"])
}

func TestRunBackendFailureStaysInBand(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{
		"claude": stubBackend{err: errors.New("overloaded")},
	}, Options{})

	out, err := r.Run(context.Background(), "job-4", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "single",
		"models":          []string{"claude"},
		"dataset_content": dataset,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ERROR: API call failed - overloaded", out.Results[0]["claude_response"])
	assert.Equal(t, 0.0, out.Results[0]["claude_confidence"])
}

func TestRunFailures(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"domain":          "fake_news",
			"experiment_type": "single",
			"models":          []string{"claude"},
			"dataset_content": dataset,
		}
	}

	tests := []struct {
		name     string
		backends map[string]conversation.Backend
		mutate   func(map[string]interface{})
		want     string
		is       error
	}{
		{
			name:     "no backends",
			backends: map[string]conversation.Backend{},
			mutate:   func(map[string]interface{}) {},
			is:       ErrNoBackends,
		},
		{
			name:     "no requested model configured",
			backends: map[string]conversation.Backend{"openai": stubBackend{reply: reply}},
			mutate:   func(map[string]interface{}) {},
			is:       ErrNoBackends,
		},
		{
			name:     "unknown domain",
			backends: map[string]conversation.Backend{"claude": stubBackend{reply: reply}},
			mutate:   func(c map[string]interface{}) { c["domain"] = "weather" },
			is:       ErrUnknownDomain,
		},
		{
			name:     "missing fields",
			backends: map[string]conversation.Backend{"claude": stubBackend{reply: reply}},
			mutate: func(c map[string]interface{}) {
				delete(c, "domain")
				delete(c, "models")
			},
			want: "Missing required configuration: domain, models",
		},
		{
			name:     "missing dataset",
			backends: map[string]conversation.Backend{"claude": stubBackend{reply: reply}},
			mutate:   func(c map[string]interface{}) { delete(c, "dataset_content") },
			want:     "no dataset provided",
		},
		{
			name:     "empty dataset",
			backends: map[string]conversation.Backend{"claude": stubBackend{reply: reply}},
			mutate:   func(c map[string]interface{}) { c["dataset_content"] = "title,text\n" },
			want:     "dataset is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRunner(t, tt.backends, Options{})
			cfg := base()
			tt.mutate(cfg)

			_, err := r.Run(context.Background(), "job", cfg, nil)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestRunDisabledDomain(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{"claude": stubBackend{reply: reply}}, Options{})
	require.NoError(t, r.catalogue.SetEnabled("fake_news", false))

	_, err := r.Run(context.Background(), "job", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "single",
		"models":          []string{"claude"},
		"dataset_content": dataset,
	}, nil)
	assert.ErrorIs(t, err, ErrDomainDisabled)
}

func TestRunCancelled(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{"claude": stubBackend{reply: reply}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "job", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "single",
		"models":          []string{"claude"},
		"dataset_content": dataset,
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunNumArticlesTruncates(t *testing.T) {
	r, _ := newTestRunner(t, map[string]conversation.Backend{"claude": stubBackend{reply: reply}}, Options{})

	out, err := r.Run(context.Background(), "job", map[string]interface{}{
		"domain":          "fake_news",
		"experiment_type": "single",
		"models":          []string{"claude"},
		"num_articles":    1,
		"dataset_content": dataset,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 3, out.Metadata["total_rows_in_dataset"])
}

func TestPrepareAppliesDefaults(t *testing.T) {
	r, stubs := newTestRunner(t, map[string]conversation.Backend{
		"claude": stubBackend{reply: reply},
		"gemini": stubBackend{reply: reply},
	}, Options{})

	p, err := r.prepare("job", map[string]interface{}{
		"domain":          "ai_text_detection",
		"experiment_type": "dual",
		"models":          []string{"claude", "gemini"},
		"adversarial":     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "job", p.cfg.ExperimentID)
	assert.Equal(t, conversation.DefaultMaxTurns, p.maxTurns)
	assert.EqualValues(t, "first_and_last_turn", p.strategy, "strategy falls back to the domain's")
	assert.False(t, p.cfg.Adversarial, "adversarial runs need to be enabled")
	assert.Equal(t, []float64{0.7}, stubs.temperatures)
}
