package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/model"
)

func TestParseCSVSniffsTabs(t *testing.T) {
	rows, err := ParseCSV("title\ttext\n A \t body, with commas \n", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"title": "A", "text": "body, with commas", RowIDKey: "0"}, rows[0])
}

func TestParseCSVMaxRows(t *testing.T) {
	rows, err := ParseCSV("text\none\ntwo\nthree\n", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][RowIDKey])
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := ParseCSV("", 0)
	assert.ErrorContains(t, err, "dataset is empty")
}

func TestLoadDatasetFromPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "news.csv"), []byte("text\nsomething long enough\n"), 0o644))

	rows, err := LoadDataset("", "news.csv", dir, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = LoadDataset("", "../secrets.csv", dir, 0)
	assert.ErrorContains(t, err, "escapes the datasets directory")

	_, err = LoadDataset("", "/etc/passwd", dir, 0)
	assert.Error(t, err)

	_, err = LoadDataset("", "missing.csv", dir, 0)
	assert.ErrorContains(t, err, "failed to read dataset")
}

func TestExtractContent(t *testing.T) {
	fakeNews := domain.Domain{Name: "fake_news", ContentFields: []string{"text", "title", "content", "article"}}
	aiText := domain.Domain{Name: "ai_text_detection", ContentFields: []string{"text", "content", "generated_text"}}

	tests := []struct {
		name string
		row  Row
		d    domain.Domain
		want string
	}{
		{"title joins text", Row{"title": "Headline", "text": "A body long enough"}, fakeNews, "Title: Headline\n\nContent: A body long enough"},
		{"text alone", Row{"text": "A body long enough"}, fakeNews, "A body long enough"},
		{"short text falls through", Row{"text": "short", "content": "Longer content value"}, fakeNews, "Longer content value"},
		{"domain field first", Row{"generated_text": "Written by a model", "message": "Some other message"}, aiText, "Written by a model"},
		{"common list", Row{"description": "A description here"}, domain.Domain{}, "A description here"},
		{"exactly ten chars", Row{"text": "0123456789"}, fakeNews, ""},
		{"nothing usable", Row{"id": "7"}, fakeNews, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractContent(tt.row, tt.d))
		})
	}
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(map[string]interface{}{
		"domain":                     "fake_news",
		"experiment_type":            "consensus",
		"models":                     []interface{}{"claude", "openai", "gemini"},
		"context_injection_strategy": "all_turns",
		"adversarial":                "true",
		"temperature":                "0.3",
		"num_articles":               "5",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ExperimentTypeConsensus, cfg.ExperimentType)
	assert.Equal(t, model.ContextAllTurns, cfg.ContextStrategy)
	assert.True(t, cfg.Adversarial)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.3, *cfg.Temperature)
	assert.Equal(t, 5, cfg.NumArticles)
}

func TestDecodeConfigAggregatesErrors(t *testing.T) {
	_, err := DecodeConfig(map[string]interface{}{
		"experiment_type":            "trio",
		"context_injection_strategy": "sometimes",
		"temperature":                3,
	})
	require.Error(t, err)
	assert.Equal(t, "Missing required configuration: domain, models; "+
		`unknown experiment_type "trio"; `+
		`unknown context_injection_strategy "sometimes"; `+
		"temperature 3.00 out of range 0-2", err.Error())
}
