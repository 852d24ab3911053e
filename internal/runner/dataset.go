package runner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentarena/api/internal/domain"
)

// DefaultMaxRows caps how many rows are read from one dataset.
const DefaultMaxRows = 1000

// RowIDKey holds the 0-based position of a row in its dataset.
const RowIDKey = "_row_id"

// minContentLength is the shortest field value accepted as content.
const minContentLength = 10

var commonContentFields = []string{"text", "content", "article", "title", "description", "message"}

// Row is one dataset record. Keys and values are trimmed.
type Row map[string]string

// LoadDataset reads the inline content, or else the file at path resolved
// under datasetsDir.
func LoadDataset(content, path, datasetsDir string, maxRows int) ([]Row, error) {
	if content == "" {
		if path == "" {
			return nil, errors.New("no dataset provided: set dataset_content or dataset_path")
		}
		full, err := resolveDatasetPath(datasetsDir, path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
		}
		content = string(data)
	}
	return ParseCSV(content, maxRows)
}

// resolveDatasetPath keeps dataset files inside the datasets directory.
func resolveDatasetPath(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("dataset path %q must be relative to the datasets directory", name)
	}
	full := filepath.Join(dir, filepath.Clean(name))
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dataset path %q escapes the datasets directory", name)
	}
	return full, nil
}

// ParseCSV parses comma or tab separated text with a header row.
func ParseCSV(content string, maxRows int) ([]Row, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	r := csv.NewReader(strings.NewReader(content))
	r.Comma = sniffDelimiter(content)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty or could not be parsed")
		}
		return nil, fmt.Errorf("failed to parse CSV content: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for idx := 0; idx < maxRows; idx++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV content: %w", err)
		}

		row := make(Row, len(header)+1)
		for i, value := range record {
			if i >= len(header) || header[i] == "" {
				continue
			}
			row[header[i]] = strings.TrimSpace(value)
		}
		if len(row) == 0 {
			continue
		}
		row[RowIDKey] = fmt.Sprint(idx)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("dataset is empty or could not be parsed")
	}
	return rows, nil
}

// sniffDelimiter picks tab when the first lines hold more tabs than commas.
func sniffDelimiter(content string) rune {
	lines := strings.SplitN(content, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	sample := strings.Join(lines, "\n")
	if strings.Count(sample, "\t") > strings.Count(sample, ",") {
		return '\t'
	}
	return ','
}

// ExtractContent picks the text to analyze from a row. The domain's preferred
// fields are tried before the common ones. It returns "" when no field holds
// enough text.
func ExtractContent(row Row, d domain.Domain) string {
	fields := append(append([]string{}, d.ContentFields...), commonContentFields...)
	for _, field := range fields {
		value := strings.TrimSpace(row[field])
		if len(value) <= minContentLength {
			continue
		}
		if field == "text" {
			if title := strings.TrimSpace(row["title"]); title != "" {
				return "Title: " + title + "\n\nContent: " + value
			}
		}
		return value
	}
	return ""
}
