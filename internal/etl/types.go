package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// InputRecord is one transcript in a dataset
type InputRecord struct {
	ID   string `parquet:"id" json:"id"`
	Text string `parquet:"text" json:"text"`
}

// OutputRecord is one de-identified transcript
type OutputRecord struct {
	ID            string         `json:"id"`
	RedactedText  string         `json:"redacted_text"`
	EntitiesFound map[string]int `json:"entities_found"`
	TotalFindings int            `json:"total_findings"`
}

// parquetOutput is the columnar form of OutputRecord; the counts map is
// stored as a JSON string column.
type parquetOutput struct {
	ID            string `parquet:"id"`
	RedactedText  string `parquet:"redacted_text"`
	EntitiesFound string `parquet:"entities_found"`
	TotalFindings int64  `parquet:"total_findings"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords  int64          `json:"total_records"`
	ProcessedOK   int64          `json:"processed_ok"`
	Skipped       int64          `json:"skipped"`
	Failed        int64          `json:"failed"`
	TotalFindings int64          `json:"total_findings"`
	Counts        map[string]int `json:"entities_found"`
	Duration      time.Duration  `json:"duration"`
	Errors        []string       `json:"errors,omitempty"`
}

// Config contains pipeline configuration
type Config struct {
	BatchSize      int        `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int        `yaml:"worker_count" mapstructure:"worker_count"`
	MaxTextBytes   int        `yaml:"max_text_bytes" mapstructure:"max_text_bytes"`
	SkipEmpty      bool       `yaml:"skip_empty" mapstructure:"skip_empty"`
	ProgressReport int        `yaml:"progress_report" mapstructure:"progress_report"`
	OutputFormat   FileFormat `yaml:"output_format" mapstructure:"output_format"` // empty follows the output extension
}

// DefaultConfig returns pipeline defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		WorkerCount:    4,
		MaxTextBytes:   1 << 20,
		SkipEmpty:      true,
		ProgressReport: 1000,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json" // one object per line
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
