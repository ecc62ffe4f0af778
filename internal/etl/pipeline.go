// Package etl de-identifies transcript datasets in bulk.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/scribe-sentinel/internal/privacy"
)

// Pipeline reads transcripts, redacts them on a bounded worker pool and
// writes the de-identified records in input order.
type Pipeline struct {
	redactor privacy.Redactor
	config   Config
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new pipeline
func NewPipeline(redactor privacy.Redactor, config Config, logger *zap.Logger) *Pipeline {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.MaxTextBytes <= 0 {
		config.MaxTextBytes = defaults.MaxTextBytes
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = defaults.ProgressReport
	}

	return &Pipeline{
		redactor: redactor,
		config:   config,
		logger:   logger,
		stats:    &ProcessingStats{StartTime: time.Now()},
	}
}

// ProcessFile de-identifies inputPath into outputPath. The output format is
// the configured one, or else the one implied by outputPath's extension. A
// failed run removes the partial output.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (result *ProcessingResult, err error) {
	inFormat := DetectFileFormat(inputPath)
	outFormat := p.config.OutputFormat
	if outFormat == "" {
		outFormat = DetectFileFormat(outputPath)
	}

	p.logger.Info("Starting de-identification",
		zap.String("input", inputPath),
		zap.String("input_format", string(inFormat)),
		zap.String("output", outputPath),
		zap.String("output_format", string(outFormat)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	reader, err := newReader(inFormat, in, p.config.MaxTextBytes+1024)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	writer, err := newWriter(outFormat, out)
	if err != nil {
		return nil, err
	}

	result, err = p.Process(ctx, reader, writer)
	if cerr := writer.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finish output: %w", cerr)
	}
	return result, err
}

// Process runs the pipeline between an already opened reader and writer.
func (p *Pipeline) Process(ctx context.Context, reader recordReader, writer recordWriter) (*ProcessingResult, error) {
	start := time.Now()
	p.resetStats()
	result := &ProcessingResult{Counts: map[string]int{}}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, eof, err := p.readBatch(reader, result)
		if err != nil {
			return result, fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			records, err := p.redactBatch(ctx, batch)
			if err != nil {
				return result, err
			}
			if err := writer.Write(records); err != nil {
				return result, fmt.Errorf("failed to write batch: %w", err)
			}
			p.account(records, result)
		}

		if eof {
			break
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("De-identification completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("failed", result.Failed),
		zap.Int64("total_findings", result.TotalFindings),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// readBatch reads up to BatchSize usable records. Unreadable and skipped
// records are tallied on result.
func (p *Pipeline) readBatch(reader recordReader, result *ProcessingResult) ([]*InputRecord, bool, error) {
	batch := make([]*InputRecord, 0, p.config.BatchSize)
	for len(batch) < p.config.BatchSize {
		rec, err := reader.Read()
		if err == io.EOF {
			return batch, true, nil
		}
		if err != nil {
			if errors.Is(err, errBadRecord) {
				result.TotalRecords++
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
				p.logger.Warn("Skipping unreadable record", zap.Error(err))
				continue
			}
			return batch, false, err
		}

		result.TotalRecords++
		if p.config.SkipEmpty && strings.TrimSpace(rec.Text) == "" {
			result.Skipped++
			continue
		}
		if len(rec.Text) > p.config.MaxTextBytes {
			result.Skipped++
			p.logger.Warn("Skipping oversized record",
				zap.String("id", rec.ID),
				zap.Int("bytes", len(rec.Text)))
			continue
		}
		batch = append(batch, rec)
	}

	p.mu.Lock()
	p.stats.CurrentBatch++
	p.stats.RecordsRead = result.TotalRecords
	p.mu.Unlock()

	return batch, false, nil
}

// redactBatch redacts records concurrently; output order matches input.
func (p *Pipeline) redactBatch(ctx context.Context, batch []*InputRecord) ([]OutputRecord, error) {
	out := make([]OutputRecord, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.WorkerCount)

	for i, rec := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report := p.redactor.Redact(rec.Text)
			out[i] = OutputRecord{
				ID:            rec.ID,
				RedactedText:  report.RedactedText,
				EntitiesFound: report.Counts,
				TotalFindings: report.Total(),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) account(records []OutputRecord, result *ProcessingResult) {
	before := result.ProcessedOK
	for _, r := range records {
		result.ProcessedOK++
		result.TotalFindings += int64(r.TotalFindings)
		for name, n := range r.EntitiesFound {
			result.Counts[name] += n
		}
	}

	p.mu.Lock()
	p.stats.RecordsWritten = result.ProcessedOK
	elapsed := time.Since(p.stats.StartTime).Seconds()
	if elapsed > 0 {
		p.stats.ProcessingRate = float64(result.ProcessedOK) / elapsed
	}
	p.mu.Unlock()

	every := int64(p.config.ProgressReport)
	if before/every != result.ProcessedOK/every {
		p.reportProgress(result)
	}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.ProcessedOK),
		zap.Int64("records_skipped", result.Skipped),
		zap.Int64("records_failed", result.Failed),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = &ProcessingStats{StartTime: time.Now()}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := *p.stats
	return &stats
}
