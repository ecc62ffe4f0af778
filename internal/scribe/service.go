// Package scribe turns a transcript into a SOAP note and FHIR bundle:
// de-identify, complete, parse, map, then persist.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/cache"
	"github.com/raaihank/scribe-sentinel/internal/completion"
	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/fhir"
	"github.com/raaihank/scribe-sentinel/internal/privacy"
	"github.com/raaihank/scribe-sentinel/internal/soap"
	"github.com/raaihank/scribe-sentinel/internal/store"
	"github.com/raaihank/scribe-sentinel/internal/websocket"
)

var (
	// ErrEmptyTranscript is returned for blank input.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrStoreUnavailable is returned when a generated note cannot be saved.
	ErrStoreUnavailable = errors.New("note store unavailable")
)

// Completer produces raw model output for a transcript.
type Completer interface {
	Complete(ctx context.Context, transcript string) (string, error)
	Model() string
}

// NoteCache remembers notes by the transcript that produced them.
type NoteCache interface {
	Get(ctx context.Context, model, transcript string) (*cache.CachedNote, bool)
	Store(ctx context.Context, model, transcript string, note soap.Note) error
}

// NoteStore persists generated notes.
type NoteStore interface {
	Save(ctx context.Context, note *store.StoredNote) error
}

// EventSink receives dashboard events.
type EventSink interface {
	BroadcastEvent(event websocket.Event)
}

// Request is one generation request.
type Request struct {
	Transcript  string
	PatientID   string
	EncounterID string
	RequestID   string
}

// Result is a generated note with its bundle.
type Result struct {
	ID             string
	Note           soap.Note
	Bundle         *fhir.Bundle
	Entities       map[string]int
	Method         soap.Method
	Attempts       int
	Cached         bool
	ProcessingTime time.Duration
}

// Service runs the generation pipeline
type Service struct {
	redactor  privacy.Redactor
	completer Completer
	mapper    *fhir.Mapper
	cache     NoteCache
	store     NoteStore
	events    EventSink
	privacy   config.PrivacyConfig
	attempts  int
	logger    *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithCache enables note caching.
func WithCache(c NoteCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithStore enables persistence.
func WithStore(st NoteStore) Option {
	return func(s *Service) { s.store = st }
}

// WithEvents publishes pipeline events.
func WithEvents(e EventSink) Option {
	return func(s *Service) { s.events = e }
}

// WithMapper replaces the bundle mapper, mainly to fix the clock.
func WithMapper(m *fhir.Mapper) Option {
	return func(s *Service) { s.mapper = m }
}

// NewService creates the pipeline.
func NewService(redactor privacy.Redactor, completer Completer, cfg *config.Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		redactor:  redactor,
		completer: completer,
		mapper:    fhir.NewMapper(),
		privacy:   cfg.Privacy,
		attempts:  max(cfg.Completion.MaxAttempts, 1),
		logger:    logger.With(zap.String("component", "scribe")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate turns a transcript into a note. With pre-redaction on, the model
// only ever sees de-identified text. Unparseable output is retried up to the
// configured attempts; upstream failures are returned at once.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := s.logger
	if req.RequestID != "" {
		log = log.With(zap.String("request_id", req.RequestID))
	}

	if strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	text := req.Transcript
	entities := map[string]int{}
	if s.privacy.PreRedact && s.redactor != nil {
		report := s.redactor.Redact(text)
		text = report.RedactedText
		entities = report.Counts
		log.Debug("Transcript de-identified", zap.Int("total_findings", report.Total()))
	}

	result := &Result{Entities: entities}

	if cached, ok := s.lookup(ctx, text); ok {
		result.Note = cached.Note
		result.Cached = true
		result.Method = soap.MethodStrict
	} else {
		parsed, attempts, err := s.complete(ctx, text, log)
		result.Attempts = attempts
		if err != nil {
			s.publishFailure(req.RequestID, attempts, err, start)
			return nil, err
		}
		result.Note = parsed.Note
		result.Method = parsed.Method
		s.remember(ctx, text, parsed.Note, log)
	}

	result.Bundle = s.mapper.ToBundle(result.Note, req.PatientID, req.EncounterID)

	record, err := store.NewStoredNote(result.Note, result.Bundle, entities, req.PatientID, req.EncounterID)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Save(ctx, record); err != nil {
			s.publishFailure(req.RequestID, result.Attempts, err, start)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	result.ID = record.ID
	result.ProcessingTime = time.Since(start)

	log.Info("Note generated",
		zap.String("note_id", result.ID),
		zap.Bool("cached", result.Cached),
		zap.String("parse_method", string(result.Method)),
		zap.Int("attempts", result.Attempts),
		zap.Int("icd10_count", len(result.Note.ICD10Codes)),
		zap.Duration("duration", result.ProcessingTime),
	)

	s.publish(websocket.Event{
		Type:      websocket.EventTypeNoteGenerated,
		RequestID: req.RequestID,
		Data: websocket.NoteEvent{
			NoteID:       result.ID,
			CodeCount:    len(result.Note.ICD10Codes),
			Cached:       result.Cached,
			Attempts:     result.Attempts,
			ProcessingMS: milliseconds(result.ProcessingTime),
		},
	})

	return result, nil
}

func (s *Service) complete(ctx context.Context, text string, log *zap.Logger) (*soap.Result, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		raw, err := s.completer.Complete(ctx, text)
		if err != nil {
			log.Error("Completion failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, attempt, err
		}

		parsed, err := soap.Parse(raw)
		if err == nil {
			return parsed, attempt, nil
		}
		lastErr = err
		// raw output may echo the transcript, so only its size is logged
		log.Warn("Model output could not be parsed",
			zap.Int("attempt", attempt),
			zap.Int("output_bytes", len(raw)),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, s.attempts, lastErr
}

func (s *Service) lookup(ctx context.Context, text string) (*cache.CachedNote, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, s.completer.Model(), text)
}

func (s *Service) remember(ctx context.Context, text string, note soap.Note, log *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(ctx, s.completer.Model(), text, note); err != nil {
		log.Warn("Failed to cache note", zap.Error(err))
	}
}

func (s *Service) publishFailure(requestID string, attempts int, err error, start time.Time) {
	s.publish(websocket.Event{
		Type:      websocket.EventTypeNoteFailed,
		RequestID: requestID,
		Data: websocket.NoteEvent{
			Attempts:     attempts,
			ProcessingMS: milliseconds(time.Since(start)),
			Error:        ErrorClass(err),
		},
	})
}

func (s *Service) publish(event websocket.Event) {
	if s.events != nil {
		s.events.BroadcastEvent(event)
	}
}

// ErrorClass names the failure category of err for events and responses.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, soap.ErrUnparseableOutput):
		return "unparseable_output"
	case errors.Is(err, completion.ErrUpstreamFailure):
		return "upstream_failure"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
