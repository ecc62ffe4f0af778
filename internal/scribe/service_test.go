package scribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
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

const validNote = `{"subjective":"Headache","objective":"BP 120/80","assessment":"Tension headache","plan":"Rest","icd10_codes":["G44.209"]}`

type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, transcript)
	if f.err != nil {
		return "", f.err
	}
	i := min(len(f.prompts)-1, len(f.responses)-1)
	return f.responses[i], nil
}

func (f *fakeCompleter) Model() string { return "test-model" }

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type memoryCache struct {
	notes map[string]soap.Note
}

func (m *memoryCache) Get(_ context.Context, model, transcript string) (*cache.CachedNote, bool) {
	note, ok := m.notes[model+"|"+transcript]
	if !ok {
		return nil, false
	}
	return &cache.CachedNote{Note: note, Model: model}, true
}

func (m *memoryCache) Store(_ context.Context, model, transcript string, note soap.Note) error {
	m.notes[model+"|"+transcript] = note
	return nil
}

type memoryStore struct {
	saved []*store.StoredNote
	err   error
}

func (m *memoryStore) Save(_ context.Context, note *store.StoredNote) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, note)
	return nil
}

type recordingSink struct {
	events []websocket.Event
}

func (r *recordingSink) BroadcastEvent(event websocket.Event) {
	r.events = append(r.events, event)
}

func newTestService(completer Completer, mutate func(*config.Config), opts ...Option) *Service {
	cfg := config.GetDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	clock := func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }
	opts = append([]Option{WithMapper(fhir.NewMapperWithClock(clock))}, opts...)
	engine := privacy.NewEngine(privacy.DefaultCatalog())
	return NewService(engine, completer, cfg, zap.NewNop(), opts...)
}

func TestGenerate(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validNote}}
	sink := &recordingSink{}
	st := &memoryStore{}
	svc := newTestService(completer, nil, WithEvents(sink), WithStore(st))

	result, err := svc.Generate(context.Background(), Request{
		Transcript:  "John Smith called from 555-123-4567 about a headache.",
		PatientID:   "p-1",
		EncounterID: "enc-1",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if strings.Contains(completer.prompts[0], "John Smith") || strings.Contains(completer.prompts[0], "555-123-4567") {
		t.Errorf("model saw identifiers: %q", completer.prompts[0])
	}
	if result.Entities[privacy.CategoryName] != 1 || result.Entities[privacy.CategoryPhone] != 1 {
		t.Errorf("unexpected entity counts %v", result.Entities)
	}
	if result.Note.Assessment != "Tension headache" {
		t.Errorf("unexpected note %+v", result.Note)
	}
	if result.Method != soap.MethodStrict || result.Attempts != 1 || result.Cached {
		t.Errorf("unexpected metadata %+v", result)
	}

	comp := result.Bundle.Composition()
	if comp == nil || comp.ID != "composition-enc-1" || comp.Subject.Reference != "Patient/p-1" {
		t.Fatalf("unexpected composition %+v", comp)
	}
	if len(st.saved) != 1 || st.saved[0].ID != result.ID {
		t.Errorf("note not persisted under result id")
	}
	if len(sink.events) != 1 || sink.events[0].Type != websocket.EventTypeNoteGenerated {
		t.Errorf("expected one note_generated event, got %+v", sink.events)
	}
}

func TestGenerateWithoutPreRedaction(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validNote}}
	svc := newTestService(completer, func(c *config.Config) { c.Privacy.PreRedact = false })

	result, err := svc.Generate(context.Background(), Request{Transcript: "John Smith has a cough"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completer.prompts[0] != "John Smith has a cough" {
		t.Errorf("transcript should pass through, got %q", completer.prompts[0])
	}
	if len(result.Entities) != 0 {
		t.Errorf("expected no entity counts, got %v", result.Entities)
	}
}

func TestGenerateRecoversWrappedOutput(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"Here is the note:\n" + validNote + "\nLet me know!"}}
	svc := newTestService(completer, nil)

	result, err := svc.Generate(context.Background(), Request{Transcript: "cough"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Method != soap.MethodRecovered {
		t.Errorf("expected recovered parse, got %s", result.Method)
	}
}

func TestGenerateRetriesUnparseable(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"not json at all", validNote}}
	svc := newTestService(completer, func(c *config.Config) { c.Completion.MaxAttempts = 2 })

	result, err := svc.Generate(context.Background(), Request{Transcript: "cough"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Attempts != 2 || completer.calls() != 2 {
		t.Errorf("expected 2 attempts, got %d (calls %d)", result.Attempts, completer.calls())
	}
}

func TestGenerateUnparseable(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"not json at all"}}
	sink := &recordingSink{}
	svc := newTestService(completer, nil, WithEvents(sink))

	_, err := svc.Generate(context.Background(), Request{Transcript: "cough"})
	if !errors.Is(err, soap.ErrUnparseableOutput) {
		t.Fatalf("expected ErrUnparseableOutput, got %v", err)
	}
	if completer.calls() != 1 {
		t.Errorf("default config makes a single attempt, got %d", completer.calls())
	}
	if len(sink.events) != 1 || sink.events[0].Type != websocket.EventTypeNoteFailed {
		t.Fatalf("expected note_failed event, got %+v", sink.events)
	}
	if ev := sink.events[0].Data.(websocket.NoteEvent); ev.Error != "unparseable_output" {
		t.Errorf("unexpected error class %q", ev.Error)
	}
}

func TestGenerateUpstreamFailureNotRetried(t *testing.T) {
	completer := &fakeCompleter{err: &completion.UpstreamError{StatusCode: 500, Body: "boom"}}
	svc := newTestService(completer, func(c *config.Config) { c.Completion.MaxAttempts = 3 })

	_, err := svc.Generate(context.Background(), Request{Transcript: "cough"})
	if !errors.Is(err, completion.ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
	if completer.calls() != 1 {
		t.Errorf("upstream failures must not be retried, got %d calls", completer.calls())
	}
}

func TestGenerateEmptyTranscript(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validNote}}
	svc := newTestService(completer, nil)

	if _, err := svc.Generate(context.Background(), Request{Transcript: "  \n"}); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if completer.calls() != 0 {
		t.Error("blank transcript should not reach the model")
	}
}

func TestGenerateUsesCache(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validNote}}
	nc := &memoryCache{notes: map[string]soap.Note{}}
	svc := newTestService(completer, nil, WithCache(nc))

	req := Request{Transcript: "Patient reports a cough.", EncounterID: "enc-2"}
	first, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	second, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}

	if completer.calls() != 1 {
		t.Errorf("expected one model call, got %d", completer.calls())
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached flags wrong: first=%v second=%v", first.Cached, second.Cached)
	}
	if second.Note.Plan != first.Note.Plan {
		t.Error("cached note differs from generated note")
	}
	if first.ID == second.ID {
		t.Error("each generation gets its own id")
	}
}

func TestGenerateStoreFailure(t *testing.T) {
	completer := &fakeCompleter{responses: []string{validNote}}
	svc := newTestService(completer, nil, WithStore(&memoryStore{err: errors.New("connection refused")}))

	_, err := svc.Generate(context.Background(), Request{Transcript: "cough"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{soap.ErrUnparseableOutput, "unparseable_output"},
		{&completion.UpstreamError{StatusCode: 503}, "upstream_failure"},
		{ErrStoreUnavailable, "store_unavailable"},
		{ErrEmptyTranscript, "empty_transcript"},
		{context.DeadlineExceeded, "canceled"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ErrorClass(tt.err); got != tt.want {
				t.Errorf("ErrorClass(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
