package privacy

import (
	"strings"

	"go.uber.org/zap"
)

// Engine applies a catalog to text one category at a time, then runs the
// context rules as a final pass. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	catalog      *Catalog
	contextRules *Catalog
	logger       *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithContextRules replaces the context rules run after the catalog.
func WithContextRules(rules *Catalog) Option {
	return func(e *Engine) {
		e.contextRules = rules
	}
}

// WithoutContextRules disables the final context pass.
func WithoutContextRules() Option {
	return func(e *Engine) {
		e.contextRules = nil
	}
}

// WithLogger sets the logger used for per-category debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over catalog. The default context rules are
// enabled unless an option says otherwise.
func NewEngine(catalog *Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:      catalog,
		contextRules: ContextRules(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the engine was built with.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Redact runs the engine over text.
func (e *Engine) Redact(text string) *Report {
	w := newWorkingText(text)
	report := &Report{
		Counts:  make(map[string]int),
		Matches: make([]Match, 0),
	}

	if e.catalog != nil {
		for _, cat := range e.catalog.categories {
			if n := w.apply(cat, report); n > 0 {
				report.Counts[cat.Name] += n
				e.logger.Debug("PII detected and masked",
					zap.String("entity_type", cat.Name),
					zap.Int("count", n),
				)
			}
		}
	}

	if e.contextRules != nil {
		total := 0
		for _, rule := range e.contextRules.categories {
			total += w.apply(rule, report)
		}
		if total > 0 {
			report.Counts[ContextCounter] += total
			e.logger.Debug("Context names masked", zap.Int("count", total))
		}
	}

	report.RedactedText = w.String()
	return report
}

// Redact runs catalog over text without context rules.
func Redact(text string, catalog *Catalog) *Report {
	return NewEngine(catalog, WithoutContextRules()).Redact(text)
}

// piece is a run of the working text. Literal pieces are untouched input and
// map byte for byte onto the original; placeholder pieces stand in for the
// original span [origStart, origEnd).
type piece struct {
	text      string
	origStart int
	origEnd   int
	literal   bool
}

// workingText tracks the text between passes along with enough bookkeeping
// to translate working offsets back to offsets in the original input.
type workingText struct {
	original string
	pieces   []piece
	current  string
}

func newWorkingText(text string) *workingText {
	w := &workingText{original: text, current: text}
	if text != "" {
		w.pieces = []piece{{text: text, origStart: 0, origEnd: len(text), literal: true}}
	}
	return w
}

func (w *workingText) String() string {
	return w.current
}

// apply replaces every leftmost, non-overlapping match of cat in the current
// text and returns how many replacements were made.
func (w *workingText) apply(cat Category, report *Report) int {
	found := cat.Pattern.FindAllStringSubmatchIndex(w.current, -1)
	if len(found) == 0 {
		return 0
	}

	placeholder := cat.Placeholder()
	next := make([]piece, 0, len(w.pieces)+2*len(found))
	var b strings.Builder
	b.Grow(len(w.current))

	cursor := 0
	applied := 0
	for _, loc := range found {
		start, end := loc[2*cat.Group], loc[2*cat.Group+1]
		if start < 0 || start >= end || start < cursor {
			continue
		}

		origStart := w.originalStart(start)
		origEnd := w.originalEnd(end)

		next = append(next, w.slice(cursor, start)...)
		b.WriteString(w.current[cursor:start])

		next = append(next, piece{text: placeholder, origStart: origStart, origEnd: origEnd})
		b.WriteString(placeholder)

		report.Matches = append(report.Matches, Match{
			Category: cat.Name,
			Start:    origStart,
			End:      origEnd,
			Original: w.original[origStart:origEnd],
		})

		cursor = end
		applied++
	}

	if applied == 0 {
		return 0
	}

	next = append(next, w.slice(cursor, len(w.current))...)
	b.WriteString(w.current[cursor:])

	w.pieces = next
	w.current = b.String()
	return applied
}

// slice returns the pieces covering working bytes [from, to), splitting
// pieces at the boundaries.
func (w *workingText) slice(from, to int) []piece {
	if from >= to {
		return nil
	}

	var out []piece
	pos := 0
	for _, p := range w.pieces {
		pStart, pEnd := pos, pos+len(p.text)
		pos = pEnd
		if pEnd <= from {
			continue
		}
		if pStart >= to {
			break
		}

		lo := max(from, pStart) - pStart
		hi := min(to, pEnd) - pStart
		if lo == 0 && hi == len(p.text) {
			out = append(out, p)
			continue
		}

		part := piece{text: p.text[lo:hi], origStart: p.origStart, origEnd: p.origEnd}
		if p.literal {
			part.literal = true
			part.origStart = p.origStart + lo
			part.origEnd = p.origStart + hi
		}
		out = append(out, part)
	}
	return out
}

// originalStart maps a working offset used as a span start.
func (w *workingText) originalStart(offset int) int {
	pos := 0
	for _, p := range w.pieces {
		if offset < pos+len(p.text) {
			if p.literal {
				return p.origStart + (offset - pos)
			}
			return p.origStart
		}
		pos += len(p.text)
	}
	return len(w.original)
}

// originalEnd maps a working offset used as an exclusive span end.
func (w *workingText) originalEnd(offset int) int {
	pos := 0
	for _, p := range w.pieces {
		if offset <= pos+len(p.text) && offset > pos {
			if p.literal {
				return p.origStart + (offset - pos)
			}
			return p.origEnd
		}
		pos += len(p.text)
	}
	return 0
}
