package privacy

import (
	"errors"
	"fmt"
	"regexp"
)

// Advisory is returned alongside streamed redaction records so callers know
// what kind of detector produced them.
const Advisory = "Redaction is pattern-based (regular expressions), not NLP-based; names and identifiers in unusual formats may be missed."

// ErrInvalidPattern is returned when a category cannot be added to a catalog.
var ErrInvalidPattern = errors.New("invalid pattern")

// InvalidPatternError describes why a category was rejected
type InvalidPatternError struct {
	Category string
	Reason   string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern for category %q: %s", e.Category, e.Reason)
}

func (e *InvalidPatternError) Unwrap() error {
	return ErrInvalidPattern
}

// Category is a single PII detection rule.
//
// Group selects the capture group whose span is replaced; zero replaces the
// whole match. Lower Priority values are applied first.
type Category struct {
	Name     string
	Pattern  *regexp.Regexp
	Priority int
	Group    int
}

// Placeholder returns the token that replaces matches of this category.
func (c Category) Placeholder() string {
	return "[" + c.Name + "]"
}

// Match is one applied replacement. Start and End are byte offsets into the
// original input text.
type Match struct {
	Category string `json:"category"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Original string `json:"original"`
}

// Report is the result of running text through the redaction engine
type Report struct {
	RedactedText string         `json:"redacted_text"`
	Counts       map[string]int `json:"entities_found"`
	Matches      []Match        `json:"-"` // audit only, never serialized by default
}

// Total returns the number of replacements applied.
func (r *Report) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Record is the caller-facing form of a match used by the streaming variant.
type Record struct {
	Type        string `json:"type"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// Records converts the audit matches into ordered stream records.
func (r *Report) Records() []Record {
	records := make([]Record, 0, len(r.Matches))
	for _, m := range r.Matches {
		records = append(records, Record{
			Type:        m.Category,
			Original:    m.Original,
			Replacement: "[" + m.Category + "]",
		})
	}
	return records
}

// Redactor is implemented by anything that can de-identify text. The pattern
// engine is the only implementation shipped; an NLP detector can satisfy the
// same contract.
type Redactor interface {
	Redact(text string) *Report
}
