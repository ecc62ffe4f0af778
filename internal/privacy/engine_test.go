package privacy

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/logger"
)

func TestRedactScenarios(t *testing.T) {
	engine := NewEngine(DefaultCatalog())

	tests := []struct {
		name     string
		input    string
		expected string
		counts   map[string]int
	}{
		{
			name:     "phone number",
			input:    "Call me at 555-123-4567",
			expected: "Call me at [PHONE]",
			counts:   map[string]int{CategoryPhone: 1},
		},
		{
			name:     "social security number",
			input:    "SSN is 123-45-6789",
			expected: "SSN is [SSN]",
			counts:   map[string]int{CategorySSN: 1},
		},
		{
			name:     "empty text",
			input:    "",
			expected: "",
			counts:   map[string]int{},
		},
		{
			name:     "email addresses",
			input:    "Send to a@b.com and c.d@example.org",
			expected: "Send to [EMAIL] and [EMAIL]",
			counts:   map[string]int{CategoryEmail: 2},
		},
		{
			name:     "medical record number",
			input:    "Chart MRN: 88231 reviewed",
			expected: "Chart [MRN] reviewed",
			counts:   map[string]int{CategoryMRN: 1},
		},
		{
			name:     "date",
			input:    "Seen on 03/14/2024 and 2024-04-01",
			expected: "Seen on [DATE] and [DATE]",
			counts:   map[string]int{CategoryDate: 2},
		},
		{
			name:     "full name",
			input:    "Referred by Mary Jones for follow up",
			expected: "Referred by [NAME] for follow up",
			counts:   map[string]int{CategoryName: 1},
		},
		{
			name:     "clinical text untouched",
			input:    "bp 120/80, hr 72, afebrile",
			expected: "bp 120/80, hr 72, afebrile",
			counts:   map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := engine.Redact(tt.input)

			if report.RedactedText != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, report.RedactedText)
			}
			if len(report.Counts) != len(tt.counts) {
				t.Fatalf("Expected counts %v, got %v", tt.counts, report.Counts)
			}
			for name, n := range tt.counts {
				if report.Counts[name] != n {
					t.Errorf("Expected %s=%d, got %d", name, n, report.Counts[name])
				}
			}
		})
	}
}

func TestRedactOmitsZeroCounts(t *testing.T) {
	report := NewEngine(DefaultCatalog()).Redact("Call me at 555-123-4567")

	for _, name := range DefaultCatalog().Names() {
		if name == CategoryPhone {
			continue
		}
		if _, ok := report.Counts[name]; ok {
			t.Errorf("Expected %s to be absent from counts", name)
		}
	}
	if _, ok := report.Counts[ContextCounter]; ok {
		t.Errorf("Expected %s to be absent from counts", ContextCounter)
	}
}

func TestRedactRemovesEveryOccurrence(t *testing.T) {
	phones := []string{"555-123-4567", "(555) 987-6543", "555.222.3333"}
	text := "Numbers: " + strings.Join(phones, ", ") + "."

	report := Redact(text, DefaultCatalog())

	if report.Counts[CategoryPhone] != len(phones) {
		t.Fatalf("Expected %d phones, got %v", len(phones), report.Counts)
	}
	for _, p := range phones {
		if strings.Contains(report.RedactedText, p) {
			t.Errorf("Redacted text still contains %q: %q", p, report.RedactedText)
		}
	}
}

func TestRedactIdempotentOnFixedPoint(t *testing.T) {
	engine := NewEngine(DefaultCatalog())
	inputs := []string{
		"Call me at 555-123-4567",
		"Patient seen by Dr. Smith on 01/02/2023, MRN 4411, email x@y.io",
		"Lives at 400 Elm Avenue, SSN 123-45-6789",
	}

	for _, input := range inputs {
		first := engine.Redact(input)
		second := engine.Redact(first.RedactedText)

		if second.RedactedText != first.RedactedText {
			t.Errorf("Second pass changed text: %q -> %q", first.RedactedText, second.RedactedText)
		}
		if len(second.Counts) != 0 {
			t.Errorf("Second pass found %v in %q", second.Counts, first.RedactedText)
		}
	}
}

func TestRedactCategoryOrder(t *testing.T) {
	engine := NewEngine(DefaultCatalog())

	tests := []struct {
		name     string
		input    string
		expected string
		counts   map[string]int
	}{
		{
			// NAME runs before ADDRESS and claims the capitalized street name
			name:     "name before address",
			input:    "12 Oak Street",
			expected: "12 [NAME]",
			counts:   map[string]int{CategoryName: 1},
		},
		{
			name:     "lower case street is an address",
			input:    "lives at 12 oak street",
			expected: "lives at [ADDRESS]",
			counts:   map[string]int{CategoryAddress: 1},
		},
		{
			// nine digits are an SSN before MRN gets a chance
			name:     "ssn before mrn",
			input:    "MRN: 123456789",
			expected: "MRN: [SSN]",
			counts:   map[string]int{CategorySSN: 1},
		},
		{
			name:     "phone before ssn",
			input:    "555-123-4567",
			expected: "[PHONE]",
			counts:   map[string]int{CategoryPhone: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for run := 0; run < 5; run++ {
				report := engine.Redact(tt.input)
				if report.RedactedText != tt.expected {
					t.Fatalf("Run %d: expected %q, got %q", run, tt.expected, report.RedactedText)
				}
				for name, n := range tt.counts {
					if report.Counts[name] != n {
						t.Fatalf("Run %d: expected %s=%d, got %v", run, name, n, report.Counts)
					}
				}
			}
		})
	}
}

func TestRedactContextRules(t *testing.T) {
	t.Run("provider title", func(t *testing.T) {
		report := NewEngine(DefaultCatalog()).Redact("Seen by Dr. Smith today")

		if report.RedactedText != "Seen by Dr. [PROVIDER_NAME] today" {
			t.Errorf("Unexpected text: %q", report.RedactedText)
		}
		if report.Counts[ContextCounter] != 1 {
			t.Errorf("Expected %s=1, got %v", ContextCounter, report.Counts)
		}
	})

	t.Run("patient title", func(t *testing.T) {
		catalog, err := DefaultCatalog().Select([]string{CategoryPhone})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		report := NewEngine(catalog).Redact("Patient Alice called from 555-123-4567")

		if report.RedactedText != "Patient [PATIENT_NAME] called from [PHONE]" {
			t.Errorf("Unexpected text: %q", report.RedactedText)
		}
		if report.Counts[ContextCounter] != 1 || report.Counts[CategoryPhone] != 1 {
			t.Errorf("Unexpected counts: %v", report.Counts)
		}
	})

	t.Run("added to prior counts", func(t *testing.T) {
		report := NewEngine(DefaultCatalog()).Redact("Dr. Adams and Dr. Brown, call 555-123-4567")

		if report.Counts[ContextCounter] != 2 {
			t.Errorf("Expected %s=2, got %v", ContextCounter, report.Counts)
		}
		if report.Counts[CategoryPhone] != 1 {
			t.Errorf("Expected PHONE=1, got %v", report.Counts)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		report := NewEngine(DefaultCatalog(), WithoutContextRules()).Redact("Seen by Dr. Smith today")

		if report.RedactedText != "Seen by Dr. Smith today" {
			t.Errorf("Unexpected text: %q", report.RedactedText)
		}
		if len(report.Counts) != 0 {
			t.Errorf("Expected no counts, got %v", report.Counts)
		}
	})
}

func TestRedactMatchOffsets(t *testing.T) {
	text := "Call 555-123-4567 or mail a@b.com"
	report := NewEngine(DefaultCatalog()).Redact(text)

	if len(report.Matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(report.Matches))
	}

	expected := []struct {
		category string
		original string
	}{
		{CategoryPhone, "555-123-4567"},
		{CategoryEmail, "a@b.com"},
	}
	for i, want := range expected {
		m := report.Matches[i]
		if m.Category != want.category {
			t.Errorf("Match %d: expected %s, got %s", i, want.category, m.Category)
		}
		if m.Original != want.original {
			t.Errorf("Match %d: expected %q, got %q", i, want.original, m.Original)
		}
		if m.Start != strings.Index(text, want.original) || text[m.Start:m.End] != want.original {
			t.Errorf("Match %d: offsets [%d,%d) do not point at %q", i, m.Start, m.End, want.original)
		}
	}

	records := report.Records()
	if records[1].Replacement != "[EMAIL]" || records[1].Type != CategoryEmail {
		t.Errorf("Unexpected record: %+v", records[1])
	}
}

func TestRedactGroupOffsets(t *testing.T) {
	text := "Follow up with Dr. Smith"
	report := NewEngine(DefaultCatalog()).Redact(text)

	if len(report.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(report.Matches))
	}
	m := report.Matches[0]
	if m.Original != "Smith" || text[m.Start:m.End] != "Smith" {
		t.Errorf("Expected only the name to be captured, got %+v", m)
	}
}

func TestRedactConcurrent(t *testing.T) {
	engine := NewEngine(DefaultCatalog())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report := engine.Redact("Call me at 555-123-4567")
			if report.RedactedText != "Call me at [PHONE]" {
				t.Errorf("Unexpected text: %q", report.RedactedText)
			}
		}()
	}
	wg.Wait()
}

func TestNewCatalogRejectsInvalidPatterns(t *testing.T) {
	valid, err := NewCategory("OK", `\d+`, 1)
	if err != nil {
		t.Fatalf("NewCategory failed: %v", err)
	}

	tests := []struct {
		name  string
		build func() (Category, error)
	}{
		{"empty match star", func() (Category, error) { return NewCategory("STAR", `a*`, 1) }},
		{"empty match optional", func() (Category, error) { return NewCategory("OPT", `x?`, 1) }},
		{"word boundary only", func() (Category, error) { return NewCategory("BOUNDARY", `\b`, 1) }},
		{"empty alternative", func() (Category, error) { return NewCategory("ALT", `abc|`, 1) }},
		{"lower case name", func() (Category, error) { return NewCategory("phone", `\d+`, 1) }},
		{"group out of range", func() (Category, error) { return NewGroupCategory("GROUP", `(a)b`, 1, 2) }},
		{"empty capture group", func() (Category, error) { return NewGroupCategory("CAP", `a(b?)`, 1, 1) }},
		{"nil pattern", func() (Category, error) { return Category{Name: "NIL"}, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := tt.build()
			if err != nil {
				t.Fatalf("Category construction failed early: %v", err)
			}
			_, err = NewCatalog(valid, cat)
			if !errors.Is(err, ErrInvalidPattern) {
				t.Errorf("Expected ErrInvalidPattern, got %v", err)
			}
		})
	}

	t.Run("malformed expression", func(t *testing.T) {
		_, err := NewCategory("BROKEN", `(`, 1)
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := NewCatalog(valid, valid)
		var invalid *InvalidPatternError
		if !errors.As(err, &invalid) || invalid.Category != "OK" {
			t.Errorf("Expected duplicate error for OK, got %v", err)
		}
	})
}

func TestCatalogOrder(t *testing.T) {
	expected := []string{
		CategoryName, CategoryPhone, CategoryEmail, CategorySSN,
		CategoryDate, CategoryMRN, CategoryAddress,
	}
	names := DefaultCatalog().Names()
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected order %v, got %v", expected, names)
	}

	late, _ := NewCategory("LATE", `zz+`, 1)
	early, _ := NewCategory("EARLY", `yy+`, 0)
	same, _ := NewCategory("SAME", `xx+`, 1)
	catalog, err := NewCatalog(late, early, same)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if got := strings.Join(catalog.Names(), ","); got != "EARLY,LATE,SAME" {
		t.Errorf("Expected priority then insertion order, got %s", got)
	}
}

func TestCatalogSelect(t *testing.T) {
	t.Run("all", func(t *testing.T) {
		selected, err := DefaultCatalog().Select([]string{"all"})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if selected.Len() != DefaultCatalog().Len() {
			t.Errorf("Expected every category, got %v", selected.Names())
		}
	})

	t.Run("keeps catalog order", func(t *testing.T) {
		selected, err := DefaultCatalog().Select([]string{CategoryMRN, CategoryPhone})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if got := strings.Join(selected.Names(), ","); got != "PHONE,MRN" {
			t.Errorf("Expected PHONE,MRN, got %s", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := DefaultCatalog().Select([]string{"CREDIT_CARD"}); err == nil {
			t.Error("Expected error for unknown detector")
		}
	})
}

func TestDetector(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		detector, err := New(config.PrivacyConfig{
			Enabled:      true,
			Detectors:    []string{"all"},
			ContextRules: true,
		}, logger.NewNop())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		report := detector.Redact("Call me at 555-123-4567")
		if report.RedactedText != "Call me at [PHONE]" {
			t.Errorf("Unexpected text: %q", report.RedactedText)
		}

		rules := detector.GetEnabledRules()
		if rules[len(rules)-1] != CategoryProvider {
			t.Errorf("Expected context rules last, got %v", rules)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		detector, err := New(config.PrivacyConfig{Detectors: []string{"all"}}, logger.NewNop())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		report := detector.Redact("Call me at 555-123-4567")
		if report.RedactedText != "Call me at 555-123-4567" || report.Total() != 0 {
			t.Errorf("Expected passthrough, got %+v", report)
		}
		if detector.Enabled() {
			t.Error("Expected detector to report disabled")
		}
	})

	t.Run("unknown detector", func(t *testing.T) {
		_, err := New(config.PrivacyConfig{Enabled: true, Detectors: []string{"IP"}}, logger.NewNop())
		if err == nil {
			t.Error("Expected error for unknown detector")
		}
	})
}
