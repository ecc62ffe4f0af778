package privacy

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"sort"
)

// Canonical category names
const (
	CategoryName     = "NAME"
	CategoryPhone    = "PHONE"
	CategoryEmail    = "EMAIL"
	CategorySSN      = "SSN"
	CategoryDate     = "DATE"
	CategoryMRN      = "MRN"
	CategoryAddress  = "ADDRESS"
	CategoryPatient  = "PATIENT_NAME"
	CategoryProvider = "PROVIDER_NAME"
)

// ContextCounter is the aggregate counter the context rules are tallied under.
const ContextCounter = "CONTEXT_NAME"

var categoryNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Catalog is an ordered, immutable set of categories. Iteration order is by
// priority, ties broken by insertion order.
type Catalog struct {
	categories []Category
	index      map[string]int
}

// NewCategory compiles expr and builds a category from it.
func NewCategory(name, expr string, priority int) (Category, error) {
	return NewGroupCategory(name, expr, priority, 0)
}

// NewGroupCategory is like NewCategory but only the given capture group is
// replaced, leaving the rest of the match as context.
func NewGroupCategory(name, expr string, priority, group int) (Category, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Category{}, &InvalidPatternError{Category: name, Reason: err.Error()}
	}
	return Category{Name: name, Pattern: re, Priority: priority, Group: group}, nil
}

// NewCatalog validates categories and returns them as a catalog.
func NewCatalog(categories ...Category) (*Catalog, error) {
	c := &Catalog{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}

	seen := make(map[string]bool, len(categories))
	for _, cat := range categories {
		if err := validateCategory(cat); err != nil {
			return nil, err
		}
		if seen[cat.Name] {
			return nil, &InvalidPatternError{Category: cat.Name, Reason: "duplicate category name"}
		}
		seen[cat.Name] = true
		c.categories = append(c.categories, cat)
	}

	sort.SliceStable(c.categories, func(i, j int) bool {
		return c.categories[i].Priority < c.categories[j].Priority
	})
	for i, cat := range c.categories {
		c.index[cat.Name] = i
	}

	return c, nil
}

// MustCatalog is NewCatalog for static tables; it panics on error.
func MustCatalog(categories ...Category) *Catalog {
	c, err := NewCatalog(categories...)
	if err != nil {
		panic(err)
	}
	return c
}

func validateCategory(cat Category) error {
	if !categoryNamePattern.MatchString(cat.Name) {
		return &InvalidPatternError{Category: cat.Name, Reason: "name must be upper-case letters, digits or underscores"}
	}
	if cat.Pattern == nil {
		return &InvalidPatternError{Category: cat.Name, Reason: "pattern is nil"}
	}
	if cat.Group < 0 || cat.Group > cat.Pattern.NumSubexp() {
		return &InvalidPatternError{Category: cat.Name, Reason: fmt.Sprintf("capture group %d out of range", cat.Group)}
	}

	re, err := syntax.Parse(cat.Pattern.String(), syntax.Perl)
	if err != nil {
		return &InvalidPatternError{Category: cat.Name, Reason: err.Error()}
	}
	re = re.Simplify()
	if matchesEmpty(re) {
		return &InvalidPatternError{Category: cat.Name, Reason: "pattern can match an empty span"}
	}
	if cat.Group > 0 {
		if sub := findCapture(re, cat.Group); sub != nil && matchesEmpty(sub) {
			return &InvalidPatternError{Category: cat.Name, Reason: fmt.Sprintf("capture group %d can match an empty span", cat.Group)}
		}
	}
	return nil
}

// matchesEmpty reports whether re can match a zero-length span. Assertions
// such as \b or ^ consume nothing and count as empty.
func matchesEmpty(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpNoMatch:
		return false
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary,
		syntax.OpNoWordBoundary:
		return true
	case syntax.OpLiteral:
		return len(re.Rune) == 0
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return false
	case syntax.OpCapture, syntax.OpPlus:
		return matchesEmpty(re.Sub[0])
	case syntax.OpStar, syntax.OpQuest:
		return true
	case syntax.OpRepeat:
		return re.Min == 0 || matchesEmpty(re.Sub[0])
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !matchesEmpty(sub) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		for _, sub := range re.Sub {
			if matchesEmpty(sub) {
				return true
			}
		}
		return false
	}
	return true
}

func findCapture(re *syntax.Regexp, index int) *syntax.Regexp {
	if re.Op == syntax.OpCapture && re.Cap == index {
		return re
	}
	for _, sub := range re.Sub {
		if found := findCapture(sub, index); found != nil {
			return found
		}
	}
	return nil
}

// Categories returns the categories in processing order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Names returns category names in processing order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	return len(c.categories)
}

// Lookup returns the category with the given name.
func (c *Catalog) Lookup(name string) (Category, bool) {
	i, ok := c.index[name]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Select returns a catalog restricted to the named categories, keeping this
// catalog's order. The name "all" selects every category.
func (c *Catalog) Select(names []string) (*Catalog, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "all" {
			return c, nil
		}
		if _, ok := c.index[name]; !ok {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		wanted[name] = true
	}

	selected := make([]Category, 0, len(wanted))
	for _, cat := range c.categories {
		if wanted[cat.Name] {
			selected = append(selected, cat)
		}
	}
	return NewCatalog(selected...)
}

// DefaultCatalog returns the standard category set in its documented order:
// NAME, PHONE, EMAIL, SSN, DATE, MRN, ADDRESS.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// ContextRules returns the rules applied after every catalog pass.
func ContextRules() *Catalog {
	return contextRules
}

var defaultCatalog = MustCatalog(
	mustCategory(CategoryName, `\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`, 10, 0),
	mustCategory(CategoryPhone, `(?:\+?\b1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`, 20, 0),
	mustCategory(CategoryEmail, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, 30, 0),
	mustCategory(CategorySSN, `\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`, 40, 0),
	mustCategory(CategoryDate, `\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`, 50, 0),
	mustCategory(CategoryMRN, `\b(?i:mrn)\s*[-:#]?\s*\d+\b`, 60, 0),
	mustCategory(CategoryAddress, `(?i)\b\d{1,5}\s+(?:[a-z0-9]+\s+){0,3}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|way)\b\.?`, 70, 0),
)

var contextRules = MustCatalog(
	mustCategory(CategoryPatient, `\bPatient\s+([A-Z][a-z]+)\b`, 10, 1),
	mustCategory(CategoryProvider, `\b(?:Dr\.?|Doctor)\s+([A-Z][a-z]+)\b`, 20, 1),
)

func mustCategory(name, expr string, priority, group int) Category {
	cat, err := NewGroupCategory(name, expr, priority, group)
	if err != nil {
		panic(err)
	}
	return cat
}
