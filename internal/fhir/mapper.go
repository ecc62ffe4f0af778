package fhir

import (
	"html"
	"time"

	"github.com/raaihank/scribe-sentinel/internal/soap"
)

const xhtmlOpen = `<div xmlns="http://www.w3.org/1999/xhtml">`

var sectionCodes = [4]struct {
	title string
	text  string
}{
	{SectionSubjective, "Patient symptoms and history"},
	{SectionObjective, "Physical exam and vitals"},
	{SectionAssessment, "Diagnoses"},
	{SectionPlan, "Treatment plan"},
}

// Mapper builds document bundles. The clock is the only input besides the
// note and identifiers, so output is reproducible with a fixed clock.
type Mapper struct {
	now func() time.Time
}

// NewMapper returns a mapper using the wall clock.
func NewMapper() *Mapper {
	return &Mapper{now: time.Now}
}

// NewMapperWithClock returns a mapper that reads the creation time from now.
func NewMapperWithClock(now func() time.Time) *Mapper {
	return &Mapper{now: now}
}

// ToBundle maps a note with the wall clock.
func ToBundle(note soap.Note, subjectID, encounterID string) *Bundle {
	return NewMapper().ToBundle(note, subjectID, encounterID)
}

// ToBundle maps note into a collection bundle holding one Composition with
// exactly four sections, in SOAP order, whatever the note contains.
func (m *Mapper) ToBundle(note soap.Note, subjectID, encounterID string) *Bundle {
	created := m.now().UTC().Format(time.RFC3339)

	texts := note.Sections()
	sections := make([]Section, len(sectionCodes))
	for i, sc := range sectionCodes {
		sections[i] = Section{
			Title: sc.title,
			Code:  CodeableConcept{Text: sc.text},
			Text:  Narrative{Status: NarrativeStatusGenerated, Div: Div(texts[i])},
		}
	}

	composition := &Composition{
		ResourceType: "Composition",
		ID:           "composition-" + encounterID,
		Status:       CompositionStatusFinal,
		Type: CodeableConcept{
			Coding: []Coding{{
				System:  SystemLOINC,
				Code:    LOINCOutpatientNote,
				Display: LOINCOutpatientNoteDisplay,
			}},
		},
		Subject: Reference{Reference: "Patient/" + subjectID},
		Date:    created,
		Title:   "SOAP Note",
		Section: sections,
	}
	if encounterID != "" {
		composition.Encounter = &Reference{Reference: "Encounter/" + encounterID}
	}

	if len(note.ICD10Codes) > 0 {
		concepts := make([]CodeableConcept, 0, len(note.ICD10Codes))
		for _, code := range note.ICD10Codes {
			concepts = append(concepts, CodeableConcept{
				Coding: []Coding{{System: SystemICD10, Code: code}},
			})
		}
		composition.Event = []CompositionEvent{{Code: concepts}}
	}

	return &Bundle{
		ResourceType: "Bundle",
		ID:           "bundle-" + encounterID,
		Type:         BundleTypeCollection,
		Timestamp:    created,
		Entry: []BundleEntry{{
			FullURL:  "Composition/" + composition.ID,
			Resource: composition,
		}},
	}
}

// Div wraps text as escaped XHTML narrative.
func Div(text string) string {
	return xhtmlOpen + html.EscapeString(text) + "</div>"
}

// DivText recovers the plain text from a narrative produced by Div.
func DivText(div string) string {
	if len(div) < len(xhtmlOpen)+len("</div>") {
		return ""
	}
	return html.UnescapeString(div[len(xhtmlOpen) : len(div)-len("</div>")])
}
