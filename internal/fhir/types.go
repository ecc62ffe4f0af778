// Package fhir maps SOAP notes onto FHIR R4 resources.
package fhir

// Coding system and value constants
const (
	SystemLOINC = "http://loinc.org"
	SystemICD10 = "http://hl7.org/fhir/sid/icd-10-cm"

	LOINCOutpatientNote        = "34108-1"
	LOINCOutpatientNoteDisplay = "Outpatient Note"

	BundleTypeCollection     = "collection"
	CompositionStatusFinal   = "final"
	NarrativeStatusGenerated = "generated"
)

// Section titles in the order they always appear
const (
	SectionSubjective = "Subjective"
	SectionObjective  = "Objective"
	SectionAssessment = "Assessment"
	SectionPlan       = "Plan"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Narrative is XHTML text; Div always holds a single escaped <div>.
type Narrative struct {
	Status string `json:"status"`
	Div    string `json:"div"`
}

type Section struct {
	Title string          `json:"title"`
	Code  CodeableConcept `json:"code"`
	Text  Narrative       `json:"text"`
}

// CompositionEvent carries the diagnosis codes the document covers.
type CompositionEvent struct {
	Code []CodeableConcept `json:"code,omitempty"`
}

type Composition struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id"`
	Status       string             `json:"status"`
	Type         CodeableConcept    `json:"type"`
	Subject      Reference          `json:"subject"`
	Encounter    *Reference         `json:"encounter,omitempty"`
	Date         string             `json:"date"`
	Title        string             `json:"title"`
	Event        []CompositionEvent `json:"event,omitempty"`
	Section      []Section          `json:"section"`
}

// Codes returns the ICD-10 codes attached to the composition.
func (c *Composition) Codes() []string {
	var codes []string
	for _, ev := range c.Event {
		for _, cc := range ev.Code {
			for _, coding := range cc.Coding {
				if coding.System == SystemICD10 {
					codes = append(codes, coding.Code)
				}
			}
		}
	}
	return codes
}

type BundleEntry struct {
	FullURL  string       `json:"fullUrl,omitempty"`
	Resource *Composition `json:"resource"`
}

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp"`
	Entry        []BundleEntry `json:"entry"`
}

// Composition returns the document composition carried by the bundle.
func (b *Bundle) Composition() *Composition {
	for _, e := range b.Entry {
		if e.Resource != nil && e.Resource.ResourceType == "Composition" {
			return e.Resource
		}
	}
	return nil
}
