package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"github.com/raaihank/scribe-sentinel/internal/fhir"
	"github.com/raaihank/scribe-sentinel/internal/soap"
)

// ErrNotFound is returned when no note has the requested id.
var ErrNotFound = errors.New("note not found")

// StoredNote is one generated note as persisted. Only de-identified content
// is stored; the raw transcript never reaches the database.
type StoredNote struct {
	ID          string          `db:"id" json:"id"`
	PatientID   string          `db:"patient_id" json:"patient_id"`
	EncounterID string          `db:"encounter_id" json:"encounter_id"`
	Subjective  string          `db:"subjective" json:"subjective"`
	Objective   string          `db:"objective" json:"objective"`
	Assessment  string          `db:"assessment" json:"assessment"`
	Plan        string          `db:"plan" json:"plan"`
	ICD10Codes  pq.StringArray  `db:"icd10_codes" json:"icd10_codes"`
	Bundle      json.RawMessage `db:"bundle" json:"bundle"`
	Entities    json.RawMessage `db:"entities" json:"entities_found"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// NewStoredNote builds a record with a fresh sortable id.
func NewStoredNote(note soap.Note, bundle *fhir.Bundle, entities map[string]int, patientID, encounterID string) (*StoredNote, error) {
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	if entities == nil {
		entities = map[string]int{}
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity counts: %w", err)
	}

	codes := pq.StringArray{}
	codes = append(codes, note.ICD10Codes...)

	return &StoredNote{
		ID:          ulid.Make().String(),
		PatientID:   patientID,
		EncounterID: encounterID,
		Subjective:  note.Subjective,
		Objective:   note.Objective,
		Assessment:  note.Assessment,
		Plan:        note.Plan,
		ICD10Codes:  codes,
		Bundle:      bundleJSON,
		Entities:    entitiesJSON,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Note returns the SOAP note held by the record.
func (s *StoredNote) Note() soap.Note {
	codes := []string{}
	codes = append(codes, s.ICD10Codes...)
	return soap.Note{
		Subjective: s.Subjective,
		Objective:  s.Objective,
		Assessment: s.Assessment,
		Plan:       s.Plan,
		ICD10Codes: codes,
	}
}

// EntityCounts decodes the redaction counts recorded with the note.
func (s *StoredNote) EntityCounts() (map[string]int, error) {
	counts := map[string]int{}
	if len(s.Entities) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(s.Entities, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode entity counts: %w", err)
	}
	return counts, nil
}

// ListOptions filters List.
type ListOptions struct {
	PatientID string
	Limit     int
}
