// Package soap turns raw language-model output into a validated SOAP note.
package soap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Note is a clinical note in SOAP form plus its diagnosis codes. The four
// narrative fields are always present; absent values are empty strings.
type Note struct {
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       string   `json:"plan"`
	ICD10Codes []string `json:"icd10_codes"`
}

// Sections returns the narrative fields in SOAP order.
func (n Note) Sections() [4]string {
	return [4]string{n.Subjective, n.Objective, n.Assessment, n.Plan}
}

// IsEmpty reports whether the note has no narrative text and no codes.
func (n Note) IsEmpty() bool {
	for _, s := range n.Sections() {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return len(n.ICD10Codes) == 0
}

// wireNote is the object shape the model is asked to produce.
type wireNote struct {
	Subjective *narrative `json:"subjective"`
	Objective  *narrative `json:"objective"`
	Assessment *narrative `json:"assessment"`
	Plan       *narrative `json:"plan"`
	ICD10Codes *codeList  `json:"icd10_codes"`
}

func (w wireNote) hasAnyField() bool {
	return w.Subjective != nil || w.Objective != nil || w.Assessment != nil || w.Plan != nil || w.ICD10Codes != nil
}

func (w wireNote) note() Note {
	n := Note{
		Subjective: w.Subjective.String(),
		Objective:  w.Objective.String(),
		Assessment: w.Assessment.String(),
		Plan:       w.Plan.String(),
		ICD10Codes: []string{},
	}
	if w.ICD10Codes != nil {
		n.ICD10Codes = append(n.ICD10Codes, *w.ICD10Codes...)
	}
	return n
}

// narrative accepts a string, null, a scalar or a list of strings. Models
// sometimes emit a section as bullet items; those are joined by newlines.
type narrative string

func (n *narrative) String() string {
	if n == nil {
		return ""
	}
	return string(*n)
}

func (n *narrative) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = narrative(s)
		return nil
	case len(data) > 0 && data[0] == '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("section list must contain strings: %w", err)
		}
		*n = narrative(strings.Join(items, "\n"))
		return nil
	case len(data) > 0 && data[0] == '{':
		return errors.New("section must be text, got an object")
	default:
		// numbers and booleans keep their literal spelling
		*n = narrative(string(data))
		return nil
	}
}

// codeList accepts a list of codes, null, or a single comma separated string.
// Codes are trimmed and empty entries dropped; order is preserved.
type codeList []string

func (c *codeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw []string

	switch {
	case bytes.Equal(data, []byte("null")):
		*c = codeList{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.Split(s, ",")
	case len(data) > 0 && data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, item := range items {
			code, err := codeString(item)
			if err != nil {
				return err
			}
			raw = append(raw, code)
		}
	default:
		return fmt.Errorf("icd10_codes must be a list, got %s", strconv.Quote(string(data)))
	}

	codes := make(codeList, 0, len(raw))
	for _, code := range raw {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	*c = codes
	return nil
}

// codeString reads one list element, which is either a bare code or an
// object carrying the code under "code".
func codeString(item json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Code *string `json:"code"`
	}
	if err := json.Unmarshal(item, &obj); err == nil && obj.Code != nil {
		return *obj.Code, nil
	}
	return "", fmt.Errorf("invalid icd10 code entry: %s", string(item))
}
