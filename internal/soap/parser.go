package soap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseableOutput is returned when no note can be recovered from model
// output. It is terminal for that generation attempt.
var ErrUnparseableOutput = errors.New("unparseable model output")

// Method records which stage produced a note.
type Method string

const (
	MethodStrict    Method = "strict"
	MethodRecovered Method = "recovered"
)

// Result is a successfully parsed note.
type Result struct {
	Note   Note
	Method Method
}

// Parse reads raw model output as a SOAP note. The whole text is first parsed
// as a single object; if that fails, the first balanced {...} span is
// extracted and parsed instead. Anything else is ErrUnparseableOutput.
func Parse(raw string) (*Result, error) {
	note, strictErr := parseStrict(raw)
	if strictErr == nil {
		return &Result{Note: note, Method: MethodStrict}, nil
	}

	span, ok := ExtractObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no balanced object found (%v)", ErrUnparseableOutput, strictErr)
	}

	note, err := parseStrict(span)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableOutput, err)
	}
	return &Result{Note: note, Method: MethodRecovered}, nil
}

// parseStrict accepts text that is exactly one JSON object, surrounding
// whitespace aside. Unknown keys are ignored.
func parseStrict(text string) (Note, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Note{}, errors.New("empty input")
	}
	if trimmed[0] != '{' {
		return Note{}, errors.New("input is not an object")
	}

	// Unmarshal rejects anything after the object, so prose appended by the
	// model fails here and falls through to recovery.
	var wire wireNote
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return Note{}, err
	}
	if !wire.hasAnyField() {
		return Note{}, errors.New("object has none of subjective, objective, assessment, plan, icd10_codes")
	}

	return wire.note(), nil
}

// ExtractObject returns the first structurally balanced {...} span in text.
// Braces and brackets inside JSON strings are ignored. A '{' that never
// closes, or closes with the wrong delimiter, is skipped and the scan
// resumes at the next '{'.
func ExtractObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := balancedEnd(text, start); ok {
			return text[start:end], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// balancedEnd scans from the '{' at start and returns the offset just past
// its matching '}'.
func balancedEnd(text string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
