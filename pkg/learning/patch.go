package learning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PatternPatch enumerates the fields of an [ErrorPattern] that may be updated
// after creation. Nil fields are left unchanged.
type PatternPatch struct {
	ErrorType    *ErrorType `json:"error_type,omitempty"`
	Improving    *bool      `json:"improving,omitempty"`
	LanguageCode *string    `json:"language_code,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p PatternPatch) IsEmpty() bool {
	return p.ErrorType == nil && p.Improving == nil && p.LanguageCode == nil
}

// Validate checks the patch values.
func (p PatternPatch) Validate() error {
	if p.ErrorType != nil && !p.ErrorType.IsValid() {
		return Validationf("unknown error type %q", *p.ErrorType)
	}
	if p.LanguageCode != nil {
		lc := strings.TrimSpace(*p.LanguageCode)
		if lc == "" || len(lc) > 16 {
			return Validationf("invalid language code %q", *p.LanguageCode)
		}
	}
	return nil
}

// Apply writes the patch onto pat.
func (p PatternPatch) Apply(pat *ErrorPattern) {
	if p.ErrorType != nil {
		pat.ErrorType = *p.ErrorType
	}
	if p.Improving != nil {
		pat.Improving = *p.Improving
	}
	if p.LanguageCode != nil {
		pat.LanguageCode = strings.TrimSpace(*p.LanguageCode)
	}
}

// DecodePatternPatch parses a JSON patch document. Fields other than
// error_type, improving and language_code are rejected.
func DecodePatternPatch(data []byte) (PatternPatch, error) {
	var p PatternPatch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return PatternPatch{}, fmt.Errorf("%w: decode pattern patch: %v", ErrValidation, err)
	}
	if p.ErrorType != nil {
		t, err := ParseErrorType(string(*p.ErrorType))
		if err != nil {
			return PatternPatch{}, err
		}
		p.ErrorType = &t
	}
	if err := p.Validate(); err != nil {
		return PatternPatch{}, err
	}
	return p, nil
}
