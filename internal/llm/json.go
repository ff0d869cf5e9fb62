package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/trove/internal/errors"
)

// Validator is implemented by decoded model outputs that carry semantic rules.
type Validator interface {
	Validate() error
}

// DecodeJSON strictly decodes a model's text into T. Text that is not a
// single JSON value of the expected shape yields MALFORMED_OUTPUT; a value
// whose Validate method fails yields INVALID_OUTPUT.
func DecodeJSON[T any](stage, text string) (T, error) {
	var out T
	raw := StripFences(text)
	if raw == "" {
		return out, errors.NewMalformedOutput(stage, fmt.Errorf("empty output"))
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, errors.NewMalformedOutput(stage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return out, errors.NewMalformedOutput(stage, fmt.Errorf("trailing data after JSON value"))
	}

	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, errors.NewInvalidOutput(stage, err.Error())
		}
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
