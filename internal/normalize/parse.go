package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clipnote/internal/model"
)

var (
	// ErrParse means no JSON object could be decoded from the response.
	ErrParse = errors.New("normalize: response is not valid json")
	// ErrMalformed means the JSON decoded but does not match the envelope.
	ErrMalformed = errors.New("normalize: unexpected response shape")
)

// ModelError is returned when the model itself reports that it could not
// process the content.
type ModelError struct {
	Message string
}

func (e *ModelError) Error() string {
	return "normalize: model reported error: " + e.Message
}

// ErrModelReported matches any *ModelError with errors.Is.
var ErrModelReported = errors.New("normalize: model reported error")

func (e *ModelError) Is(target error) bool { return target == ErrModelReported }

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse decodes a model response into a Result.
func Parse(raw string) (model.Result, error) {
	obj, ok := ExtractJSONObject(stripFences(raw))
	if !ok {
		return model.Result{}, ErrParse
	}

	var env envelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return model.Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	data := bytes.TrimSpace(env.Data)

	switch env.Type {
	case "recipe":
		var rec model.Recipe
		if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &rec) != nil {
			return model.Result{}, fmt.Errorf("%w: recipe data is not an object", ErrMalformed)
		}
		if strings.TrimSpace(rec.Name) == "" {
			return model.Result{}, fmt.Errorf("%w: recipe without name", ErrMalformed)
		}
		return model.RecipeResult(rec), nil
	case "summary":
		var sum model.Summary
		if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &sum) != nil {
			return model.Result{}, fmt.Errorf("%w: summary data is not an object", ErrMalformed)
		}
		if strings.TrimSpace(sum.Content) == "" {
			return model.Result{}, fmt.Errorf("%w: summary without content", ErrMalformed)
		}
		return model.SummaryResult(sum), nil
	case "error":
		return model.Result{}, &ModelError{Message: errorMessage(data)}
	default:
		return model.Result{}, fmt.Errorf("%w: type %q", ErrMalformed, env.Type)
	}
}

func errorMessage(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(data)
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the first balanced {...} span of s. Braces inside
// JSON strings are ignored.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
