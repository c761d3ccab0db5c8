package llm

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	// objectPattern is the last-resort extraction of the outermost JSON object.
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

	validate = validator.New()
)

// ParseStructured parses LLM output into out and validates it against its
// struct tags. Markdown fences are stripped first; if the cleaned text does
// not unmarshal, the outermost JSON object is extracted and retried. Any
// remaining failure is a *SchemaViolationError.
func ParseStructured(content string, out any) error {
	cleaned := strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		extracted := objectPattern.FindString(cleaned)
		if extracted == "" {
			return &SchemaViolationError{Detail: "no JSON object in response", Raw: content, Err: err}
		}
		if err := json.Unmarshal([]byte(extracted), out); err != nil {
			return &SchemaViolationError{Detail: "response is not valid JSON", Raw: content, Err: err}
		}
	}

	if isStruct(out) {
		if err := validate.Struct(out); err != nil {
			return &SchemaViolationError{Detail: "required fields missing or invalid", Raw: content, Err: err}
		}
	}
	return nil
}

func isStruct(out any) bool {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	return v.Kind() == reflect.Struct
}
