// Package validation provides custom validation rules for the application.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/outboxd/internal/errors"
)

var (
	// eventNameRegex matches dotted procedure names such as "admin.outbox.poke"
	eventNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9:._-]*$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// EventName validates the format of event and consumer names.
var EventName = validation.NewStringRuleWithError(
	func(s string) bool {
		return eventNameRegex.MatchString(s)
	},
	validation.NewError(
		"validation_event_name",
		"must start with a letter or digit and contain only letters, digits, '.', ':', '_' or '-'",
	),
)

// JSONObject validates that a []byte or json.RawMessage holds a JSON object.
var JSONObject = validation.By(func(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return validation.NewError("validation_json_type", "must be raw JSON bytes")
	}
	if len(raw) == 0 {
		return nil // Let Required handle empty payloads
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return validation.NewError("validation_json_object", "must be a valid JSON object")
	}
	return nil
})

// MaxBytes validates that raw bytes do not exceed limit. A non-positive limit disables the check.
func MaxBytes(limit int) validation.Rule {
	return validation.By(func(value interface{}) error {
		if limit <= 0 {
			return nil
		}
		var n int
		switch v := value.(type) {
		case json.RawMessage:
			n = len(v)
		case []byte:
			n = len(v)
		case string:
			n = len(v)
		default:
			return validation.NewError("validation_max_bytes_type", "must be bytes or a string")
		}
		if n > limit {
			return validation.NewError(
				"validation_max_bytes",
				fmt.Sprintf("must not exceed %d bytes (got %d)", limit, n),
			)
		}
		return nil
	})
}
