package exam

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validator exposes the shared instance so request DTOs use the same rules
// and field naming.
func Validator() *validator.Validate { return validate }

// FromValidator converts the first field error into a ValidationError.
func FromValidator(err error) *ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ValidationError{Field: field, Msg: msg}
	}
	return &ValidationError{Msg: err.Error()}
}

// ValidateDefinition checks a test definition before it is stored.
func ValidateDefinition(def TestDefinition) error {
	if err := validate.Struct(def); err != nil {
		ve := FromValidator(err)
		// Test is embedded, so its fields carry an extra "Test." segment.
		ve.Field = strings.TrimPrefix(ve.Field, "Test.")
		return ve
	}
	if def.AvailableFrom != nil && def.AvailableUntil != nil && def.AvailableFrom.After(*def.AvailableUntil) {
		return &ValidationError{Field: "availableUntil", Msg: "must not be before availableFrom"}
	}
	if def.IsPublished && len(def.Questions) == 0 {
		return &ValidationError{Field: "questions", Msg: "a published test needs at least one question"}
	}
	seen := make(map[string]struct{}, len(def.Questions))
	for i, q := range def.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if _, dup := seen[q.ID]; dup {
			return &ValidationError{Field: field + ".id", Msg: "duplicate question id"}
		}
		seen[q.ID] = struct{}{}
		if err := validateQuestion(q); err != nil {
			err.Field = field + "." + err.Field
			return err
		}
	}
	return nil
}

func validateQuestion(q Question) *ValidationError {
	switch q.Type {
	case SingleChoice:
		if len(q.Options) < 2 {
			return &ValidationError{Field: "options", Msg: "single choice needs at least two options"}
		}
		correct := 0
		ids := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := ids[o.ID]; dup {
				return &ValidationError{Field: "options", Msg: "duplicate option id " + o.ID}
			}
			ids[o.ID] = struct{}{}
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return &ValidationError{Field: "options", Msg: "exactly one option must be correct"}
		}
	case Essay, Programming:
		if len(q.Options) > 0 {
			return &ValidationError{Field: "options", Msg: "only single choice questions have options"}
		}
	}
	return nil
}
