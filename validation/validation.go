package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Violations struct {
	Errors map[string][]error
}

func (violations Violations) MarshalJSON() ([]byte, error) {
	errors := make(map[string][]string)
	for fieldName, fieldErrors := range violations.Errors {
		errors[fieldName] = make([]string, len(fieldErrors))
		for index, fieldError := range fieldErrors {
			errors[fieldName][index] = fieldError.Error()
		}
	}

	return json.Marshal(map[string]map[string][]string{
		"errors": errors,
	})
}

func (violations Violations) IsEmpty() bool {
	return len(violations.Errors) == 0
}

// Error lists every violation, ordered by field name.
func (violations Violations) Error() string {
	names := make([]string, 0, len(violations.Errors))
	for name := range violations.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, err := range violations.Errors[name] {
			parts = append(parts, err.Error())
		}
	}
	return "validation: " + strings.Join(parts, "; ")
}

// Err returns nil when there are no violations.
func (violations Violations) Err() error {
	if violations.IsEmpty() {
		return nil
	}
	return violations
}

// ValidateMap checks every attribute against its rules. Rules are "required",
// "integer", "boolean", "min:N" and "max:N"; min and max compare integers.
// Attributes without rules are violations themselves.
func ValidateMap(data map[string]any, rules map[string][]string) Violations {
	var violations Violations
	violations.Errors = make(map[string][]error)

	for attributeName, attributeValue := range data {
		attributeRules, attributeRulesExists := rules[attributeName]
		if !attributeRulesExists {
			violations.Errors[attributeName] = append(violations.Errors[attributeName], fmt.Errorf("no rules found :: %s", attributeName))
			continue
		}

		var errorCollection []error
		for _, attributeRule := range attributeRules {
			if err := validate(attributeRule, attributeName, attributeValue); err != nil {
				errorCollection = append(errorCollection, err)
			}
		}

		if len(errorCollection) != 0 {
			violations.Errors[attributeName] = errorCollection
		}
	}

	return violations
}

func validate(rule string, name string, value any) error {
	rule, argument, _ := strings.Cut(rule, ":")

	switch rule {
	case "required":
		{
			err := fmt.Errorf("%s is required", name)

			switch v := value.(type) {
			case nil:
				{
					return err
				}
			case string:
				{
					if v == "" {
						return err
					}
				}
			case []any:
				{
					if len(v) == 0 {
						return err
					}
				}
			}
		}
	case "integer":
		{
			if s, ok := value.(string); ok && s != "" && !ValidateInteger(s) {
				return fmt.Errorf("%s must be an integer", name)
			}
		}
	case "boolean":
		{
			if s, ok := value.(string); ok && s != "" && !ValidateBoolean(s) {
				return fmt.Errorf("%s must be a boolean", name)
			}
		}
	case "min", "max":
		{
			size, err := strconv.Atoi(argument)
			if err != nil {
				return fmt.Errorf("invalid validation rule :: %s:%s", rule, argument)
			}

			s, ok := value.(string)
			if !ok || s == "" || !ValidateInteger(s) {
				return nil
			}
			if rule == "min" && !ValidateGreaterThenOrEqual(s, size) {
				return fmt.Errorf("%s must be at least %d", name, size)
			}
			if rule == "max" && !ValidateLesserThenOrEqual(s, size) {
				return fmt.Errorf("%s must be at most %d", name, size)
			}
		}
	default:
		{
			return fmt.Errorf("invalid validation rule :: %s", rule)
		}
	}

	return nil
}

// Numberic operations
func ValidateInteger(value string) bool {
	_, err := strconv.Atoi(value)
	return err == nil
}

func ValidateGreaterThenOrEqual(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt >= size
}

func ValidateLesserThenOrEqual(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt <= size
}

// Boolean operations
func ValidateBoolean(value string) bool {
	return ValidateTrue(value) || ValidateFalse(value)
}

func ValidateTrue(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func ValidateFalse(value string) bool {
	switch strings.ToLower(value) {
	case "0", "false", "no":
		return true
	}
	return false
}
