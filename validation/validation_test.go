package validation

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateMap(t *testing.T) {
	rules := map[string][]string{
		"num_threads":       {"required", "integer", "min:1"},
		"enable_keep_alive": {"boolean"},
		"max_request_size":  {"integer", "min:1024", "max:65536"},
	}

	violations := ValidateMap(map[string]any{
		"num_threads":       "4",
		"enable_keep_alive": "yes",
		"max_request_size":  "16384",
	}, rules)
	if !violations.IsEmpty() {
		t.Errorf("expected no violations, got %v", violations)
	}
	if violations.Err() != nil {
		t.Error("Err should be nil without violations")
	}

	violations = ValidateMap(map[string]any{
		"num_threads":       "0",
		"enable_keep_alive": "maybe",
		"max_request_size":  "abc",
		"unknown":           "x",
	}, rules)

	for _, name := range []string{"num_threads", "enable_keep_alive", "max_request_size", "unknown"} {
		if len(violations.Errors[name]) == 0 {
			t.Errorf("expected a violation for %s", name)
		}
	}
	if !strings.HasPrefix(violations.Error(), "validation: ") {
		t.Errorf("unexpected error text %q", violations.Error())
	}
}

func TestRequired(t *testing.T) {
	violations := ValidateMap(map[string]any{"listening_ports": ""}, map[string][]string{
		"listening_ports": {"required"},
	})
	if violations.IsEmpty() {
		t.Error("empty value should violate required")
	}
}

func TestViolationsMarshalJSON(t *testing.T) {
	violations := ValidateMap(map[string]any{"n": "x"}, map[string][]string{"n": {"integer"}})

	raw, err := json.Marshal(violations)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]map[string][]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["errors"]["n"][0] != "n must be an integer" {
		t.Errorf("unexpected json %s", raw)
	}
}

func TestBooleans(t *testing.T) {
	for _, v := range []string{"yes", "YES", "true", "1"} {
		if !ValidateTrue(v) {
			t.Errorf("%s should be true", v)
		}
	}
	for _, v := range []string{"no", "false", "0"} {
		if !ValidateFalse(v) {
			t.Errorf("%s should be false", v)
		}
	}
	if ValidateBoolean("on") {
		t.Error("on is not a boolean")
	}
}
