//go:build test

package testutils

import (
	"strings"
	"testing"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	ja := NewJSONAsserter(t)
	opts := ja.GetOptions()

	if !opts.IgnoreExtraKeys {
		t.Error("IgnoreExtraKeys should default to true")
	}
	if !opts.NilToEmptyArray {
		t.Error("NilToEmptyArray should default to true")
	}
	if !opts.AllowPresencePlaceholder {
		t.Error("AllowPresencePlaceholder should default to true")
	}
	if opts.CompareOnlyExpectedKeys {
		t.Error("CompareOnlyExpectedKeys should default to false")
	}
	if len(opts.IgnoredFields) != 0 {
		t.Error("IgnoredFields should default to empty slice")
	}
	if opts.IgnoreArrayOrder {
		t.Error("IgnoreArrayOrder should default to false")
	}
}

func TestJSONAsserter_FunctionalOptions(t *testing.T) {
	ja := NewJSONAsserter(t).WithOptions(
		WithIgnoreExtraKeys(false),
		WithIgnoredFields("last_seen", "rssi"),
		WithIgnoreArrayOrder(true),
	)
	opts := ja.GetOptions()

	if opts.IgnoreExtraKeys {
		t.Error("IgnoreExtraKeys should be false when explicitly set")
	}
	if len(opts.IgnoredFields) != 2 {
		t.Errorf("IgnoredFields should have 2 entries, got %d", len(opts.IgnoredFields))
	}
	if !opts.IgnoreArrayOrder {
		t.Error("IgnoreArrayOrder should be true when explicitly set")
	}
	// Untouched options keep their defaults
	if !opts.NilToEmptyArray {
		t.Error("NilToEmptyArray should remain true from defaults")
	}
}

func TestJSONAsserter_LegacyStructOptions(t *testing.T) {
	ja := NewJSONAsserter(t).WithOptionsStruct(JSONAssertOptions{
		IgnoreExtraKeys: false,
		IgnoredFields:   []string{"ts_us"},
	})
	opts := ja.GetOptions()

	if opts.IgnoreExtraKeys {
		t.Error("IgnoreExtraKeys should be false")
	}
	if len(opts.IgnoredFields) != 1 || opts.IgnoredFields[0] != "ts_us" {
		t.Errorf("IgnoredFields not applied, got %v", opts.IgnoredFields)
	}
}

func TestJSONAsserter_PresencePlaceholder(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{})

	actual := `{"address": "AA:BB:CC:DD:EE:FF", "name": "HRM Strap", "last_seen": 1724574000}`
	expected := `{"address": "AA:BB:CC:DD:EE:FF", "name": "HRM Strap", "last_seen": "<<PRESENCE>>"}`

	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Expected placeholder to match any last_seen value, got diff: %s", diff)
	}

	// Placeholder disabled: the literal string must mismatch the number
	strict := NewJSONAsserter(&testing.T{}).WithOptions(WithAllowPresencePlaceholder(false))
	if diff := strict.diff(actual, expected); diff == "" {
		t.Error("Expected diff when placeholder support is disabled")
	}
}

func TestJSONAsserter_IgnoreExtraKeys(t *testing.T) {
	actual := `{"kind": "heart_rate", "value": "72", "rssi": -61}`
	expected := `{"kind": "heart_rate", "value": "72"}`

	ja := NewJSONAsserter(&testing.T{})
	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Extra keys in actual should be ignored by default, got diff: %s", diff)
	}

	strict := NewJSONAsserter(&testing.T{}).WithOptions(WithIgnoreExtraKeys(false))
	if diff := strict.diff(actual, expected); diff == "" {
		t.Error("Expected diff for extra keys when IgnoreExtraKeys is false")
	}
}

func TestJSONAsserter_CompareOnlyExpectedKeys(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{}).WithOptions(
		WithCompareOnlyExpectedKeys(true),
		WithIgnoreExtraKeys(false),
	)

	actual := `{
		"device": {"address": "AA:BB:CC:DD:EE:FF", "name": "HRM Strap", "connectable": true},
		"readings": [{"kind": "heart_rate", "value": "96", "seq": 4}]
	}`
	expected := `{
		"device": {"address": "AA:BB:CC:DD:EE:FF"},
		"readings": [{"kind": "heart_rate", "value": "96"}]
	}`

	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Only expected keys should be compared, got diff: %s", diff)
	}
}

func TestJSONAsserter_NilToEmptyArray(t *testing.T) {
	actual := `{"name": "HRM Strap", "services": null}`
	expected := `{"name": "HRM Strap", "services": []}`

	ja := NewJSONAsserter(&testing.T{})
	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("null and [] should be equivalent by default, got diff: %s", diff)
	}

	strict := NewJSONAsserter(&testing.T{}).WithOptions(WithNilToEmptyArray(false))
	if diff := strict.diff(actual, expected); diff == "" {
		t.Error("Expected diff for null vs [] when normalization is disabled")
	}
}

func TestJSONAsserter_IgnoredFields(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{}).WithOptions(WithIgnoredFields("ts_us"))

	actual := `{"readings": [
		{"kind": "heart_rate", "value": "72", "ts_us": 1000},
		{"kind": "battery", "value": "55", "ts_us": 2000}
	]}`
	expected := `{"readings": [
		{"kind": "heart_rate", "value": "72", "ts_us": 9999},
		{"kind": "battery", "value": "55", "ts_us": 8888}
	]}`

	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("ts_us should be ignored, got diff: %s", diff)
	}
}

func TestJSONAsserter_IgnoreArrayOrder(t *testing.T) {
	actual := `{"readings": [
		{"kind": "battery", "value": "55"},
		{"kind": "heart_rate", "value": "72"}
	]}`
	expected := `{"readings": [
		{"kind": "heart_rate", "value": "72"},
		{"kind": "battery", "value": "55"}
	]}`

	ja := NewJSONAsserter(&testing.T{}).WithOptions(WithIgnoreArrayOrder(true))
	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Array order should be ignored, got diff: %s", diff)
	}

	ordered := NewJSONAsserter(&testing.T{})
	if diff := ordered.diff(actual, expected); diff == "" {
		t.Error("Expected diff for shuffled arrays when order matters")
	}
}

// Ignored fields must be stripped before array sorting: otherwise two
// readings that differ only in an ignored field can sort differently on
// the two sides and defeat IgnoreArrayOrder.
func TestJSONAsserter_IgnoredFieldsBeforeArraySort(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{}).WithOptions(
		WithIgnoreArrayOrder(true),
		WithIgnoredFields("seq"),
	)

	actual := `{"readings": [
		{"kind": "heart_rate", "value": "72", "seq": 2},
		{"kind": "heart_rate", "value": "96", "seq": 1}
	]}`
	expected := `{"readings": [
		{"kind": "heart_rate", "value": "96", "seq": 7},
		{"kind": "heart_rate", "value": "72", "seq": 9}
	]}`

	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Expected match once seq is ignored, got diff: %s", diff)
	}
}

func TestJSONAsserter_RootLevelArrays(t *testing.T) {
	actual := `[{"kind": "heart_rate", "value": "72"}]`
	expected := `[{"kind": "heart_rate", "value": "72"}]`

	ja := NewJSONAsserter(&testing.T{})
	if diff := ja.diff(actual, expected); diff != "" {
		t.Errorf("Root-level arrays should compare cleanly, got diff: %s", diff)
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(&testing.T{})

	t.Run("invalid expected JSON", func(t *testing.T) {
		diff := ja.diff(`{"valid": "json"}`, `{"invalid": json}`)
		if !strings.Contains(diff, "invalid expected JSON") {
			t.Errorf("Expected error about invalid expected JSON, got: %s", diff)
		}
	})

	t.Run("invalid actual JSON", func(t *testing.T) {
		diff := ja.diff(`{"invalid": json}`, `{"valid": "json"}`)
		if !strings.Contains(diff, "invalid actual JSON") {
			t.Errorf("Expected error about invalid actual JSON, got: %s", diff)
		}
	})
}

func TestMustJSON(t *testing.T) {
	got := MustJSON(map[string]string{"kind": "battery"})
	if got != `{"kind":"battery"}` {
		t.Errorf("unexpected MustJSON output: %s", got)
	}
}
