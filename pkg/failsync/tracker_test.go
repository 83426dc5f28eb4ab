package failsync

import (
	"testing"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
)

func TestFingerprint_RoundTrip(t *testing.T) {
	values := []any{
		"john.doe@example.com",
		"  padded  ",
		nil,
		map[string]any{"b": 2, "a": 1},
		[]any{1, 2, 3},
	}
	for _, v := range values {
		f1 := Fingerprint(v)
		f2 := Fingerprint(v)
		if f1 != f2 {
			t.Errorf("Fingerprint(%v) not stable: %q vs %q", v, f1, f2)
		}
	}
}

func TestFingerprint_NilIsEmptyString(t *testing.T) {
	if Fingerprint(nil) != Fingerprint("") {
		t.Error("Fingerprint(nil) should equal Fingerprint(\"\")")
	}
}

func TestFingerprint_MapKeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"x": 1, "y": 2}
	b := map[string]any{"y": 2, "x": 1}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("map fingerprint should be insensitive to key insertion order")
	}
}

func TestExtractFailedFields_WithErrorsEnvelope(t *testing.T) {
	body := []byte(`{"message":"validation failed","errors":{"email":["The email has already been taken."]}}`)
	payload := map[string]any{"email": "john.doe@example.com"}

	fields := ExtractFailedFields(body, payload)
	ff, ok := fields["email"]
	if !ok {
		t.Fatalf("expected email field, got %+v", fields)
	}
	if ff.ValueFingerprint != Fingerprint("john.doe@example.com") {
		t.Error("fingerprint mismatch")
	}
}

func TestExtractFailedFields_InfersFieldFromMessage(t *testing.T) {
	body := []byte(`{"message":"mobile phone is invalid"}`)
	payload := map[string]any{"mobile_phone": "+15551234567"}

	fields := ExtractFailedFields(body, payload)
	if _, ok := fields["mobile_phone"]; !ok {
		t.Errorf("expected mobile_phone field to be inferred, got %+v", fields)
	}
}

func TestExtractFailedFields_FallsBackToGeneral(t *testing.T) {
	body := []byte(`{"message":"something went wrong"}`)
	fields := ExtractFailedFields(body, map[string]any{})
	if _, ok := fields["_general"]; !ok {
		t.Errorf("expected _general fallback, got %+v", fields)
	}
}

func TestCategorize(t *testing.T) {
	dup := map[string]model.FailedField{"email": {Error: "The email has already been taken."}}
	if got := categorize(422, dup); got != model.CategoryDuplicateFields {
		t.Errorf("categorize duplicate = %v", got)
	}

	missing := map[string]model.FailedField{"first_name": {Error: "first_name is required"}}
	if got := categorize(422, missing); got != model.CategoryMissingRequired {
		t.Errorf("categorize missing = %v", got)
	}

	if got := categorize(500, nil); got != "http_500" {
		t.Errorf("categorize http_500 = %v", got)
	}
}
