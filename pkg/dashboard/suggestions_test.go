package dashboard

import "testing"

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name    string
		message string
		errType string
		want    string
	}{
		{"duplicate", "email has already been taken", "", categoryDuplicateField},
		{"rate limit", "429 too many requests", "", categoryRateLimit},
		{"missing", "first_name is required", "", categoryMissingField},
		{"connectivity by message", "connection refused", "", categoryConnectivity},
		{"connectivity by type", "transient failure", "ConnectionTimeout", categoryConnectivity},
		{"validation", "invalid phone format", "", categoryValidation},
		{"unknown", "something unexpected happened", "", categoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.message, tt.errType); got != tt.want {
				t.Errorf("categorizeError(%q, %q) = %q, want %q", tt.message, tt.errType, got, tt.want)
			}
		})
	}
}

func TestCalculateSeverity(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		category string
		want     string
	}{
		{"rate limit always high", 1, categoryRateLimit, severityHigh},
		{"connectivity always high", 1, categoryConnectivity, severityHigh},
		{"duplicate field below threshold falls to generic", 1, categoryDuplicateField, severityLow},
		{"duplicate field medium band", 2, categoryDuplicateField, severityMedium},
		{"duplicate field high band", 10, categoryDuplicateField, severityHigh},
		{"generic high", 10, categoryUnknown, severityHigh},
		{"generic medium", 3, categoryUnknown, severityMedium},
		{"generic low", 1, categoryUnknown, severityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateSeverity(tt.count, tt.category); got != tt.want {
				t.Errorf("calculateSeverity(%d, %q) = %q, want %q", tt.count, tt.category, got, tt.want)
			}
		})
	}
}

func TestExtractField(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"the email address has already been taken", "email_address"},
		{"field: mobile_phone", "mobile_phone"},
		{"last_name is required", "last_name"},
		{"no recognizable pattern here", ""},
	}
	for _, tt := range tests {
		if got := extractField(tt.message); got != tt.want {
			t.Errorf("extractField(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestSuggestionID_Deterministic(t *testing.T) {
	id1 := suggestionID("duplicate_field:email", []string{"E1", "E2"})
	id2 := suggestionID("duplicate_field:email", []string{"E1", "E2"})
	if id1 != id2 {
		t.Fatalf("suggestionID is not deterministic: %q != %q", id1, id2)
	}

	id3 := suggestionID("duplicate_field:email", []string{"E3"})
	if id1 == id3 {
		t.Fatal("suggestionID should differ for different affected records")
	}
}
