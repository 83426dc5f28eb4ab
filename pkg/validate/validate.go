// Package validate implements the Data Validator (C4): pure field
// normalization and record-level validation. No function here performs
// I/O or panics — every failure is returned as a value.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
var vinRe = regexp.MustCompile(`^[A-Za-z0-9]{17}$`)
var nonDigit = regexp.MustCompile(`\D`)

// CleanPhone normalizes a phone number to E.164 form. Returns "" when
// the input cannot be normalized.
func CleanPhone(s string) string {
	digits := nonDigit.ReplaceAllString(s, "")
	switch {
	case strings.HasPrefix(strings.TrimSpace(s), "+"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+1" + digits[1:]
	case len(digits) >= 11 && len(digits) <= 15:
		return "+" + digits
	default:
		return ""
	}
}

// CleanEmail lowercases, strips internal whitespace, and validates
// against a conventional email pattern. Returns "" when invalid.
func CleanEmail(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	s = strings.TrimSpace(s)
	if !emailRe.MatchString(s) {
		return ""
	}
	return s
}

// Gender is the normalized gender code: 1 (male), 0 (female), or -1
// (unknown / unset).
type Gender int

const (
	GenderFemale Gender = 0
	GenderMale   Gender = 1
	GenderUnset  Gender = -1
)

var maleVariants = map[string]bool{"m": true, "male": true, "1": true}
var femaleVariants = map[string]bool{"f": true, "female": true, "0": true, "2": true}

// NormalizeGender maps a variety of source representations to 0/1/unset.
func NormalizeGender(x any) Gender {
	s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", x)))
	if maleVariants[s] {
		return GenderMale
	}
	if femaleVariants[s] {
		return GenderFemale
	}
	return GenderUnset
}

// FormatDate normalizes a date-like input to "YYYY-MM-DD". Returns ""
// for anything that cannot be parsed as a date or RFC3339 timestamp.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	layouts := []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "01/02/2006"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// ValidateVIN reports whether s is exactly 17 alphanumeric characters.
func ValidateVIN(s string) bool {
	return vinRe.MatchString(s)
}

// Result is the outcome of validating one record: whether it is
// usable, the field errors encountered, and the cleaned payload.
type Result struct {
	Valid   bool
	Errors  []string
	Payload map[string]any
}

// ValidateEmployee applies the employee contract: required
// first_name/last_name/email with synthesized defaults, whitespace
// trimming, nil-dropping, and phone cleaning.
func ValidateEmployee(payload map[string]any, empID, fullName string) Result {
	out := map[string]any{}
	var errs []string

	firstName := strings.TrimSpace(stringOf(payload["first_name"]))
	lastName := strings.TrimSpace(stringOf(payload["last_name"]))
	email := strings.TrimSpace(stringOf(payload["email"]))

	if firstName == "" {
		firstName = "Unknown"
	}
	if lastName == "" {
		lastName = "Unknown"
	}
	if email == "" {
		if firstName != "Unknown" && lastName != "Unknown" {
			email = fmt.Sprintf("%s.%s@company.com", strings.ToLower(firstName), strings.ToLower(lastName))
		} else {
			errs = append(errs, "email is required and could not be derived")
		}
	} else if cleaned := CleanEmail(email); cleaned != "" {
		email = cleaned
	} else {
		errs = append(errs, "email is not a valid address")
	}

	out["first_name"] = firstName
	out["last_name"] = lastName
	if email != "" {
		out["email"] = email
	}

	for k, v := range payload {
		switch k {
		case "first_name", "last_name", "email":
			continue
		case "mobile_phone", "phone":
			if v == nil {
				continue
			}
			if cleaned := CleanPhone(stringOf(v)); cleaned != "" {
				out["mobile_phone"] = cleaned
			}
			// drop the field entirely when cleaning fails
		default:
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[k] = strings.TrimSpace(s)
			} else {
				out[k] = v
			}
		}
	}

	_ = empID
	_ = fullName

	return Result{Valid: len(errs) == 0, Errors: errs, Payload: out}
}

// ValidateVehicle applies the vehicle contract: required name/code
// with synthesized defaults derived from the last 4 characters of
// vehicleID, and VIN dropping on failure.
func ValidateVehicle(payload map[string]any, vehicleID string) Result {
	out := map[string]any{}
	var errs []string

	last4 := vehicleID
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}

	name := strings.TrimSpace(stringOf(payload["name"]))
	if name == "" {
		name = "Vehicle_" + last4
	}
	code := strings.TrimSpace(stringOf(payload["code"]))
	if code == "" {
		code = "V_" + last4
	}
	out["name"] = name
	out["code"] = code

	for k, v := range payload {
		switch k {
		case "name", "code":
			continue
		case "vin":
			if v == nil {
				continue
			}
			vin := strings.ToUpper(strings.TrimSpace(stringOf(v)))
			if ValidateVIN(vin) {
				out["vin"] = vin
			}
		default:
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[k] = strings.TrimSpace(s)
			} else {
				out[k] = v
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Payload: out}
}

// RemoveDuplicateEntries dedups records by keyField, first occurrence
// wins (§9 open question).
func RemoveDuplicateEntries(records []map[string]any, keyField string) []map[string]any {
	seen := map[string]bool{}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		key := stringOf(rec[keyField])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
