package dashboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
	"github.com/iius-rcox/safetyamp-sync/pkg/failsync"
)

// Error categories, grounded on original_source/services/error_analyzer.py.
const (
	categoryDuplicateField = "duplicate_field"
	categoryMissingField   = "missing_field"
	categoryRateLimit      = "rate_limit"
	categoryValidation     = "validation"
	categoryConnectivity   = "connectivity"
	categoryUnknown        = "unknown"
)

const (
	severityHigh   = "high"
	severityMedium = "medium"
	severityLow    = "low"
)

var (
	duplicatePatterns = compileAll(`already been taken`, `duplicate`, `already exists`, `unique constraint`)
	rateLimitPatterns = compileAll(`rate limit`, `too many requests`, `429`, `throttl`)
	missingPatterns   = compileAll(`missing required`, `is required`, `cannot be blank`, `cannot be null`)
	validationPatterns = compileAll(`invalid`, `validation`, `format`, `must be`)
	connectivityPatterns = compileAll(`timeout`, `connection`, `connect`, `unreachable`, `refused`)

	fieldPatterns = []*regexp.Regexp{
		regexp.MustCompile(`the\s+([\w\s]+?)\s+has\s+already`),
		regexp.MustCompile(`field:\s+(\w+)`),
		regexp.MustCompile(`(\w+)\s+is\s+required`),
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var recommendedActions = map[string]string{
	categoryDuplicateField: "Update the duplicate field value in the source system or manually resolve the conflict in SafetyAmp",
	categoryMissingField:   "Ensure the required field is populated in the source system",
	categoryRateLimit:      "Consider reducing sync frequency or implementing request batching",
	categoryValidation:     "Review and correct the data format in the source system",
	categoryConnectivity:   "Check network connectivity and service availability",
	categoryUnknown:        "Investigate the error logs for more details",
}

// Suggestion is one actionable, aggregated error pattern surfaced by
// /api/dashboard/error-suggestions.
type Suggestion struct {
	ID                string    `json:"id"`
	Severity          string    `json:"severity"`
	Category          string    `json:"category"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	AffectedRecords   []string  `json:"affected_records"`
	RecommendedAction string    `json:"recommended_action"`
	FirstSeen         time.Time `json:"first_seen"`
	OccurrenceCount   int       `json:"occurrence_count"`
}

// errorGroup accumulates errors and failed records sharing a
// category:field key before a Suggestion is generated from it.
type errorGroup struct {
	category  string
	field     string
	count     int
	affected  map[string]struct{}
	firstSeen time.Time
}

// analyzeErrors groups recent error-notifier entries and failed-sync
// records by category/field and produces a severity-sorted suggestion
// list — a direct port of ErrorAnalyzer.analyze from
// original_source/services/error_analyzer.py.
func analyzeErrors(ctx context.Context, notifier *events.ErrorNotifier, failures *failsync.Tracker, window time.Duration) ([]Suggestion, error) {
	groups := map[string]*errorGroup{}

	if notifier != nil {
		for _, e := range notifier.Since(window) {
			category := categorizeError(e.Message, e.Kind)
			field := extractField(e.Message)
			key := category + ":" + fallback(field, "general")

			g := groups[key]
			if g == nil {
				g = &errorGroup{category: category, field: field, affected: map[string]struct{}{}}
				groups[key] = g
			}
			g.count++
			if e.EntityID != "" {
				g.affected[e.EntityID] = struct{}{}
			}
			if g.firstSeen.IsZero() || e.Timestamp.Before(g.firstSeen) {
				g.firstSeen = e.Timestamp
			}
		}
	}

	if failures != nil {
		records, _, err := failures.List(ctx, 0, 1<<20)
		if err != nil {
			return nil, fmt.Errorf("listing failed records: %w", err)
		}
		for _, rec := range records {
			category := categoryFromFailure(rec.Category)
			var field string
			for k := range rec.FailedFields {
				field = k
				break
			}
			key := category + ":" + fallback(field, "general")

			g := groups[key]
			if g == nil {
				g = &errorGroup{category: category, field: field, affected: map[string]struct{}{}}
				groups[key] = g
			}
			g.count++
			if rec.EntityID != "" {
				g.affected[rec.EntityID] = struct{}{}
			}
			if g.firstSeen.IsZero() || rec.FirstFailedAt.Before(g.firstSeen) {
				g.firstSeen = rec.FirstFailedAt
			}
		}
	}

	suggestions := make([]Suggestion, 0, len(groups))
	for key, g := range groups {
		suggestions = append(suggestions, buildSuggestion(key, g))
	}

	severityOrder := map[string]int{severityHigh: 0, severityMedium: 1, severityLow: 2}
	sort.Slice(suggestions, func(i, j int) bool {
		si, sj := suggestions[i], suggestions[j]
		oi, oj := severityOrder[si.Severity], severityOrder[sj.Severity]
		if oi != oj {
			return oi < oj
		}
		return si.OccurrenceCount > sj.OccurrenceCount
	})

	return suggestions, nil
}

func categoryFromFailure(c model.FailureCategory) string {
	switch c {
	case model.CategoryDuplicateFields:
		return categoryDuplicateField
	case model.CategoryMissingRequired:
		return categoryMissingField
	case model.CategoryValidationError:
		return categoryValidation
	default:
		return categoryUnknown
	}
}

func buildSuggestion(key string, g *errorGroup) Suggestion {
	affected := make([]string, 0, len(g.affected))
	for id := range g.affected {
		affected = append(affected, id)
	}
	sort.Strings(affected)

	severity := calculateSeverity(g.count, g.category)
	firstSeen := g.firstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	limited := affected
	if len(limited) > 50 {
		limited = limited[:50]
	}

	return Suggestion{
		ID:                suggestionID(key, affected),
		Severity:          severity,
		Category:          g.category,
		Title:             suggestionTitle(g.category, g.field, g.count),
		Description:       suggestionDescription(g.category, g.field, g.count, len(affected)),
		AffectedRecords:   limited,
		RecommendedAction: recommendedActions[g.category],
		FirstSeen:         firstSeen,
		OccurrenceCount:   g.count,
	}
}

func categorizeError(message, errType string) string {
	lowerMsg := strings.ToLower(message)
	lowerType := strings.ToLower(errType)

	if matchesAny(duplicatePatterns, lowerMsg) {
		return categoryDuplicateField
	}
	if matchesAny(rateLimitPatterns, lowerMsg) {
		return categoryRateLimit
	}
	if matchesAny(missingPatterns, lowerMsg) {
		return categoryMissingField
	}
	if matchesAny(connectivityPatterns, lowerMsg) || matchesAny(connectivityPatterns, lowerType) {
		return categoryConnectivity
	}
	if matchesAny(validationPatterns, lowerMsg) || strings.Contains(lowerType, "validation") {
		return categoryValidation
	}
	return categoryUnknown
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func extractField(message string) string {
	lower := strings.ToLower(message)
	for _, p := range fieldPatterns {
		if m := p.FindStringSubmatch(lower); m != nil {
			return strings.ReplaceAll(m[1], " ", "_")
		}
	}
	return ""
}

func calculateSeverity(count int, category string) string {
	switch category {
	case categoryRateLimit, categoryConnectivity:
		return severityHigh
	}
	if category == categoryDuplicateField && count >= 2 {
		if count < 10 {
			return severityMedium
		}
		return severityHigh
	}
	switch {
	case count >= 10:
		return severityHigh
	case count >= 3:
		return severityMedium
	default:
		return severityLow
	}
}

func suggestionID(groupKey string, affected []string) string {
	sample := affected
	if len(sample) > 5 {
		sample = sample[:5]
	}
	content := groupKey + ":" + strings.Join(sample, ",")
	sum := sha256.Sum256([]byte(content))
	return "sug_" + hex.EncodeToString(sum[:])[:8]
}

func suggestionTitle(category, field string, count int) string {
	field = fallback(field, "field")
	titles := map[string]string{
		categoryDuplicateField: fmt.Sprintf("Duplicate %s detected", field),
		categoryMissingField:   fmt.Sprintf("Missing required %s", field),
		categoryRateLimit:      "Rate limit exceeded",
		categoryValidation:     fmt.Sprintf("Validation error for %s", field),
		categoryConnectivity:   "Connectivity issues detected",
		categoryUnknown:        "Sync error detected",
	}
	title := titles[category]
	if title == "" {
		title = titles[categoryUnknown]
	}
	if count > 1 {
		return fmt.Sprintf("%s (%d occurrences)", title, count)
	}
	return title
}

func suggestionDescription(category, field string, count, recordCount int) string {
	field = fallback(field, "field")
	switch category {
	case categoryDuplicateField:
		return fmt.Sprintf("The %s value is duplicated across %d record(s), causing sync failures. This typically happens when the same value exists in both the source system and SafetyAmp.", field, recordCount)
	case categoryMissingField:
		return fmt.Sprintf("The required field '%s' is missing from %d record(s) in the source system.", field, recordCount)
	case categoryRateLimit:
		return fmt.Sprintf("The API rate limit has been exceeded %d time(s). This may slow down sync operations significantly.", count)
	case categoryValidation:
		return fmt.Sprintf("Validation errors for %s in %d record(s). The data format may not match SafetyAmp requirements.", field, recordCount)
	case categoryConnectivity:
		return fmt.Sprintf("Network connectivity issues detected with %d occurrence(s). This may indicate network problems or service unavailability.", count)
	default:
		return fmt.Sprintf("An error occurred %d time(s) affecting %d record(s). Review the error logs for more details.", count, recordCount)
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
