// Package model holds the domain types shared across the reconciler:
// source records, target records, and the bookkeeping types (cache
// entries, failure records, sessions, API call records) that the
// components operate on.
package model

import "time"

// EmployeeRecord is a payroll/ERP source row.
type EmployeeRecord struct {
	EmployeeNo string
	FirstName  string
	LastName   string
	Gender     string
	Phone      string
	Address    string
	Email      string
	HireDate   string
	PRDept     string
	Title      string
	JobCode    string
	TermDate   string // non-empty means the employee is no longer active
}

// Active reports whether the source row still represents an active employee.
func (e EmployeeRecord) Active() bool { return e.TermDate == "" }

// VehicleRecord is a telematics (Samsara) source row.
type VehicleRecord struct {
	ID            string
	Serial        string
	VIN           string
	Name          string
	Make          string
	Model         string
	Year          string
	LicensePlate  string
	DriverNotes   string
	StaticDriverID string
	Tags          []string
}

// DepartmentRecord, JobRecord and TitleRecord are payroll/ERP source rows.
type DepartmentRecord struct {
	PRDept      string
	Description string
	Region      string // udRegion
}

type JobRecord struct {
	JobCode     string
	Description string
	PRDept      string
	Active      bool
}

type TitleRecord struct {
	Title string // udEmpTitle
}

// TargetUser is a SafetyAmp user record.
type TargetUser struct {
	ID           int                    `json:"id,omitempty"`
	EmpID        string                 `json:"emp_id"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Email        string                 `json:"email"`
	MobilePhone  string                 `json:"mobile_phone,omitempty"`
	HomeSiteID   int                    `json:"home_site_id,omitempty"`
	Roles        []int                  `json:"roles,omitempty"`
	TitleID      int                    `json:"title_id,omitempty"`
	SystemAccess int                    `json:"system_access,omitempty"`
	TextOptOut   bool                   `json:"text_opt_out,omitempty"`
	Timezone     string                 `json:"timezone,omitempty"`
	Extra        map[string]any         `json:"-"`
}

// TargetSite is a SafetyAmp job site under a department cluster.
type TargetSite struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name"`
	ExtID     string `json:"ext_id"`
	ClusterID int    `json:"cluster_id,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
}

// TargetCluster is a SafetyAmp hierarchical grouping.
type TargetCluster struct {
	ID                int    `json:"id,omitempty"`
	Name              string `json:"name"`
	ParentClusterID   *int   `json:"parent_cluster_id"`
	ExternalCode      string `json:"external_code,omitempty"`
	OshaEstablishment int    `json:"osha_establishment,omitempty"`
}

// TargetAsset is a SafetyAmp vehicle asset.
type TargetAsset struct {
	ID            int    `json:"id,omitempty"`
	Serial        string `json:"serial"`
	Name          string `json:"name,omitempty"`
	Code          string `json:"code,omitempty"`
	VIN           string `json:"vin,omitempty"`
	LicensePlate  string `json:"license_plate,omitempty"`
	SiteID        int    `json:"site_id,omitempty"`
	AssetTypeID   int    `json:"asset_type_id,omitempty"`
	CurrentUserID *int   `json:"current_user_id,omitempty"`
}

// TargetTitle is a SafetyAmp title.
type TargetTitle struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// CacheMetadata is the companion record stored alongside a CacheEntry.
type CacheMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	LastRefresh time.Time `json:"last_refresh"`
	ItemCount   int       `json:"item_count"`
	TTLSeconds  int       `json:"ttl_s"`
	Source      string    `json:"source"`
	DataHash    string    `json:"data_hash"`
}

// FailedField records the fingerprint of one offending field from a 422.
type FailedField struct {
	ValueFingerprint string `json:"value_fingerprint"`
	Error            string `json:"error"`
	TruncatedValue   string `json:"truncated_value"`
}

// FailureCategory classifies why a write attempt failed validation.
type FailureCategory string

const (
	CategoryDuplicateFields FailureCategory = "duplicate_fields"
	CategoryMissingRequired FailureCategory = "missing_required"
	CategoryValidationError FailureCategory = "validation_error"
	CategoryUnknown422      FailureCategory = "unknown_422"
)

// FailureRecord is the ledger entry kept by the Failed-Sync Memory (C3).
type FailureRecord struct {
	EntityType      string                 `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	FailedFields    map[string]FailedField `json:"failed_fields"`
	PayloadFingerprint string              `json:"payload_fingerprint"`
	Category        FailureCategory        `json:"category"`
	FirstFailedAt   time.Time              `json:"first_failed_at"`
	LastFailedAt    time.Time              `json:"last_failed_at"`
	AttemptCount    int                    `json:"attempt_count"`
	LastHTTPStatus  int                    `json:"last_http_status"`
	LastErrorText   string                 `json:"last_error_text"`
	RetryRequested  bool                   `json:"retry_requested"`
}

// EventKind enumerates the kinds of per-entity sync events.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventSkipped EventKind = "skipped"
	EventError   EventKind = "errors"
)

// Event is one entry in a Session's change log.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	Operation    EventKind      `json:"operation"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	Changes      map[string]any `json:"changes,omitempty"`
	OriginalData map[string]any `json:"original_data,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// SessionSummary is the rolled-up counts for one Session.
type SessionSummary struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Session is the change-log unit for one sync invocation, bounded by
// start_sync/end_sync.
type Session struct {
	ID        string    `json:"id"`
	SyncType  string    `json:"sync_type"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Created   []Event   `json:"created"`
	Updated   []Event   `json:"updated"`
	Deleted   []Event   `json:"deleted"`
	Skipped   []Event   `json:"skipped"`
	Errors    []Event   `json:"errors"`
	Summary   SessionSummary `json:"summary"`
}

// APICallRecord captures one outbound HTTP call for the ring buffer (C9).
type APICallRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Method        string    `json:"method"`
	Endpoint      string    `json:"endpoint"`
	StatusCode    int       `json:"status_code"`
	DurationMS    float64   `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReqSummary    string    `json:"req_summary,omitempty"`
	RespSummary   string    `json:"resp_summary,omitempty"`
}

// ErrorEvent is one entry in the error notifier's append-only list.
type ErrorEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	Kind       string         `json:"kind"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// AuditEvent is one entry in the dashboard's in-memory audit ring.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}
