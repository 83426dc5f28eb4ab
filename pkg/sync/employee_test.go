package sync

import (
	"context"
	"testing"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
)

func employeeERP(rows ...model.EmployeeRecord) erp.Reader {
	return erp.StaticReader{EmployeeRows: rows}
}

// TestEmployeeSync_CreatesNewActiveEmployee covers scenario S1: a new
// active employee with a job-code site match gets created with a
// resolved home site, title and system_access enabled.
func TestEmployeeSync_CreatesNewActiveEmployee(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("sites", map[string]any{"id": 10, "ext_id": "J1", "cluster_id": 1})
	sa.seed("titles", map[string]any{"id": 5, "name": "Engineer"})

	emp := model.EmployeeRecord{
		EmployeeNo: "E1",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@example.com",
		Phone:      "5551234567",
		JobCode:    "J1",
		Title:      "Engineer",
	}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Created != 1 || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if len(sa.data["users"]) != 1 {
		t.Fatalf("expected one created user, got %d", len(sa.data["users"]))
	}
	created := sa.data["users"][0]
	if intOrZero(created["home_site_id"]) != 10 {
		t.Errorf("home_site_id = %v, want 10", created["home_site_id"])
	}
	if intOrZero(created["title_id"]) != 5 {
		t.Errorf("title_id = %v, want 5", created["title_id"])
	}
	if intOrZero(created["system_access"]) != 1 {
		t.Errorf("system_access = %v, want 1", created["system_access"])
	}
	if created["mobile_phone"] != "+15551234567" {
		t.Errorf("mobile_phone = %v, want +15551234567", created["mobile_phone"])
	}

	if _, _, ok, _ := deps.Cache.Get(context.Background(), "users", ""); ok {
		t.Error("expected users cache entry to be invalidated after a create")
	}
}

// TestEmployeeSync_CreateFallbackOnValidationError exercises the create
// retry path: a first attempt that includes email is rejected with a
// 422, the retry without email/mobile_phone/work_phone succeeds.
func TestEmployeeSync_CreateFallbackOnValidationError(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("sites", map[string]any{"id": 10, "ext_id": "J1", "cluster_id": 1})
	sa.createFail["users"] = func(payload map[string]any) (bool, int, []byte) {
		if _, hasEmail := payload["email"]; hasEmail {
			return true, 422, []byte(`{"message":"validation failed","errors":{"email":["already taken"]}}`)
		}
		return false, 0, nil
	}

	emp := model.EmployeeRecord{
		EmployeeNo: "E2",
		FirstName:  "Grace",
		LastName:   "Hopper",
		Email:      "grace@example.com",
		JobCode:    "J1",
	}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected fallback create to succeed, got result %+v", result)
	}
	created := sa.data["users"][0]
	if _, hasEmail := created["email"]; hasEmail {
		t.Error("fallback create should have dropped email")
	}
}

func TestEmployeeSync_SkipsTerminatedEmployee(t *testing.T) {
	sa := newFakeSafetyAmp()
	emp := model.EmployeeRecord{EmployeeNo: "E3", TermDate: "2026-01-01"}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 || result.Created != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(sa.data["users"]) != 0 {
		t.Fatalf("terminated employee should not have created a user")
	}
}

func TestEmployeeSync_SkipsWhenNoHomeSite(t *testing.T) {
	sa := newFakeSafetyAmp()
	emp := model.EmployeeRecord{EmployeeNo: "E4", FirstName: "No", LastName: "Site", JobCode: "missing"}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected skip for unresolved home site, got %+v", result)
	}
}

// TestEmployeeSync_PatchOnlyPhoneChange covers scenario S4: an existing
// user that differs only in mobile_phone gets PATCHed with the core
// fields plus the new phone, nothing else.
func TestEmployeeSync_PatchOnlyPhoneChange(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("sites", map[string]any{"id": 10, "ext_id": "J1", "cluster_id": 1})
	sa.seed("users", map[string]any{
		"id": 1, "emp_id": "E5", "first_name": "Sam", "last_name": "Ray",
		"email": "sam.ray@company.com", "mobile_phone": "+15550000000",
		"home_site_id": 10, "system_access": 1,
	})

	emp := model.EmployeeRecord{
		EmployeeNo: "E5", FirstName: "Sam", LastName: "Ray",
		Email: "sam.ray@company.com", Phone: "5559999999", JobCode: "J1",
	}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected one update, got %+v", result)
	}
	updated := sa.data["users"][0]
	if updated["mobile_phone"] != "+15559999999" {
		t.Errorf("mobile_phone not updated, got %v", updated["mobile_phone"])
	}
	if updated["first_name"] != "Sam" || updated["last_name"] != "Ray" {
		t.Errorf("core fields should ride along unchanged, got %+v", updated)
	}
	if _, ok := updated["home_site_id"]; ok && intOrZero(updated["home_site_id"]) != 10 {
		t.Errorf("home_site_id should not have changed, got %v", updated["home_site_id"])
	}
}

// TestEmployeeSync_SystemAccessIsolatedPatch covers the system_access
// re-enablement branch: it must override every other diff with a
// payload carrying only the core fields plus system_access=1.
func TestEmployeeSync_SystemAccessIsolatedPatch(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("sites", map[string]any{"id": 10, "ext_id": "J1", "cluster_id": 1})
	sa.seed("users", map[string]any{
		"id": 2, "emp_id": "E6", "first_name": "Pat", "last_name": "Lee",
		"email": "pat.lee@company.com", "mobile_phone": "+15551110000",
		"home_site_id": 10, "system_access": 0,
	})

	emp := model.EmployeeRecord{
		EmployeeNo: "E6", FirstName: "Pat", LastName: "Lee",
		Email: "pat.lee@company.com", Phone: "5552220000", JobCode: "J1",
	}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected one update, got %+v", result)
	}
	updated := sa.data["users"][0]
	if intOrZero(updated["system_access"]) != 1 {
		t.Errorf("system_access should be re-enabled, got %v", updated["system_access"])
	}
	if updated["mobile_phone"] != "+15551110000" {
		t.Errorf("mobile_phone should not have been touched by the isolated patch, got %v", updated["mobile_phone"])
	}
}

func TestEmployeeSync_NoChangesSkipped(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("sites", map[string]any{"id": 10, "ext_id": "J1", "cluster_id": 1})
	sa.seed("users", map[string]any{
		"id": 3, "emp_id": "E7", "first_name": "Lee", "last_name": "Kim",
		"email": "lee.kim@company.com", "mobile_phone": "+15553330000",
		"home_site_id": 10, "system_access": 1,
	})

	emp := model.EmployeeRecord{
		EmployeeNo: "E7", FirstName: "Lee", LastName: "Kim",
		Email: "lee.kim@company.com", Phone: "5553330000", JobCode: "J1",
	}
	deps := newTestDeps(t, sa, withERP(employeeERP(emp)))
	syncer := NewEmployeeSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 || result.Updated != 0 {
		t.Fatalf("expected no-op skip, got %+v", result)
	}
}

func TestResolveHomeSite_FallsBackToClusterHomeOffice(t *testing.T) {
	s := &EmployeeSyncer{}
	siteByJobCode := map[string]map[string]any{}
	clusterByExtCode := map[string]map[string]any{"dept-1": {"id": 9}}
	homeOfficeMap := map[int]int{9: 42}

	id, ok := s.resolveHomeSite("no-such-job", "dept-1", siteByJobCode, clusterByExtCode, homeOfficeMap)
	if !ok || id != 42 {
		t.Fatalf("resolveHomeSite() = (%d, %v), want (42, true)", id, ok)
	}
}

func TestResolveHomeSite_NoMatchReturnsFalse(t *testing.T) {
	s := &EmployeeSyncer{}
	_, ok := s.resolveHomeSite("nope", "nope", nil, nil, nil)
	if ok {
		t.Fatal("resolveHomeSite() should report no match")
	}
}

func TestBuildHomeOfficeMap_PicksFirstSitePerCluster(t *testing.T) {
	sites := []map[string]any{
		{"id": 1, "cluster_id": 5},
		{"id": 2, "cluster_id": 5},
		{"id": 3, "cluster_id": 6},
		{"id": 4, "cluster_id": 0},
	}
	got := buildHomeOfficeMap(sites)
	if got[5] != 1 {
		t.Errorf("cluster 5 home office = %d, want 1 (first seen)", got[5])
	}
	if got[6] != 3 {
		t.Errorf("cluster 6 home office = %d, want 3", got[6])
	}
	if _, ok := got[0]; ok {
		t.Error("cluster id 0 should be excluded")
	}
}
