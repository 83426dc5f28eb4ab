package sync

import (
	"context"
	"testing"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
)

func departmentERP(rows ...model.DepartmentRecord) erp.Reader {
	return erp.StaticReader{DepartmentRows: rows}
}

func TestDepartmentSync_CreatesThreeLevelHierarchy(t *testing.T) {
	sa := newFakeSafetyAmp()
	dept := model.DepartmentRecord{PRDept: "D1", Description: "Ops", Region: "West"}
	deps := newTestDeps(t, sa, withERP(departmentERP(dept)))
	syncer := NewDepartmentSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Created != 3 {
		t.Fatalf("expected root+region+department created, got %+v", result)
	}

	clusters := sa.data["clusters"]
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters on the backend, got %d", len(clusters))
	}
	var root, region, department map[string]any
	for _, c := range clusters {
		switch c["name"] {
		case rootClusterName:
			root = c
		case "West":
			region = c
		case "D1 - Ops":
			department = c
		}
	}
	if root == nil || region == nil || department == nil {
		t.Fatalf("missing expected cluster among %+v", clusters)
	}
	if intOrZero(region["parent_cluster_id"]) != intOrZero(root["id"]) {
		t.Errorf("region parent = %v, want root id %v", region["parent_cluster_id"], root["id"])
	}
	if intOrZero(department["parent_cluster_id"]) != intOrZero(region["id"]) {
		t.Errorf("department parent = %v, want region id %v", department["parent_cluster_id"], region["id"])
	}
	if department["external_code"] != "D1" {
		t.Errorf("department external_code = %v, want D1", department["external_code"])
	}

	if _, _, ok, _ := deps.Cache.Get(context.Background(), "clusters", ""); ok {
		t.Error("expected clusters cache entry to be invalidated")
	}
}

func TestDepartmentSync_SkipsMissingRegion(t *testing.T) {
	sa := newFakeSafetyAmp()
	dept := model.DepartmentRecord{PRDept: "D2", Description: "No Region"}
	deps := newTestDeps(t, sa, withERP(departmentERP(dept)))
	syncer := NewDepartmentSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected the department to be skipped, got %+v", result)
	}
	if result.Created != 1 {
		t.Fatalf("expected only the root cluster created, got %+v", result)
	}
}

func TestEnsureCluster_UnchangedParentDoesNotPatch(t *testing.T) {
	sa := newFakeSafetyAmp()
	deps := newTestDeps(t, sa)
	s := &DepartmentSyncer{deps: deps}

	parent := 1
	byName := map[string]map[string]any{
		"child": {"id": 2, "name": "child", "parent_cluster_id": 1},
	}
	id, outcome, err := s.ensureCluster(context.Background(), byName, "child", &parent, "")
	if err != nil {
		t.Fatalf("ensureCluster returned error: %v", err)
	}
	if id != 2 || outcome != clusterUnchanged {
		t.Fatalf("ensureCluster() = (%d, %v), want (2, clusterUnchanged)", id, outcome)
	}
	if len(sa.data["clusters"]) != 0 {
		t.Error("no PATCH/POST should have been issued for an unchanged parent")
	}
}

func TestEnsureCluster_ChangedParentPatches(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("clusters", map[string]any{"id": 2, "name": "child", "parent_cluster_id": 1})
	deps := newTestDeps(t, sa)
	s := &DepartmentSyncer{deps: deps}

	newParent := 9
	byName := map[string]map[string]any{
		"child": {"id": 2, "name": "child", "parent_cluster_id": 1},
	}
	id, outcome, err := s.ensureCluster(context.Background(), byName, "child", &newParent, "")
	if err != nil {
		t.Fatalf("ensureCluster returned error: %v", err)
	}
	if id != 2 || outcome != clusterUpdated {
		t.Fatalf("ensureCluster() = (%d, %v), want (2, clusterUpdated)", id, outcome)
	}
	if sa.data["clusters"][0]["parent_cluster_id"] != float64(9) {
		t.Errorf("backend parent_cluster_id = %v, want 9", sa.data["clusters"][0]["parent_cluster_id"])
	}
}
