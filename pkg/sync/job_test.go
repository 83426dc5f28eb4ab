package sync

import (
	"context"
	"testing"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
)

func jobERP(rows ...model.JobRecord) erp.Reader {
	return erp.StaticReader{JobRows: rows}
}

func TestJobSync_CreatesSiteForActiveJob(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("clusters", map[string]any{"id": 4, "name": "Ops", "external_code": "D1"})
	job := model.JobRecord{JobCode: "J1", Description: "Driver", PRDept: "D1", Active: true}
	deps := newTestDeps(t, sa, withERP(jobERP(job)))
	syncer := NewJobSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	created := sa.data["sites"][0]
	if intOrZero(created["cluster_id"]) != 4 {
		t.Errorf("cluster_id = %v, want 4", created["cluster_id"])
	}
	if created["zip_code"] != "00000" {
		t.Errorf("zip_code = %v, want 00000", created["zip_code"])
	}
	if created["name"] != "J1 - Driver" {
		t.Errorf("name = %v, want 'J1 - Driver'", created["name"])
	}
}

func TestJobSync_SkipsInactiveJob(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("clusters", map[string]any{"id": 4, "name": "Ops", "external_code": "D1"})
	job := model.JobRecord{JobCode: "J2", PRDept: "D1", Active: false}
	deps := newTestDeps(t, sa, withERP(jobERP(job)))
	syncer := NewJobSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 || result.Created != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestJobSync_SkipsJobWithoutDepartmentCluster(t *testing.T) {
	sa := newFakeSafetyAmp()
	job := model.JobRecord{JobCode: "J3", PRDept: "unknown", Active: true}
	deps := newTestDeps(t, sa, withERP(jobERP(job)))
	syncer := NewJobSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected job without a department cluster to be skipped, got %+v", result)
	}
}

func TestJobSync_PatchesChangedSite(t *testing.T) {
	sa := newFakeSafetyAmp()
	sa.seed("clusters", map[string]any{"id": 4, "name": "Ops", "external_code": "D1"})
	sa.seed("sites", map[string]any{"id": 20, "ext_id": "J4", "cluster_id": 1, "zip_code": "00000", "name": "J4 - Driver"})
	job := model.JobRecord{JobCode: "J4", Description: "Driver", PRDept: "D1", Active: true}
	deps := newTestDeps(t, sa, withERP(jobERP(job)))
	syncer := NewJobSyncer(deps)

	result, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected the site's cluster_id to be patched, got %+v", result)
	}
	if intOrZero(sa.data["sites"][0]["cluster_id"]) != 4 {
		t.Errorf("cluster_id = %v, want 4", sa.data["sites"][0]["cluster_id"])
	}
}
