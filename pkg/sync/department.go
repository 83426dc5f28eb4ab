package sync

import (
	"context"
	"fmt"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
)

const rootClusterName = "I&I"

// DepartmentSyncer ensures the three-level cluster hierarchy: a root
// cluster, one cluster per region, and one cluster per department
// under its region.
type DepartmentSyncer struct {
	deps *Deps
}

func NewDepartmentSyncer(deps *Deps) *DepartmentSyncer { return &DepartmentSyncer{deps: deps} }

func (s *DepartmentSyncer) Sync(ctx context.Context) (Result, error) {
	result := Result{EntityType: "department"}
	stop := newSafetyStop(s.deps.SafetyStopLimit)

	if _, err := s.deps.Events.StartSync("departments"); err != nil {
		return result, err
	}
	defer func() { _, _ = s.deps.Events.EndSync() }()

	clusters, err := loadReference(ctx, s.deps.Cache, "clusters", s.deps.SafetyAmp.Clusters)
	if err != nil {
		return result, fmt.Errorf("loading clusters reference: %w", err)
	}
	byName := byField(clusters, "name")

	departments, err := s.deps.ERP.Departments(ctx)
	if err != nil {
		return result, fmt.Errorf("reading departments from erp: %w", err)
	}

	rootID, rootOutcome, err := s.ensureCluster(ctx, byName, rootClusterName, nil, "")
	if err != nil {
		return result, fmt.Errorf("ensuring root cluster: %w", err)
	}
	s.tally(&result, rootOutcome)

	regionIDs := map[string]int{}
	for _, d := range departments {
		result.Processed++
		region := d.Region
		if region == "" {
			s.deps.Events.LogSkip("department", d.PRDept, "missing_region")
			result.Skipped++
			continue
		}

		regionID, ok := regionIDs[region]
		if !ok {
			var regionOutcome clusterOutcome
			regionID, regionOutcome, err = s.ensureCluster(ctx, byName, region, &rootID, "")
			if err != nil {
				if ss := onEntityError(s.deps.Events, stop, "department", d.PRDept, err.Error()); ss != nil {
					return result, ss
				}
				result.Errors++
				continue
			}
			regionIDs[region] = regionID
			s.tally(&result, regionOutcome)
		}

		name := fmt.Sprintf("%s - %s", d.PRDept, d.Description)
		_, deptOutcome, err := s.ensureCluster(ctx, byName, name, &regionID, d.PRDept)
		if err != nil {
			if ss := onEntityError(s.deps.Events, stop, "department", d.PRDept, err.Error()); ss != nil {
				return result, ss
			}
			result.Errors++
			continue
		}
		stop.recordSuccess()
		s.tally(&result, deptOutcome)
	}

	if result.Created > 0 || result.Updated > 0 {
		_ = s.deps.Cache.Invalidate(ctx, "clusters", "")
	}
	return result, nil
}

type clusterOutcome int

const (
	clusterUnchanged clusterOutcome = iota
	clusterCreated
	clusterUpdated
)

func (s *DepartmentSyncer) tally(r *Result, outcome clusterOutcome) {
	switch outcome {
	case clusterCreated:
		r.Created++
	case clusterUpdated:
		r.Updated++
	}
}

// ensureCluster is idempotent: a cluster matching name (and a
// compatible external_code when supplied) that already exists is
// PATCHed only if its parent differs; otherwise it is created.
func (s *DepartmentSyncer) ensureCluster(ctx context.Context, byName map[string]map[string]any, name string, parentID *int, externalCode string) (int, clusterOutcome, error) {
	if existing, ok := byName[name]; ok {
		if externalCode != "" {
			if ec := stringOrEmpty(existing["external_code"]); ec != "" && ec != externalCode {
				return 0, clusterUnchanged, &syncerrors.ValidationError{Field: "external_code", Message: "existing cluster external_code mismatch"}
			}
		}
		id := intOrZero(existing["id"])
		existingParent := existing["parent_cluster_id"]
		if parentID != nil && intOrZero(existingParent) != *parentID {
			if err := s.deps.SafetyAmp.PatchCluster(ctx, id, map[string]any{"parent_cluster_id": *parentID}); err != nil {
				return 0, clusterUnchanged, err
			}
			s.deps.Events.LogUpdate("cluster", name, map[string]any{"parent_cluster_id": *parentID}, existing)
			existing["parent_cluster_id"] = *parentID
			return id, clusterUpdated, nil
		}
		return id, clusterUnchanged, nil
	}

	payload := map[string]any{"name": name}
	if parentID != nil {
		payload["parent_cluster_id"] = *parentID
	}
	if externalCode != "" {
		payload["external_code"] = externalCode
	}

	out, err := s.deps.SafetyAmp.CreateCluster(ctx, payload)
	if err != nil {
		return 0, clusterUnchanged, err
	}
	id := intOrZero(out["id"])
	byName[name] = out
	s.deps.Events.LogCreation("cluster", name, payload)
	return id, clusterCreated, nil
}
