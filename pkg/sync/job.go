package sync

import (
	"context"
	"fmt"
)

// JobSyncer maps each active payroll job to a SafetyAmp site under its
// department's cluster.
type JobSyncer struct {
	deps *Deps
}

func NewJobSyncer(deps *Deps) *JobSyncer { return &JobSyncer{deps: deps} }

func (s *JobSyncer) Sync(ctx context.Context) (Result, error) {
	result := Result{EntityType: "job"}
	stop := newSafetyStop(s.deps.SafetyStopLimit)

	if _, err := s.deps.Events.StartSync("jobs"); err != nil {
		return result, err
	}
	defer func() { _, _ = s.deps.Events.EndSync() }()

	clusters, err := loadReference(ctx, s.deps.Cache, "clusters", s.deps.SafetyAmp.Clusters)
	if err != nil {
		return result, fmt.Errorf("loading clusters reference: %w", err)
	}
	clustersByExtCode := byField(clusters, "external_code")

	sites, err := loadReference(ctx, s.deps.Cache, "sites", s.deps.SafetyAmp.Sites)
	if err != nil {
		return result, fmt.Errorf("loading sites reference: %w", err)
	}
	sitesByExtID := byField(sites, "ext_id")

	jobs, err := s.deps.ERP.Jobs(ctx)
	if err != nil {
		return result, fmt.Errorf("reading jobs from erp: %w", err)
	}

	changed := false
	for _, job := range jobs {
		result.Processed++
		if !job.Active {
			s.deps.Events.LogSkip("job", job.JobCode, "inactive")
			result.Skipped++
			continue
		}

		cluster, ok := clustersByExtCode[job.PRDept]
		if !ok {
			s.deps.Events.LogSkip("job", job.JobCode, "missing_department_cluster")
			result.Skipped++
			continue
		}

		name := fmt.Sprintf("%s - %s", job.JobCode, job.Description)
		payload := map[string]any{
			"cluster_id": intOrZero(cluster["id"]),
			"zip_code":   "00000",
			"ext_id":     job.JobCode,
			"name":       name,
		}

		existing, hasExisting := sitesByExtID[job.JobCode]
		if !hasExisting {
			out, err := s.deps.SafetyAmp.CreateSite(ctx, payload)
			if err != nil {
				if ss := onEntityError(s.deps.Events, stop, "job", job.JobCode, err.Error()); ss != nil {
					return result, ss
				}
				result.Errors++
				continue
			}
			sitesByExtID[job.JobCode] = out
			s.deps.Events.LogCreation("site", job.JobCode, payload)
			stop.recordSuccess()
			result.Created++
			changed = true
			continue
		}

		diff := changedFields(existing, payload, []string{"cluster_id", "zip_code", "ext_id", "name"})
		if len(diff) == 0 {
			s.deps.Events.LogSkip("job", job.JobCode, "no_changes")
			result.Skipped++
			continue
		}
		if err := s.deps.SafetyAmp.PatchSite(ctx, intOrZero(existing["id"]), diff); err != nil {
			if ss := onEntityError(s.deps.Events, stop, "job", job.JobCode, err.Error()); ss != nil {
				return result, ss
			}
			result.Errors++
			continue
		}
		s.deps.Events.LogUpdate("site", job.JobCode, diff, existing)
		stop.recordSuccess()
		result.Updated++
		changed = true
	}

	if changed {
		_ = s.deps.Cache.Invalidate(ctx, "sites", "")
	}
	return result, nil
}
