package sync

import (
	"context"

	"github.com/iius-rcox/safetyamp-sync/internal/syncerrors"
	"github.com/iius-rcox/safetyamp-sync/pkg/validate"
)

// EmployeeSyncer reconciles active payroll employees onto SafetyAmp
// users. It is the last syncer in the orchestrator's ordered set
// because it depends on titles, clusters and sites already being
// current.
type EmployeeSyncer struct {
	deps *Deps
}

func NewEmployeeSyncer(deps *Deps) *EmployeeSyncer { return &EmployeeSyncer{deps: deps} }

func (s *EmployeeSyncer) Sync(ctx context.Context) (Result, error) {
	result := Result{EntityType: "employee"}
	stop := newSafetyStop(s.deps.SafetyStopLimit)

	if _, err := s.deps.Events.StartSync("employees"); err != nil {
		return result, err
	}
	defer func() { _, _ = s.deps.Events.EndSync() }()

	clusters, err := loadReference(ctx, s.deps.Cache, "clusters", s.deps.SafetyAmp.Clusters)
	if err != nil {
		return result, err
	}
	clusterByExtCode := byField(clusters, "external_code")

	sites, err := loadReference(ctx, s.deps.Cache, "sites", s.deps.SafetyAmp.Sites)
	if err != nil {
		return result, err
	}
	siteByJobCode := byField(sites, "ext_id")
	homeOfficeMap := buildHomeOfficeMap(sites)

	titles, err := loadReference(ctx, s.deps.Cache, "titles", s.deps.SafetyAmp.Titles)
	if err != nil {
		return result, err
	}
	titleByName := byField(titles, "name")

	users, err := loadReference(ctx, s.deps.Cache, "users", s.deps.SafetyAmp.Users)
	if err != nil {
		return result, err
	}
	usersByEmpID := byField(users, "emp_id")

	employees, err := s.deps.ERP.Employees(ctx)
	if err != nil {
		return result, err
	}

	changed := false
	for _, e := range employees {
		result.Processed++
		if !e.Active() {
			s.deps.Events.LogSkip("employee", e.EmployeeNo, "terminated")
			result.Skipped++
			continue
		}

		homeSiteID, ok := s.resolveHomeSite(e.JobCode, e.PRDept, siteByJobCode, clusterByExtCode, homeOfficeMap)
		if !ok {
			s.deps.Events.LogSkip("employee", e.EmployeeNo, "no_home_site")
			result.Skipped++
			continue
		}

		email := e.Email
		if u, err := s.deps.Identity.LookupByEmployeeID(ctx, e.EmployeeNo); err == nil && u != nil && u.Mail != "" {
			email = u.Mail
		}

		raw := map[string]any{
			"first_name":   e.FirstName,
			"last_name":    e.LastName,
			"email":        email,
			"mobile_phone": e.Phone,
		}
		vres := validate.ValidateEmployee(raw, e.EmployeeNo, e.FirstName+" "+e.LastName)
		payload := vres.Payload
		payload["emp_id"] = e.EmployeeNo
		payload["home_site_id"] = homeSiteID
		if title, ok := titleByName[e.Title]; ok {
			payload["title_id"] = intOrZero(title["id"])
		}

		existing, hasExisting := usersByEmpID[e.EmployeeNo]
		if !hasExisting {
			payload["system_access"] = 1
			created, err := s.createWithFallback(ctx, payload)
			if err != nil {
				if ss := onEntityError(s.deps.Events, stop, "employee", e.EmployeeNo, err.Error()); ss != nil {
					return result, ss
				}
				result.Errors++
				continue
			}
			usersByEmpID[e.EmployeeNo] = created
			s.deps.Events.LogCreation("employee", e.EmployeeNo, payload)
			_ = s.deps.Failures.ClearFailure(ctx, "employee", e.EmployeeNo)
			stop.recordSuccess()
			result.Created++
			changed = true
			continue
		}

		skip, err := s.deps.Failures.ShouldSkipRetry(ctx, "employee", e.EmployeeNo, payload)
		if err != nil {
			s.deps.Logger.Warn("failure tracker read failed", "employee", e.EmployeeNo, "error", err)
		}
		if skip {
			s.deps.Events.LogSkip("employee", e.EmployeeNo, "prior_failure_unchanged")
			result.Skipped++
			continue
		}

		fieldDiff := changedFields(existing, payload, []string{"first_name", "last_name", "email", "mobile_phone", "home_site_id", "title_id"})

		var diff map[string]any
		switch {
		case intOrZero(existing["system_access"]) == 0:
			// system_access flips to 1 in isolation, to avoid unrelated
			// field validation masking the enablement (§4.6).
			diff = map[string]any{
				"first_name":    existing["first_name"],
				"last_name":     existing["last_name"],
				"email":         existing["email"],
				"system_access": 1,
			}
		case len(fieldDiff) > 0:
			// core fields always ride along on a PATCH (the target API
			// rejects a PATCH without them); changed fields override the
			// existing baseline, not the other way around.
			diff = map[string]any{
				"first_name": existing["first_name"],
				"last_name":  existing["last_name"],
				"email":      existing["email"],
			}
			for k, v := range fieldDiff {
				diff[k] = v
			}
		}

		if len(diff) == 0 {
			s.deps.Events.LogSkip("employee", e.EmployeeNo, "no_changes")
			result.Skipped++
			continue
		}

		id := intOrZero(existing["id"])
		if err := s.deps.SafetyAmp.PatchUser(ctx, id, diff); err != nil {
			if ve, ok := err.(*syncerrors.ValidationError); ok {
				_, _ = s.deps.Failures.RecordFailure(ctx, "employee", e.EmployeeNo, 422, ve.Body, diff)
				s.deps.Events.LogError("employee", e.EmployeeNo, "validation failure on update", diff)
				result.Errors++
				continue
			}
			if ss := onEntityError(s.deps.Events, stop, "employee", e.EmployeeNo, err.Error()); ss != nil {
				return result, ss
			}
			result.Errors++
			continue
		}
		s.deps.Events.LogUpdate("employee", e.EmployeeNo, diff, existing)
		_ = s.deps.Failures.ClearFailure(ctx, "employee", e.EmployeeNo)
		stop.recordSuccess()
		result.Updated++
		changed = true
	}

	if changed {
		_ = s.deps.Cache.Invalidate(ctx, "users", "")
	}
	return result, nil
}

// createWithFallback POSTs the new user; on a 422 it retries once with
// email/mobile_phone/work_phone stripped, per §4.6's create fallback.
func (s *EmployeeSyncer) createWithFallback(ctx context.Context, payload map[string]any) (map[string]any, error) {
	out, err := s.deps.SafetyAmp.CreateUser(ctx, payload)
	if err == nil {
		return out, nil
	}

	ve, ok := err.(*syncerrors.ValidationError)
	if !ok {
		return nil, err
	}

	_, _ = s.deps.Failures.RecordFailure(ctx, "employee", stringOrEmpty(payload["emp_id"]), 422, ve.Body, payload)

	fallback := map[string]any{}
	for k, v := range payload {
		switch k {
		case "email", "mobile_phone", "work_phone":
			continue
		default:
			fallback[k] = v
		}
	}
	out, err2 := s.deps.SafetyAmp.CreateUser(ctx, fallback)
	if err2 != nil {
		if ve2, ok := err2.(*syncerrors.ValidationError); ok {
			_, _ = s.deps.Failures.RecordFailure(ctx, "employee", stringOrEmpty(payload["emp_id"]), 422, ve2.Body, fallback)
		}
		return nil, err2
	}
	return out, nil
}

func (s *EmployeeSyncer) resolveHomeSite(jobCode, prDept string, siteByJobCode, clusterByExtCode map[string]map[string]any, homeOfficeMap map[int]int) (int, bool) {
	if site, ok := siteByJobCode[jobCode]; ok {
		return intOrZero(site["id"]), true
	}
	if cluster, ok := clusterByExtCode[prDept]; ok {
		clusterID := intOrZero(cluster["id"])
		if siteID, ok := homeOfficeMap[clusterID]; ok {
			return siteID, true
		}
	}
	return 0, false
}

// buildHomeOfficeMap picks, for each department cluster, one of its
// sites as the fallback home site for employees whose job code has no
// direct site mapping.
func buildHomeOfficeMap(sites []map[string]any) map[int]int {
	out := map[int]int{}
	for _, site := range sites {
		clusterID := intOrZero(site["cluster_id"])
		if clusterID == 0 {
			continue
		}
		if _, exists := out[clusterID]; !exists {
			out[clusterID] = intOrZero(site["id"])
		}
	}
	return out
}
