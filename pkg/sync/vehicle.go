package sync

import (
	"context"
	"regexp"

	"github.com/iius-rcox/safetyamp-sync/pkg/validate"
)

var driverEmpIDRe = regexp.MustCompile(`\d{4,}`)

// VehicleSyncer maps telematics fleet vehicles onto SafetyAmp assets,
// resolving the assigned driver from free-text notes and forcing the
// default site/asset-type overrides documented in §4.6.
type VehicleSyncer struct {
	deps *Deps
}

func NewVehicleSyncer(deps *Deps) *VehicleSyncer { return &VehicleSyncer{deps: deps} }

func (s *VehicleSyncer) Sync(ctx context.Context) (Result, error) {
	result := Result{EntityType: "vehicle"}
	stop := newSafetyStop(s.deps.SafetyStopLimit)

	if _, err := s.deps.Events.StartSync("vehicles"); err != nil {
		return result, err
	}
	defer func() { _, _ = s.deps.Events.EndSync() }()

	assets, err := loadReference(ctx, s.deps.Cache, "assets", s.deps.SafetyAmp.Assets)
	if err != nil {
		return result, err
	}
	assetsBySerial := byField(assets, "serial")

	users, err := loadReference(ctx, s.deps.Cache, "users", s.deps.SafetyAmp.Users)
	if err != nil {
		return result, err
	}
	usersByEmpID := byField(users, "emp_id")

	vehicles, err := s.deps.Samsara.Vehicles(ctx)
	if err != nil {
		return result, err
	}

	changed := false
	for _, v := range vehicles {
		serial := stringOrEmpty(v["serial"])
		result.Processed++
		if serial == "" {
			s.deps.Events.LogSkip("vehicle", stringOrEmpty(v["id"]), "missing_serial")
			result.Skipped++
			continue
		}

		payload := map[string]any{
			"serial":        serial,
			"vin":           stringOrEmpty(v["vin"]),
			"license_plate": stringOrEmpty(v["licensePlate"]),
			"site_id":       s.deps.DefaultSiteID,
			"asset_type_id": s.deps.DefaultAssetTypeID,
		}
		vres := validate.ValidateVehicle(payload, serial)
		payload = vres.Payload
		payload["site_id"] = s.deps.DefaultSiteID
		payload["asset_type_id"] = s.deps.DefaultAssetTypeID

		var driverUserID *int
		if notes := stringOrEmpty(v["driverNotes"]); notes != "" {
			if empID := driverEmpIDRe.FindString(notes); empID != "" {
				if user, ok := usersByEmpID[empID]; ok {
					id := intOrZero(user["id"])
					driverUserID = &id
				}
			}
		}

		existing, hasExisting := assetsBySerial[serial]
		if !hasExisting {
			// current_user_id is intentionally omitted on create to
			// avoid a 422 (§4.6).
			out, err := s.deps.SafetyAmp.CreateAsset(ctx, payload)
			if err != nil {
				if ss := onEntityError(s.deps.Events, stop, "vehicle", serial, err.Error()); ss != nil {
					return result, ss
				}
				result.Errors++
				continue
			}
			assetsBySerial[serial] = out
			s.deps.Events.LogCreation("vehicle", serial, payload)
			stop.recordSuccess()
			result.Created++
			changed = true
			continue
		}

		updatePayload := map[string]any{}
		diff := changedFields(existing, payload, []string{"asset_type_id", "site_id"})
		for k, val := range diff {
			updatePayload[k] = val
		}
		if driverUserID != nil && intOrZero(existing["current_user_id"]) != *driverUserID {
			updatePayload["current_user_id"] = *driverUserID
		}

		if len(updatePayload) == 0 {
			s.deps.Events.LogSkip("vehicle", serial, "no_changes")
			result.Skipped++
			continue
		}
		if err := s.deps.SafetyAmp.PatchAsset(ctx, intOrZero(existing["id"]), updatePayload); err != nil {
			if ss := onEntityError(s.deps.Events, stop, "vehicle", serial, err.Error()); ss != nil {
				return result, ss
			}
			result.Errors++
			continue
		}
		s.deps.Events.LogUpdate("vehicle", serial, updatePayload, existing)
		stop.recordSuccess()
		result.Updated++
		changed = true
	}

	if changed {
		_ = s.deps.Cache.Invalidate(ctx, "assets", "")
	}
	return result, nil
}
