package sync

import "context"

// TitleSyncer is a one-way, create-only syncer: every distinct
// udEmpTitle becomes a target title if not already present.
type TitleSyncer struct {
	deps *Deps
}

func NewTitleSyncer(deps *Deps) *TitleSyncer { return &TitleSyncer{deps: deps} }

func (s *TitleSyncer) Sync(ctx context.Context) (Result, error) {
	result := Result{EntityType: "title"}
	stop := newSafetyStop(s.deps.SafetyStopLimit)

	if _, err := s.deps.Events.StartSync("titles"); err != nil {
		return result, err
	}
	defer func() { _, _ = s.deps.Events.EndSync() }()

	titles, err := loadReference(ctx, s.deps.Cache, "titles", s.deps.SafetyAmp.Titles)
	if err != nil {
		return result, err
	}
	byName := byField(titles, "name")

	sourceTitles, err := s.deps.ERP.Titles(ctx)
	if err != nil {
		return result, err
	}

	seen := map[string]bool{}
	changed := false
	for _, t := range sourceTitles {
		if t.Title == "" || seen[t.Title] {
			continue
		}
		seen[t.Title] = true
		result.Processed++

		if _, exists := byName[t.Title]; exists {
			s.deps.Events.LogSkip("title", t.Title, "already_exists")
			result.Skipped++
			continue
		}

		payload := map[string]any{"name": t.Title}
		out, err := s.deps.SafetyAmp.CreateTitle(ctx, payload)
		if err != nil {
			if ss := onEntityError(s.deps.Events, stop, "title", t.Title, err.Error()); ss != nil {
				return result, ss
			}
			result.Errors++
			continue
		}
		byName[t.Title] = out
		s.deps.Events.LogCreation("title", t.Title, payload)
		stop.recordSuccess()
		result.Created++
		changed = true
	}

	if changed {
		_ = s.deps.Cache.Invalidate(ctx, "titles", "")
	}
	return result, nil
}
