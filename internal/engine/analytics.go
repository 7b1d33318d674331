package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"regtrack/internal/domain"
)

// BuildPeriods aggregates a process ledger into per-stage periods ordered by
// stage order: first entered, last exited (now for the live stage), cumulative
// days and the share relative to the longest stage. A read-only projection,
// recomputed per request; an empty ledger yields an empty result and a
// mid-transition ledger simply has no live stage.
func (e Engine) BuildPeriods(ctx context.Context, processID string) ([]domain.StagePeriod, error) {
	entries, err := e.Repo.ListHistoryEntries(ctx, processID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	now := e.now()

	type stageAgg struct {
		start time.Time
		end   time.Time
		days  int
		live  bool
		seen  bool
	}
	byStage := map[int64]*stageAgg{}
	for _, h := range entries {
		status, ok := e.Catalog.StatusByID(h.StatusID)
		if !ok {
			return nil, fmt.Errorf("unknown status %d in ledger entry %s", h.StatusID, h.ID)
		}
		a := byStage[status.StageID]
		if a == nil {
			a = &stageAgg{}
			byStage[status.StageID] = a
		}
		start, err := parseTime(h.StartAt)
		if err != nil {
			return nil, fmt.Errorf("parse start_at of entry %s: %w", h.ID, err)
		}
		if !a.seen || start.Before(a.start) {
			a.start = start
		}
		if h.Open() {
			// Live interval contributes its elapsed days, never a stored value.
			a.days += daysBetween(start, now)
			a.live = true
		} else {
			end, err := parseTime(*h.EndAt)
			if err != nil {
				return nil, fmt.Errorf("parse end_at of entry %s: %w", h.ID, err)
			}
			if end.After(a.end) {
				a.end = end
			}
			if h.DurationDays != nil {
				a.days += *h.DurationDays
			}
		}
		a.seen = true
	}

	maxDuration := 1
	for _, a := range byStage {
		if a.days > maxDuration {
			maxDuration = a.days
		}
	}

	var periods []domain.StagePeriod
	for _, st := range e.Catalog.Stages() {
		a := byStage[st.ID]
		if a == nil {
			continue
		}
		end := a.end
		if a.live {
			end = now
		}
		periods = append(periods, domain.StagePeriod{
			StageID:       st.ID,
			StageName:     st.Name,
			StartAt:       formatTime(a.start),
			EndAt:         formatTime(end),
			DurationDays:  a.days,
			DurationRatio: int(math.Round(float64(a.days) * 100 / float64(maxDuration))),
		})
	}
	return periods, nil
}
