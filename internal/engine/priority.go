package engine

import (
	"context"
	"fmt"
	"log"
)

const sweepChunkSize = 100

// RecomputePriority derives the overdue score from the current status, the
// open ledger interval and the latest comment, then persists it through the
// system write path. Idempotent and safe to call redundantly.
//
// Rules: stopped status pins the priority at -1; no deadline means 0; with a
// deadline, the score is the floored day count since the last activity minus
// the deadline, floored at 0. When no interval is open (the close-to-open gap)
// the recompute is skipped and the cached value stands.
func (e Engine) RecomputePriority(ctx context.Context, processID string) (int, error) {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return 0, err
	}
	status, ok := e.Catalog.StatusByID(p.StatusID)
	if !ok {
		return p.Priority, fmt.Errorf("unknown status %d on process %s", p.StatusID, p.ID)
	}
	if status.Stopped {
		if err := e.Repo.UpdateProcessPriority(ctx, p.ID, -1); err != nil {
			return 0, err
		}
		return -1, nil
	}
	priority := 0
	if !status.HasDeadline() {
		if err := e.Repo.UpdateProcessPriority(ctx, p.ID, priority); err != nil {
			return 0, err
		}
		return priority, nil
	}
	active, err := e.Ledger.ActiveInterval(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	if active == nil {
		return p.Priority, nil
	}
	lastActivity, err := parseTime(active.StartAt)
	if err != nil {
		return 0, fmt.Errorf("parse start_at of entry %s: %w", active.ID, err)
	}
	if lastComment, err := e.Repo.LastCommentAt(ctx, p.ID); err != nil {
		return 0, err
	} else if lastComment != nil {
		t, err := parseTime(*lastComment)
		if err != nil {
			return 0, fmt.Errorf("parse comment timestamp: %w", err)
		}
		if t.After(lastActivity) {
			lastActivity = t
		}
	}
	overdueDays := daysBetween(lastActivity, e.now())
	if overdueDays > *status.DeadlineDays {
		priority = overdueDays - *status.DeadlineDays
	}
	if err := e.Repo.UpdateProcessPriority(ctx, p.ID, priority); err != nil {
		return 0, err
	}
	return priority, nil
}

// SweepResult summarizes a reconciliation pass.
type SweepResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// RecomputeAllPriorities walks every process in bounded chunks. One failing
// process is logged and skipped; the sweep continues.
func (e Engine) RecomputeAllPriorities(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	after := ""
	for {
		ids, err := e.Repo.ProcessIDs(ctx, after, sweepChunkSize)
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			return res, nil
		}
		for _, id := range ids {
			if _, err := e.RecomputePriority(ctx, id); err != nil {
				res.Failed++
				log.Printf("recompute sweep: process %s: %v", id, err)
				continue
			}
			res.Processed++
		}
		after = ids[len(ids)-1]
	}
}
