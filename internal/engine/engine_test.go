package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"regtrack/internal/catalog"
	"regtrack/internal/config"
	"regtrack/internal/db"
	"regtrack/internal/engine"
	"regtrack/internal/migrate"
	"regtrack/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	cfg := config.Default()
	cat, err := catalog.Seed(ctx, conn, repo.Repo{DB: conn}, cfg)
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	env := &testEnv{
		Ctx: ctx,
		now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	eng := engine.New(conn, cat, cfg)
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	return env
}

func (env *testEnv) advanceDays(d int) {
	env.now = env.now.Add(time.Duration(d) * 24 * time.Hour)
}

// Status 10 "shortlisted" has a 15-day deadline in the default catalog;
// status 30 has none, statuses 50/51 are stopped, stage 4 is notable.

func (env *testEnv) createProcess(t *testing.T, statusID int64) string {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{
		Country:      "DE",
		Manufacturer: "Acme Pharma",
		StatusID:     statusID,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	return p.ID
}

func TestCreateOpensFirstInterval(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	entries, err := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
	if !entries[0].Open() {
		t.Fatalf("expected first interval open")
	}
	if entries[0].StartAt != "2025-01-01T00:00:00Z" {
		t.Fatalf("unexpected start_at %s", entries[0].StartAt)
	}
	p, err := env.Engine.Repo.GetProcess(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Priority != 0 {
		t.Fatalf("fresh process should be on track, got priority %d", p.Priority)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Manufacturer: "Acme", StatusID: 10})
	if err == nil {
		t.Fatalf("expected country error")
	}
	_, err = env.Engine.CreateProcess(env.Ctx, engine.ProcessCreateOptions{Country: "DE", Manufacturer: "Acme", StatusID: 999})
	if err == nil {
		t.Fatalf("expected unknown status error")
	}
}

func TestTransitionClosesAndOpens(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(5)
	p, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if p.StatusID != 20 {
		t.Fatalf("expected status 20, got %d", p.StatusID)
	}
	entries, err := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two ledger entries, got %d", len(entries))
	}
	first, second := entries[0], entries[1]
	if first.Open() {
		t.Fatalf("first interval should be closed")
	}
	if *first.EndAt != "2025-01-06T00:00:00Z" || *first.DurationDays != 5 {
		t.Fatalf("unexpected close: end=%s days=%d", *first.EndAt, *first.DurationDays)
	}
	if !second.Open() || second.StatusID != 20 {
		t.Fatalf("expected open interval in status 20")
	}
	if second.StartAt != *first.EndAt {
		t.Fatalf("close and open must share the transition timestamp")
	}
}

func TestSameSecondTransitionsKeepOpenIntervalLast(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	// Stored timestamps have second granularity, so a creation followed by
	// several transitions at one instant all share the same start_at. The
	// ledger must still read back in insertion order.
	chain := []int64{11, 20, 21, 30, 31}
	for _, statusID := range chain {
		if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: statusID, ActorID: "tester"}); err != nil {
			t.Fatalf("transition to %d: %v", statusID, err)
		}
	}
	entries, err := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]int64{10}, chain...)
	if len(entries) != len(want) {
		t.Fatalf("expected %d ledger entries, got %d", len(want), len(entries))
	}
	for i, h := range entries {
		if h.StatusID != want[i] {
			t.Fatalf("entry %d: expected status %d, got %d", i, want[i], h.StatusID)
		}
		if i < len(entries)-1 && h.Open() {
			t.Fatalf("entry %d should be closed", i)
		}
	}
	if !entries[len(entries)-1].Open() {
		t.Fatalf("the open interval must be the last ledger row")
	}
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	before, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	env.advanceDays(3)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 10, ActorID: "tester"}); err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	entries, _ := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	if len(entries) != 1 {
		t.Fatalf("no-op must not touch the ledger, got %d entries", len(entries))
	}
	after, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	if after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("no-op must not bump updated_at")
	}
}

func TestPriorityOverdue(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10) // 15-day deadline
	env.advanceDays(20)
	priority, err := env.Engine.RecomputePriority(env.Ctx, id)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if priority != 5 {
		t.Fatalf("expected 20-15=5, got %d", priority)
	}
	p, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	if p.Priority != 5 {
		t.Fatalf("priority not persisted, got %d", p.Priority)
	}
}

func TestPriorityWithinDeadline(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(14)
	priority, err := env.Engine.RecomputePriority(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if priority != 0 {
		t.Fatalf("within deadline should stay 0, got %d", priority)
	}
}

func TestPriorityStoppedStatus(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(5)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 50, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	p, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	if p.Priority != -1 {
		t.Fatalf("stopped status must pin priority at -1, got %d", p.Priority)
	}
	env.advanceDays(100)
	priority, err := env.Engine.RecomputePriority(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if priority != -1 {
		t.Fatalf("stopped priority must not decay, got %d", priority)
	}
}

func TestPriorityNoDeadline(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 30, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	env.advanceDays(90)
	priority, err := env.Engine.RecomputePriority(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if priority != 0 {
		t.Fatalf("no-deadline status is never overdue, got %d", priority)
	}
}

func TestCommentResetsOverdueClock(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(20)
	if p, _ := env.Engine.RecomputePriority(env.Ctx, id); p != 5 {
		t.Fatalf("precondition: expected 5, got %d", p)
	}
	if _, err := env.Engine.AddComment(env.Ctx, id, "tester", "spoke to the manufacturer"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	p, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	if p.Priority != 0 {
		t.Fatalf("comment should reset the overdue clock, got %d", p.Priority)
	}
	env.advanceDays(16)
	if p, _ := env.Engine.RecomputePriority(env.Ctx, id); p != 1 {
		t.Fatalf("expected 16-15=1 after comment, got %d", p)
	}
	lastActivity, err := env.Engine.LastActivityAt(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if lastActivity != "2025-01-21T00:00:00Z" {
		t.Fatalf("last activity should be the comment timestamp, got %s", lastActivity)
	}
}

func TestRecomputeSkipsWithoutOpenInterval(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(20)
	if _, err := env.Engine.RecomputePriority(env.Ctx, id); err != nil {
		t.Fatal(err)
	}
	// Simulate the close-to-open gap: close the interval out of band.
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE history_entries SET end_at='2025-01-21T00:00:00Z', duration_days=20 WHERE process_id=?`, id); err != nil {
		t.Fatal(err)
	}
	env.advanceDays(30)
	priority, err := env.Engine.RecomputePriority(env.Ctx, id)
	if err != nil {
		t.Fatalf("recompute during gap must not fail: %v", err)
	}
	if priority != 5 {
		t.Fatalf("gap recompute must return the cached value, got %d", priority)
	}
}

func TestTransitionWithoutOpenIntervalFails(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE history_entries SET end_at='2025-01-02T00:00:00Z', duration_days=1 WHERE process_id=?`, id); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"})
	if !errors.Is(err, engine.ErrNoOpenInterval) {
		t.Fatalf("expected ErrNoOpenInterval, got %v", err)
	}
}

func TestEditActiveIntervalProtections(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	entries, _ := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	open := entries[0]

	newStatus := int64(20)
	_, err := env.Engine.EditHistoryEntry(env.Ctx, engine.HistoryEditOptions{EntryID: open.ID, NewStatusID: &newStatus}, "admin")
	if !errors.Is(err, engine.ErrEditActiveInterval) {
		t.Fatalf("expected ErrEditActiveInterval for status edit, got %v", err)
	}
	end := env.now.Add(24 * time.Hour)
	_, err = env.Engine.EditHistoryEntry(env.Ctx, engine.HistoryEditOptions{EntryID: open.ID, NewEndAt: &end}, "admin")
	if !errors.Is(err, engine.ErrEditActiveInterval) {
		t.Fatalf("expected ErrEditActiveInterval for end edit, got %v", err)
	}
	// Start may be corrected on the open interval.
	start := env.now.Add(-48 * time.Hour)
	h, err := env.Engine.EditHistoryEntry(env.Ctx, engine.HistoryEditOptions{EntryID: open.ID, NewStartAt: &start}, "admin")
	if err != nil {
		t.Fatalf("start correction on open interval: %v", err)
	}
	if h.StartAt != "2024-12-30T00:00:00Z" {
		t.Fatalf("unexpected start_at %s", h.StartAt)
	}
}

func TestEditClosedIntervalRecomputesDuration(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(10)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	entries, _ := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	closed := entries[0]

	end := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	h, err := env.Engine.EditHistoryEntry(env.Ctx, engine.HistoryEditOptions{EntryID: closed.ID, NewEndAt: &end}, "admin")
	if err != nil {
		t.Fatalf("edit closed interval: %v", err)
	}
	if h.DurationDays == nil || *h.DurationDays != 4 {
		t.Fatalf("duration not recomputed, got %v", h.DurationDays)
	}

	badEnd := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.EditHistoryEntry(env.Ctx, engine.HistoryEditOptions{EntryID: closed.ID, NewEndAt: &badEnd}, "admin"); err == nil {
		t.Fatalf("expected invalid interval error")
	}
}

func TestDeleteHistoryEntry(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(3)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	entries, _ := env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	closed, open := entries[0], entries[1]

	if err := env.Engine.DeleteHistoryEntry(env.Ctx, open.ID, "admin"); !errors.Is(err, engine.ErrDeleteActiveInterval) {
		t.Fatalf("expected ErrDeleteActiveInterval, got %v", err)
	}
	if err := env.Engine.DeleteHistoryEntry(env.Ctx, closed.ID, "admin"); err != nil {
		t.Fatalf("delete closed entry: %v", err)
	}
	entries, _ = env.Engine.Repo.ListHistoryEntries(env.Ctx, id)
	if len(entries) != 1 {
		t.Fatalf("expected one remaining entry, got %d", len(entries))
	}
}

func TestBuildPeriods(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(10)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	env.advanceDays(30)

	periods, err := env.Engine.BuildPeriods(env.Ctx, id)
	if err != nil {
		t.Fatalf("build periods: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected two stage periods, got %d", len(periods))
	}
	first, second := periods[0], periods[1]
	if first.StageID != 1 || first.DurationDays != 10 || first.DurationRatio != 33 {
		t.Fatalf("stage 1: got days=%d ratio=%d", first.DurationDays, first.DurationRatio)
	}
	if second.StageID != 2 || second.DurationDays != 30 || second.DurationRatio != 100 {
		t.Fatalf("stage 2: got days=%d ratio=%d", second.DurationDays, second.DurationRatio)
	}
	// The live stage runs to now.
	if second.EndAt != "2025-02-10T00:00:00Z" {
		t.Fatalf("live stage should end at now, got %s", second.EndAt)
	}
}

func TestBuildPeriodsAggregatesRevisits(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	env.advanceDays(5)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 20, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	env.advanceDays(3)
	// Back to a different status of stage 1.
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 11, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	env.advanceDays(2)

	periods, err := env.Engine.BuildPeriods(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected two stage periods, got %d", len(periods))
	}
	stage1 := periods[0]
	if stage1.StageID != 1 || stage1.DurationDays != 7 {
		t.Fatalf("stage 1 should sum both visits, got days=%d", stage1.DurationDays)
	}
	if stage1.StartAt != "2025-01-01T00:00:00Z" {
		t.Fatalf("stage 1 start should be first entry, got %s", stage1.StartAt)
	}
}

func TestBuildPeriodsEmptyLedger(t *testing.T) {
	env := newTestEnv(t)
	periods, err := env.Engine.BuildPeriods(env.Ctx, "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 0 {
		t.Fatalf("expected empty result, got %d", len(periods))
	}
}

func TestNotableStageEventEmitted(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 40, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if n := countEvents(t, env, id, "process.stage.reached"); n != 1 {
		t.Fatalf("expected one stage event after entering stage 4, got %d", n)
	}
	// Moving within the same stage must not re-announce it.
	if _, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProcessID: id, NewStatusID: 41, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if n := countEvents(t, env, id, "process.stage.reached"); n != 1 {
		t.Fatalf("intra-stage transition must not emit a stage event, got %d", n)
	}
}

func countEvents(t *testing.T, env *testEnv, processID, evtType string) int {
	t.Helper()
	var n int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE process_id=? AND type=?`, processID, evtType)
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestTrashAndRestore(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	if err := env.Engine.Trash(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("trash: %v", err)
	}
	p, err := env.Engine.Repo.GetProcess(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Trashed() {
		t.Fatalf("expected deleted_at set")
	}
	listed, err := env.Engine.Repo.ListProcesses(env.Ctx, repo.ProcessFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Fatalf("trashed process must not appear in default listing")
	}
	if err := env.Engine.Restore(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	p, _ = env.Engine.Repo.GetProcess(env.Ctx, id)
	if p.Trashed() {
		t.Fatalf("expected deleted_at cleared")
	}
}

func TestRecomputeDoesNotTouchUpdatedAt(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProcess(t, 10)
	before, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	env.advanceDays(20)
	if _, err := env.Engine.RecomputePriority(env.Ctx, id); err != nil {
		t.Fatal(err)
	}
	after, _ := env.Engine.Repo.GetProcess(env.Ctx, id)
	if after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("system recompute must not bump updated_at")
	}
	if after.Priority != 5 {
		t.Fatalf("expected priority 5, got %d", after.Priority)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	okA := env.createProcess(t, 10)
	broken := env.createProcess(t, 10)
	okB := env.createProcess(t, 10)
	_ = okA
	_ = okB
	// A status row the loaded catalog has never seen makes recompute fail.
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`INSERT INTO statuses(id, name, stage_id) VALUES (999, 'ghost', 1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE processes SET status_id=999 WHERE id=?`, broken); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.RecomputeAllPriorities(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 processed / 1 failed, got %+v", res)
	}
}
