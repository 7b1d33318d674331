package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regtrack/internal/domain"
	"regtrack/internal/repo"
)

// ErrNoOpenInterval signals a ledger consistency fault: a close was attempted
// while nothing was open. It is never retried automatically.
var ErrNoOpenInterval = errors.New("no open interval for process")

// Validation failures returned to callers of the administrative edit paths.
var (
	ErrEditActiveInterval   = errors.New("cannot edit status or end of the active interval")
	ErrDeleteActiveInterval = errors.New("cannot delete the active interval")
)

// Ledger is the append-only status occupancy log. All mutations run inside the
// coordinator's transaction; the single-open-interval invariant is guaranteed
// by the close-before-open sequencing plus a partial unique index.
type Ledger struct {
	Repo repo.Repo
}

// OpenInterval appends a new open entry. The caller must have closed any
// previously open interval in the same transaction.
func (l Ledger) OpenInterval(ctx context.Context, tx *sql.Tx, processID string, statusID int64, startAt time.Time) (domain.HistoryEntry, error) {
	h := domain.HistoryEntry{
		ID:        uuid.New().String(),
		ProcessID: processID,
		StatusID:  statusID,
		StartAt:   formatTime(startAt),
	}
	if err := l.Repo.InsertHistoryEntry(ctx, tx, h); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("open interval: %w", err)
	}
	return h, nil
}

// CloseOpenInterval stamps the open entry with endAt and its frozen duration.
func (l Ledger) CloseOpenInterval(ctx context.Context, tx *sql.Tx, processID string, endAt time.Time) (domain.HistoryEntry, error) {
	open, err := l.Repo.OpenEntryTx(ctx, tx, processID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.HistoryEntry{}, ErrNoOpenInterval
	}
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	start, err := parseTime(open.StartAt)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("parse start_at of entry %s: %w", open.ID, err)
	}
	days := daysBetween(start, endAt)
	endStr := formatTime(endAt)
	if err := l.Repo.CloseHistoryEntry(ctx, tx, open.ID, endStr, days); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("close interval: %w", err)
	}
	open.EndAt = &endStr
	open.DurationDays = &days
	return open, nil
}

// ActiveInterval returns the open entry, or nil during the momentary
// close-to-open gap. Absence is a valid transient state, not an error.
func (l Ledger) ActiveInterval(ctx context.Context, processID string) (*domain.HistoryEntry, error) {
	h, err := l.Repo.OpenEntry(ctx, processID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// HistoryEditOptions carries the administrative correction fields. Nil fields
// are left untouched.
type HistoryEditOptions struct {
	EntryID     string
	NewStatusID *int64
	NewStartAt  *time.Time
	NewEndAt    *time.Time
}

// EditClosedInterval applies an administrative correction. On the open
// interval only start_at may change; status and end are protected. Durations
// are recomputed whenever dates move.
func (l Ledger) EditClosedInterval(ctx context.Context, tx *sql.Tx, opts HistoryEditOptions) (domain.HistoryEntry, error) {
	h, err := l.Repo.GetHistoryEntryTx(ctx, tx, opts.EntryID)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if h.Open() && (opts.NewStatusID != nil || opts.NewEndAt != nil) {
		return domain.HistoryEntry{}, ErrEditActiveInterval
	}
	if opts.NewStatusID != nil {
		h.StatusID = *opts.NewStatusID
	}
	if opts.NewStartAt != nil {
		h.StartAt = formatTime(*opts.NewStartAt)
	}
	if opts.NewEndAt != nil {
		end := formatTime(*opts.NewEndAt)
		h.EndAt = &end
	}
	if !h.Open() && (opts.NewStartAt != nil || opts.NewEndAt != nil) {
		start, err := parseTime(h.StartAt)
		if err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("parse start_at: %w", err)
		}
		end, err := parseTime(*h.EndAt)
		if err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("parse end_at: %w", err)
		}
		if end.Before(start) {
			return domain.HistoryEntry{}, fmt.Errorf("invalid interval: end_at before start_at")
		}
		days := daysBetween(start, end)
		h.DurationDays = &days
	}
	if err := l.Repo.UpdateHistoryEntry(ctx, tx, h); err != nil {
		return domain.HistoryEntry{}, err
	}
	return h, nil
}

// DeleteInterval removes a closed entry; the open interval is protected.
func (l Ledger) DeleteInterval(ctx context.Context, tx *sql.Tx, entryID string) (domain.HistoryEntry, error) {
	h, err := l.Repo.GetHistoryEntryTx(ctx, tx, entryID)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if h.Open() {
		return domain.HistoryEntry{}, ErrDeleteActiveInterval
	}
	if err := l.Repo.DeleteHistoryEntry(ctx, tx, entryID); err != nil {
		return domain.HistoryEntry{}, err
	}
	return h, nil
}

// daysBetween floors to whole days. The same rule is applied everywhere a
// duration or an overdue figure is derived.
func daysBetween(start, end time.Time) int {
	return int(end.Sub(start) / (24 * time.Hour))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
