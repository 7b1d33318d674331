package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regtrack/internal/catalog"
	"regtrack/internal/config"
	"regtrack/internal/domain"
	"regtrack/internal/events"
	"regtrack/internal/repo"
)

// Engine coordinates the process lifecycle: every status change closes and
// reopens a ledger interval, the cached priority is recomputed after each
// event that can move it, and notable stage boundaries emit audit events the
// notification dispatcher delivers.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Catalog *catalog.Catalog
	Ledger  Ledger
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cat *catalog.Catalog, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Catalog: cat,
		Ledger:  Ledger{Repo: r},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProcessCreateOptions are parameters for creating a process.
type ProcessCreateOptions struct {
	ID           string
	Country      string
	Manufacturer string
	StatusID     int64
	ActorID      string
}

// CreateProcess inserts the process, opens its first ledger interval at the
// creation time, then recomputes the priority.
func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (domain.Process, error) {
	if e.Catalog == nil {
		return domain.Process{}, errors.New("catalog not loaded")
	}
	if opts.Country == "" {
		return domain.Process{}, errors.New("country is required")
	}
	if opts.Manufacturer == "" {
		return domain.Process{}, errors.New("manufacturer is required")
	}
	status, ok := e.Catalog.StatusByID(opts.StatusID)
	if !ok {
		return domain.Process{}, fmt.Errorf("unknown status %d", opts.StatusID)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now()
	nowStr := formatTime(now)
	p := domain.Process{
		ID:           id,
		Country:      opts.Country,
		Manufacturer: opts.Manufacturer,
		StatusID:     status.ID,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProcess(ctx, tx, p); err != nil {
		return domain.Process{}, fmt.Errorf("insert process: %w", err)
	}
	if _, err := e.Ledger.OpenInterval(ctx, tx, p.ID, status.ID, now); err != nil {
		return domain.Process{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProcessCreated, p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
		"country":      p.Country,
		"manufacturer": p.Manufacturer,
		"status_id":    status.ID,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	priority, err := e.RecomputePriority(ctx, p.ID)
	if err != nil {
		return p, err
	}
	p.Priority = priority
	return p, nil
}

// TransitionOptions are parameters for a status change.
type TransitionOptions struct {
	ProcessID   string
	NewStatusID int64
	ActorID     string
	OccurredAt  time.Time
}

// TransitionStatus moves a process to a new status. Same-status calls are
// idempotent no-ops. Close, open and the process update share one transaction;
// the priority recompute runs after commit and tolerates the momentary absence
// of an open interval.
func (e Engine) TransitionStatus(ctx context.Context, opts TransitionOptions) (domain.Process, error) {
	if e.Catalog == nil {
		return domain.Process{}, errors.New("catalog not loaded")
	}
	p, err := e.Repo.GetProcess(ctx, opts.ProcessID)
	if err != nil {
		return domain.Process{}, err
	}
	if p.StatusID == opts.NewStatusID {
		return p, nil
	}
	newStatus, ok := e.Catalog.StatusByID(opts.NewStatusID)
	if !ok {
		return p, fmt.Errorf("unknown status %d", opts.NewStatusID)
	}
	occurredAt := opts.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}
	oldStatusID := p.StatusID

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	if _, err := e.Ledger.CloseOpenInterval(ctx, tx, p.ID, occurredAt); err != nil {
		return p, err
	}
	if _, err := e.Ledger.OpenInterval(ctx, tx, p.ID, newStatus.ID, occurredAt); err != nil {
		return p, err
	}
	p.StatusID = newStatus.ID
	p.UpdatedAt = formatTime(e.now())
	if err := e.Repo.UpdateProcess(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.ProcessStatusChanged, p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
		"from_status_id": oldStatusID,
		"to_status_id":   newStatus.ID,
	}); err != nil {
		return p, err
	}
	oldStage, _ := e.Catalog.StageForStatus(oldStatusID)
	newStage, _ := e.Catalog.StageForStatus(newStatus.ID)
	if newStage.ID != oldStage.ID && e.Config.NotableStage(newStage.ID) {
		if err := e.Events.Append(ctx, tx, events.ProcessStageReached, p.ID, "process", p.ID, opts.ActorID, events.EventPayload{
			"stage_id":   newStage.ID,
			"stage_name": newStage.Name,
		}); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	priority, err := e.RecomputePriority(ctx, p.ID)
	if err != nil {
		return p, err
	}
	p.Priority = priority
	return p, nil
}

// AddComment attaches a comment and recomputes the priority: activity inside
// the current status resets the overdue clock.
func (e Engine) AddComment(ctx context.Context, processID, authorID, body string) (domain.Comment, error) {
	if body == "" {
		return domain.Comment{}, errors.New("body is required")
	}
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		ProcessID: p.ID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: formatTime(e.now()),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, events.ProcessCommentAdded, p.ID, "comment", c.ID, authorID, events.EventPayload{}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	if _, err := e.RecomputePriority(ctx, p.ID); err != nil {
		return c, err
	}
	return c, nil
}

// EditHistoryEntry is the administrative correction path. Active-interval
// protections live in the ledger; a successful edit recomputes the priority of
// the owning process.
func (e Engine) EditHistoryEntry(ctx context.Context, opts HistoryEditOptions, actorID string) (domain.HistoryEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	defer tx.Rollback()
	h, err := e.Ledger.EditClosedInterval(ctx, tx, opts)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, events.HistoryEdited, h.ProcessID, "history", h.ID, actorID, events.EventPayload{}); err != nil {
		return domain.HistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HistoryEntry{}, err
	}
	if _, err := e.RecomputePriority(ctx, h.ProcessID); err != nil {
		return h, err
	}
	return h, nil
}

// DeleteHistoryEntry removes a closed ledger entry.
func (e Engine) DeleteHistoryEntry(ctx context.Context, entryID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	h, err := e.Ledger.DeleteInterval(ctx, tx, entryID)
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.HistoryDeleted, h.ProcessID, "history", h.ID, actorID, events.EventPayload{
		"status_id": h.StatusID,
		"start_at":  h.StartAt,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if _, err := e.RecomputePriority(ctx, h.ProcessID); err != nil {
		return err
	}
	return nil
}

// Trash soft-deletes a process. The ledger and the cached priority are
// untouched: restore re-enables visibility without replaying history.
func (e Engine) Trash(ctx context.Context, processID, actorID string) error {
	return e.setDeleted(ctx, processID, actorID, true)
}

// Restore clears the soft-delete marker.
func (e Engine) Restore(ctx context.Context, processID, actorID string) error {
	return e.setDeleted(ctx, processID, actorID, false)
}

func (e Engine) setDeleted(ctx context.Context, processID, actorID string, deleted bool) error {
	p, err := e.Repo.GetProcess(ctx, processID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var deletedAt *string
	evtType := events.ProcessRestored
	if deleted {
		ts := formatTime(e.now())
		deletedAt = &ts
		evtType = events.ProcessTrashed
	}
	if err := e.Repo.SetProcessDeleted(ctx, tx, p.ID, deletedAt); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, p.ID, "process", p.ID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// LastActivityAt derives the process activity timestamp: the later of the open
// interval's start and the most recent comment. Comments made before the
// current interval started are deliberately ignored.
func (e Engine) LastActivityAt(ctx context.Context, processID string) (string, error) {
	active, err := e.Ledger.ActiveInterval(ctx, processID)
	if err != nil {
		return "", err
	}
	lastComment, err := e.Repo.LastCommentAt(ctx, processID)
	if err != nil {
		return "", err
	}
	if active == nil {
		if lastComment != nil {
			return *lastComment, nil
		}
		return "", nil
	}
	if lastComment != nil && *lastComment > active.StartAt {
		return *lastComment, nil
	}
	return active.StartAt, nil
}

// ImportCatalog seeds the reference tables from config and returns the freshly
// loaded catalog. The caller swaps it into its Engine.
func (e Engine) ImportCatalog(ctx context.Context, cfg *config.Config, actorID string) (*catalog.Catalog, error) {
	cat, err := catalog.Seed(ctx, e.DB, e.Repo, cfg)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.CatalogImported, "", "catalog", "", actorID, events.EventPayload{
		"stages":   len(cfg.Catalog.Stages),
		"statuses": len(cfg.Catalog.Statuses),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cat, nil
}
