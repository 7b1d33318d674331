// Package catalog holds the loaded-once status reference data. A Catalog is
// immutable after Load; concurrent readers never synchronize. Administrators
// change the catalog by importing config and restarting (or re-Loading into a
// fresh value).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"regtrack/internal/config"
	"regtrack/internal/domain"
	"regtrack/internal/repo"
)

type Catalog struct {
	statuses map[int64]domain.Status
	stages   map[int64]domain.Stage
	ordered  []domain.Stage
}

// Load reads the catalog tables into an immutable lookup.
func Load(ctx context.Context, r repo.Repo) (*Catalog, error) {
	stages, err := r.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stages: %w", err)
	}
	statuses, err := r.ListStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}
	return New(stages, statuses), nil
}

// New builds a catalog from reference rows. Useful in tests.
func New(stages []domain.Stage, statuses []domain.Status) *Catalog {
	c := &Catalog{
		statuses: make(map[int64]domain.Status, len(statuses)),
		stages:   make(map[int64]domain.Stage, len(stages)),
		ordered:  make([]domain.Stage, 0, len(stages)),
	}
	for _, st := range stages {
		c.stages[st.ID] = st
		c.ordered = append(c.ordered, st)
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if c.ordered[i].StageOrder != c.ordered[j].StageOrder {
			return c.ordered[i].StageOrder < c.ordered[j].StageOrder
		}
		return c.ordered[i].ID < c.ordered[j].ID
	})
	for _, s := range statuses {
		c.statuses[s.ID] = s
	}
	return c
}

// StatusByID looks up a fine status.
func (c *Catalog) StatusByID(id int64) (domain.Status, bool) {
	s, ok := c.statuses[id]
	return s, ok
}

// StageByID looks up a coarse stage.
func (c *Catalog) StageByID(id int64) (domain.Stage, bool) {
	st, ok := c.stages[id]
	return st, ok
}

// StageForStatus resolves the coarse stage a status belongs to.
func (c *Catalog) StageForStatus(statusID int64) (domain.Stage, bool) {
	s, ok := c.statuses[statusID]
	if !ok {
		return domain.Stage{}, false
	}
	return c.StageByID(s.StageID)
}

// Stages returns all stages ordered by stage_order.
func (c *Catalog) Stages() []domain.Stage {
	out := make([]domain.Stage, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Statuses returns all statuses in id order.
func (c *Catalog) Statuses() []domain.Status {
	ids := make([]int64, 0, len(c.statuses))
	for id := range c.statuses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]domain.Status, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.statuses[id])
	}
	return out
}

// Seed upserts catalog rows from config inside one transaction and returns a
// freshly loaded catalog.
func Seed(ctx context.Context, db *sql.DB, r repo.Repo, cfg *config.Config) (*Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, st := range cfg.Catalog.Stages {
		if err := r.UpsertStage(ctx, tx, domain.Stage{
			ID:               st.ID,
			Name:             st.Name,
			StageOrder:       st.Order,
			RequiresElevated: st.Elevated,
		}); err != nil {
			return nil, fmt.Errorf("upsert stage %d: %w", st.ID, err)
		}
	}
	for _, s := range cfg.Catalog.Statuses {
		if err := r.UpsertStatus(ctx, tx, domain.Status{
			ID:           s.ID,
			Name:         s.Name,
			StageID:      s.Stage,
			DeadlineDays: s.DeadlineDays,
			Stopped:      s.Stopped,
		}); err != nil {
			return nil, fmt.Errorf("upsert status %d: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return Load(ctx, r)
}
