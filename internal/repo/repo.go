package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"regtrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- processes ---

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO processes(id,country,manufacturer,status_id,priority,created_at,updated_at,deleted_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Country, p.Manufacturer, p.StatusID, p.Priority, p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.DeletedAt))
	return err
}

func scanProcess(scan func(dest ...any) error) (domain.Process, error) {
	var p domain.Process
	var deletedAt sql.NullString
	err := scan(&p.ID, &p.Country, &p.Manufacturer, &p.StatusID, &p.Priority, &p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.String
	}
	return p, nil
}

const processColumns = `id,country,manufacturer,status_id,priority,created_at,updated_at,deleted_at`

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id=?`, id)
	return scanProcess(row.Scan)
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id=?`, id)
	return scanProcess(row.Scan)
}

// UpdateProcess is the user-edit write path: it persists every mutable field
// including updated_at, which callers must have bumped.
func (r Repo) UpdateProcess(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET country=?, manufacturer=?, status_id=?, updated_at=?, deleted_at=? WHERE id=?`,
		p.Country, p.Manufacturer, p.StatusID, p.UpdatedAt, nullableStringPtr(p.DeletedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProcessPriority is the system-derived write path: it touches only the
// cached priority and leaves updated_at alone so recomputes never show up as
// user edits.
func (r Repo) UpdateProcessPriority(ctx context.Context, id string, priority int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE processes SET priority=? WHERE id=?`, priority, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProcessDeleted flags or clears the soft-delete marker. History and the
// cached priority are left untouched.
func (r Repo) SetProcessDeleted(ctx context.Context, tx *sql.Tx, id string, deletedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET deleted_at=? WHERE id=?`, nullableStringPtr(deletedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ProcessFilters struct {
	StatusID        int64
	StageID         int64
	Country         string
	IncludeTrashed  bool
	OrderByPriority bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]domain.Process, error) {
	var clauses []string
	var args []any
	if f.StatusID != 0 {
		clauses = append(clauses, "status_id=?")
		args = append(args, f.StatusID)
	}
	if f.StageID != 0 {
		clauses = append(clauses, "status_id IN (SELECT id FROM statuses WHERE stage_id=?)")
		args = append(args, f.StageID)
	}
	if f.Country != "" {
		clauses = append(clauses, "country=?")
		args = append(args, f.Country)
	}
	if !f.IncludeTrashed {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := "ORDER BY created_at DESC, id DESC"
	if f.OrderByPriority {
		order = "ORDER BY priority DESC, created_at DESC, id DESC"
	}
	query := `SELECT ` + processColumns + ` FROM processes ` + where + " " + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProcessIDs pages through process IDs in stable order for batch sweeps.
// Trashed processes are included: their priority stays maintained so restore
// does not need a replay.
func (r Repo) ProcessIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM processes WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- history entries ---

const historyColumns = `id,process_id,status_id,start_at,end_at,duration_days`

func scanHistoryEntry(scan func(dest ...any) error) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var endAt sql.NullString
	var days sql.NullInt64
	err := scan(&h.ID, &h.ProcessID, &h.StatusID, &h.StartAt, &endAt, &days)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	if endAt.Valid {
		h.EndAt = &endAt.String
	}
	if days.Valid {
		d := int(days.Int64)
		h.DurationDays = &d
	}
	return h, nil
}

func (r Repo) InsertHistoryEntry(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO history_entries(id,process_id,status_id,start_at,end_at,duration_days) VALUES (?,?,?,?,?,?)`,
		h.ID, h.ProcessID, h.StatusID, h.StartAt, nullableStringPtr(h.EndAt), nullableIntPtr(h.DurationDays))
	return err
}

func (r Repo) GetHistoryEntry(ctx context.Context, id string) (domain.HistoryEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE id=?`, id)
	return scanHistoryEntry(row.Scan)
}

func (r Repo) GetHistoryEntryTx(ctx context.Context, tx *sql.Tx, id string) (domain.HistoryEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE id=?`, id)
	return scanHistoryEntry(row.Scan)
}

// OpenEntry returns the process's open interval, ErrNotFound when none exists.
func (r Repo) OpenEntry(ctx context.Context, processID string) (domain.HistoryEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE process_id=? AND end_at IS NULL`, processID)
	return scanHistoryEntry(row.Scan)
}

func (r Repo) OpenEntryTx(ctx context.Context, tx *sql.Tx, processID string) (domain.HistoryEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE process_id=? AND end_at IS NULL`, processID)
	return scanHistoryEntry(row.Scan)
}

// CloseHistoryEntry stamps end_at and the frozen duration in one statement.
func (r Repo) CloseHistoryEntry(ctx context.Context, tx *sql.Tx, id, endAt string, durationDays int) error {
	res, err := tx.ExecContext(ctx, `UPDATE history_entries SET end_at=?, duration_days=? WHERE id=? AND end_at IS NULL`, endAt, durationDays, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateHistoryEntry(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	res, err := tx.ExecContext(ctx, `UPDATE history_entries SET status_id=?, start_at=?, end_at=?, duration_days=? WHERE id=?`,
		h.StatusID, h.StartAt, nullableStringPtr(h.EndAt), nullableIntPtr(h.DurationDays), h.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteHistoryEntry(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM history_entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistoryEntries returns a process ledger ordered by start time ascending.
// Timestamps are stored at second granularity, so ties (a close and open from
// the same transition, or several transitions within one second) are broken by
// rowid to preserve insertion order and keep the open interval last.
func (r Repo) ListHistoryEntries(ctx context.Context, processID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE process_id=? ORDER BY start_at ASC, rowid ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistoryEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// StageEntryProcesses returns distinct process IDs that entered the given
// coarse stage within [from, to). Used by monthly/quarterly dashboards.
func (r Repo) StageEntryProcesses(ctx context.Context, stageID int64, from, to string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT DISTINCT h.process_id FROM history_entries h
JOIN statuses s ON s.id=h.status_id
WHERE s.stage_id=? AND h.start_at >= ? AND h.start_at < ?
ORDER BY h.process_id`, stageID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,process_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.ProcessID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

// LastCommentAt returns the latest comment timestamp, nil when uncommented.
func (r Repo) LastCommentAt(ctx context.Context, processID string) (*string, error) {
	var ts sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(created_at) FROM comments WHERE process_id=?`, processID).Scan(&ts)
	if err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.String, nil
}

func (r Repo) ListComments(ctx context.Context, processID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,process_id,author_id,body,created_at FROM comments WHERE process_id=? ORDER BY created_at ASC, id ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.ProcessID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- catalog reference rows ---

func (r Repo) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,stage_order,requires_elevated FROM stages ORDER BY stage_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var st domain.Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.StageOrder, &st.RequiresElevated); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) ListStatuses(ctx context.Context) ([]domain.Status, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,stage_id,deadline_days,stopped FROM statuses ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Status
	for rows.Next() {
		var s domain.Status
		var days sql.NullInt64
		if err := rows.Scan(&s.ID, &s.Name, &s.StageID, &days, &s.Stopped); err != nil {
			return nil, err
		}
		if days.Valid {
			d := int(days.Int64)
			s.DeadlineDays = &d
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertStage(ctx context.Context, tx *sql.Tx, st domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,name,stage_order,requires_elevated) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, stage_order=excluded.stage_order, requires_elevated=excluded.requires_elevated`,
		st.ID, st.Name, st.StageOrder, st.RequiresElevated)
	return err
}

func (r Repo) UpsertStatus(ctx context.Context, tx *sql.Tx, s domain.Status) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO statuses(id,name,stage_id,deadline_days,stopped) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, stage_id=excluded.stage_id, deadline_days=excluded.deadline_days, stopped=excluded.stopped`,
		s.ID, s.Name, s.StageID, nullableIntPtr(s.DeadlineDays), s.Stopped)
	return err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, processID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, processID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, processID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if processID != "" {
		clauses = append(clauses, "process_id=?")
		args = append(args, processID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,process_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,process_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var processID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &processID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if processID.Valid {
			e.ProcessID = processID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
