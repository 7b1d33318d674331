package domain

// Stage is a coarse phase of the registration pipeline. Statuses group into
// stages; the stage order drives reporting and default visibility.
type Stage struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	StageOrder       int    `json:"stage_order"`
	RequiresElevated bool   `json:"requires_elevated,omitempty"`
}

// Status is a fine-grained pipeline state. DeadlineDays is nil when the status
// carries no deadline; Stopped marks terminal dead-end statuses.
type Status struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	StageID      int64  `json:"stage_id"`
	DeadlineDays *int   `json:"deadline_days,omitempty"`
	Stopped      bool   `json:"stopped,omitempty"`
}

// HasDeadline reports whether the status carries a deadline.
func (s Status) HasDeadline() bool {
	return s.DeadlineDays != nil
}

// Process is a registration pipeline instance for a country/manufacturer pair.
// Priority is derived and cached: -1 stopped, 0 on track, >0 days overdue.
type Process struct {
	ID           string  `json:"id"`
	Country      string  `json:"country"`
	Manufacturer string  `json:"manufacturer"`
	StatusID     int64   `json:"status_id"`
	Priority     int     `json:"priority"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	DeletedAt    *string `json:"deleted_at,omitempty" format:"date-time"`
}

// Trashed reports whether the process is soft-deleted.
func (p Process) Trashed() bool {
	return p.DeletedAt != nil
}

// HistoryEntry is one status occupancy interval in a process ledger.
// EndAt and DurationDays are nil for the open interval.
type HistoryEntry struct {
	ID           string  `json:"id"`
	ProcessID    string  `json:"process_id"`
	StatusID     int64   `json:"status_id"`
	StartAt      string  `json:"start_at" format:"date-time"`
	EndAt        *string `json:"end_at,omitempty" format:"date-time"`
	DurationDays *int    `json:"duration_days,omitempty"`
}

// Open reports whether the entry is the ledger's open interval.
func (h HistoryEntry) Open() bool {
	return h.EndAt == nil
}

// StagePeriod is the per-stage aggregation returned by period analytics.
type StagePeriod struct {
	StageID       int64  `json:"stage_id"`
	StageName     string `json:"stage_name"`
	StartAt       string `json:"start_at" format:"date-time"`
	EndAt         string `json:"end_at" format:"date-time"`
	DurationDays  int    `json:"duration_days"`
	DurationRatio int    `json:"duration_ratio"`
}

// Comment is the minimal comment fact the priority engine consumes.
type Comment struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProcessID  string `json:"process_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
