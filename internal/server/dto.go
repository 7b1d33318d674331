package server

import (
	"encoding/json"

	"regtrack/internal/catalog"
	"regtrack/internal/domain"
)

// Request payloads

type CreateProcessRequest struct {
	ID           *string `json:"id,omitempty"`
	Country      string  `json:"country"`
	Manufacturer string  `json:"manufacturer"`
	StatusID     *int64  `json:"status_id,omitempty"`
}

type TransitionRequest struct {
	StatusID   int64   `json:"status_id"`
	OccurredAt *string `json:"occurred_at,omitempty" format:"date-time"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

type EditHistoryRequest struct {
	StatusID *int64  `json:"status_id,omitempty"`
	StartAt  *string `json:"start_at,omitempty" format:"date-time"`
	EndAt    *string `json:"end_at,omitempty" format:"date-time"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ProcessResponse struct {
	ID             string  `json:"id"`
	Country        string  `json:"country"`
	Manufacturer   string  `json:"manufacturer"`
	StatusID       int64   `json:"status_id"`
	StatusName     string  `json:"status_name,omitempty"`
	StageID        int64   `json:"stage_id,omitempty"`
	StageName      string  `json:"stage_name,omitempty"`
	Priority       int     `json:"priority"`
	LastActivityAt *string `json:"last_activity_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	DeletedAt      *string `json:"deleted_at,omitempty" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID           string  `json:"id"`
	ProcessID    string  `json:"process_id"`
	StatusID     int64   `json:"status_id"`
	StatusName   string  `json:"status_name,omitempty"`
	StageID      int64   `json:"stage_id,omitempty"`
	StartAt      string  `json:"start_at" format:"date-time"`
	EndAt        *string `json:"end_at,omitempty" format:"date-time"`
	DurationDays *int    `json:"duration_days,omitempty"`
}

type StagePeriodResponse struct {
	StageID       int64  `json:"stage_id"`
	StageName     string `json:"stage_name"`
	StartAt       string `json:"start_at" format:"date-time"`
	EndAt         string `json:"end_at" format:"date-time"`
	DurationDays  int    `json:"duration_days"`
	DurationRatio int    `json:"duration_ratio"`
}

type CommentResponse struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProcessID  string         `json:"process_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type CatalogResponse struct {
	Stages   []CatalogStageResponse  `json:"stages"`
	Statuses []CatalogStatusResponse `json:"statuses"`
}

type CatalogStageResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Order            int    `json:"order"`
	RequiresElevated bool   `json:"requires_elevated,omitempty"`
}

type CatalogStatusResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	StageID      int64  `json:"stage_id"`
	DeadlineDays *int   `json:"deadline_days,omitempty"`
	Stopped      bool   `json:"stopped,omitempty"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type StageEntriesResponse struct {
	StageID    int64    `json:"stage_id"`
	From       string   `json:"from" format:"date-time"`
	To         string   `json:"to" format:"date-time"`
	ProcessIDs []string `json:"process_ids"`
	Count      int      `json:"count"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type paginatedProcesses struct {
	Items      []ProcessResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func processResponse(cat *catalog.Catalog, p domain.Process, lastActivity *string) ProcessResponse {
	res := ProcessResponse{
		ID:             p.ID,
		Country:        p.Country,
		Manufacturer:   p.Manufacturer,
		StatusID:       p.StatusID,
		Priority:       p.Priority,
		LastActivityAt: lastActivity,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		DeletedAt:      p.DeletedAt,
	}
	if st, ok := cat.StatusByID(p.StatusID); ok {
		res.StatusName = st.Name
		if sg, ok := cat.StageByID(st.StageID); ok {
			res.StageID = sg.ID
			res.StageName = sg.Name
		}
	}
	return res
}

func historyEntryResponse(cat *catalog.Catalog, h domain.HistoryEntry) HistoryEntryResponse {
	res := HistoryEntryResponse{
		ID:           h.ID,
		ProcessID:    h.ProcessID,
		StatusID:     h.StatusID,
		StartAt:      h.StartAt,
		EndAt:        h.EndAt,
		DurationDays: h.DurationDays,
	}
	if st, ok := cat.StatusByID(h.StatusID); ok {
		res.StatusName = st.Name
		res.StageID = st.StageID
	}
	return res
}

func stagePeriodResponse(p domain.StagePeriod) StagePeriodResponse {
	return StagePeriodResponse(p)
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse(c)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProcessID:  e.ProcessID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func catalogResponse(cat *catalog.Catalog) CatalogResponse {
	res := CatalogResponse{
		Stages:   []CatalogStageResponse{},
		Statuses: []CatalogStatusResponse{},
	}
	for _, sg := range cat.Stages() {
		res.Stages = append(res.Stages, CatalogStageResponse{
			ID:               sg.ID,
			Name:             sg.Name,
			Order:            sg.StageOrder,
			RequiresElevated: sg.RequiresElevated,
		})
	}
	for _, st := range cat.Statuses() {
		res.Statuses = append(res.Statuses, CatalogStatusResponse{
			ID:           st.ID,
			Name:         st.Name,
			StageID:      st.StageID,
			DeadlineDays: st.DeadlineDays,
			Stopped:      st.Stopped,
		})
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func strPtr(in string) *string {
	return &in
}
