package regtracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Regtrack HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model.
type Process struct {
	ID             string  `json:"id"`
	Country        string  `json:"country"`
	Manufacturer   string  `json:"manufacturer"`
	StatusID       int64   `json:"status_id"`
	StatusName     string  `json:"status_name"`
	StageID        int64   `json:"stage_id"`
	StageName      string  `json:"stage_name"`
	Priority       int     `json:"priority"`
	LastActivityAt *string `json:"last_activity_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	DeletedAt      *string `json:"deleted_at,omitempty"`
}

// HistoryEntry represents one ledger interval.
type HistoryEntry struct {
	ID           string  `json:"id"`
	ProcessID    string  `json:"process_id"`
	StatusID     int64   `json:"status_id"`
	StatusName   string  `json:"status_name"`
	StageID      int64   `json:"stage_id"`
	StartAt      string  `json:"start_at"`
	EndAt        *string `json:"end_at,omitempty"`
	DurationDays *int    `json:"duration_days,omitempty"`
}

// StagePeriod represents one stage analytics row.
type StagePeriod struct {
	StageID       int64  `json:"stage_id"`
	StageName     string `json:"stage_name"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	DurationDays  int    `json:"duration_days"`
	DurationRatio int    `json:"duration_ratio"`
}

// Comment represents a process comment.
type Comment struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProcessID  string         `json:"process_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// SweepResult reports a full priority recompute.
type SweepResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedProcesses wraps process listings with cursors.
type PaginatedProcesses struct {
	Items      []Process `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProcess creates a process in the given initial status.
func (c *Client) CreateProcess(ctx context.Context, country, manufacturer string, statusID int64) (Process, error) {
	body := map[string]any{
		"country":      country,
		"manufacturer": manufacturer,
		"status_id":    statusID,
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "processes", body, &resp)
	return resp, err
}

// GetProcess fetches a process by id.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodGet, "processes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ProcessesPage returns a paginated process listing.
func (c *Client) ProcessesPage(ctx context.Context, limit int, cursor string) (PaginatedProcesses, error) {
	endpoint := "processes"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedProcesses
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a process to a new status. occurredAt may be empty.
func (c *Client) Transition(ctx context.Context, processID string, statusID int64, occurredAt string) (Process, error) {
	body := map[string]any{"status_id": statusID}
	if occurredAt != "" {
		body["occurred_at"] = occurredAt
	}
	var resp Process
	endpoint := fmt.Sprintf("processes/%s/transition", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Trash soft-deletes a process.
func (c *Client) Trash(ctx context.Context, processID string) error {
	endpoint := fmt.Sprintf("processes/%s/trash", url.PathEscape(processID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Restore un-deletes a process.
func (c *Client) Restore(ctx context.Context, processID string) error {
	endpoint := fmt.Sprintf("processes/%s/restore", url.PathEscape(processID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// History returns the process ledger. The endpoint responds with a bare array.
func (c *Client) History(ctx context.Context, processID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("processes/%s/history", url.PathEscape(processID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EditHistoryEntry corrects a closed ledger interval. Nil fields are untouched.
func (c *Client) EditHistoryEntry(ctx context.Context, entryID string, statusID *int64, startAt, endAt *string) (HistoryEntry, error) {
	body := map[string]any{}
	if statusID != nil {
		body["status_id"] = *statusID
	}
	if startAt != nil {
		body["start_at"] = *startAt
	}
	if endAt != nil {
		body["end_at"] = *endAt
	}
	var resp HistoryEntry
	err := c.do(ctx, http.MethodPatch, "history/"+url.PathEscape(entryID), body, &resp)
	return resp, err
}

// DeleteHistoryEntry removes a closed ledger interval.
func (c *Client) DeleteHistoryEntry(ctx context.Context, entryID string) error {
	return c.do(ctx, http.MethodDelete, "history/"+url.PathEscape(entryID), nil, nil)
}

// Periods returns per-stage duration analytics as a bare array.
func (c *Client) Periods(ctx context.Context, processID string) ([]StagePeriod, error) {
	var resp []StagePeriod
	endpoint := fmt.Sprintf("processes/%s/periods", url.PathEscape(processID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddComment adds a comment to a process.
func (c *Client) AddComment(ctx context.Context, processID, body string) (Comment, error) {
	var resp Comment
	endpoint := fmt.Sprintf("processes/%s/comments", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// Comments lists process comments, oldest first, as a bare array.
func (c *Client) Comments(ctx context.Context, processID string) ([]Comment, error) {
	var resp []Comment
	endpoint := fmt.Sprintf("processes/%s/comments", url.PathEscape(processID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecomputePriority recomputes a single process priority.
func (c *Client) RecomputePriority(ctx context.Context, processID string) (Process, error) {
	var resp Process
	endpoint := fmt.Sprintf("processes/%s/recompute", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RecomputeAll runs a full priority sweep.
func (c *Client) RecomputeAll(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "admin/recompute", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
