package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"regtrack/internal/engine"
	"regtrack/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission process.transition.elevated required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"process.transition.elevated\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Regtrack API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(raw))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Regtrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProcesses(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerPeriods(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerAdmin(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrEditActiveInterval) || errors.Is(err, engine.ErrDeleteActiveInterval) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNoOpenInterval) {
		// A missing open interval outside a transition is a ledger
		// consistency fault, not a caller mistake.
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid interval"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "unknown status"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireTransitionPermission gates a move into the given status: every
// transition needs process.transition, and statuses inside an elevated stage
// additionally need process.transition.elevated.
func requireTransitionPermission(ctx context.Context, e engine.Engine, statusID int64) error {
	if err := requirePermission(ctx, e.Config, "process.transition"); err != nil {
		return err
	}
	if stage, ok := e.Catalog.StageForStatus(statusID); ok && stage.RequiresElevated {
		if err := requirePermission(ctx, e.Config, "process.transition.elevated"); err != nil {
			return err
		}
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Regtrack API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Country == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "country is required", nil)
		}
		if input.Body.Manufacturer == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "manufacturer is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProcessCreateOptions{
			Country:      input.Body.Country,
			Manufacturer: input.Body.Manufacturer,
			ActorID:      actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.StatusID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status_id is required", nil)
		}
		opts.StatusID = *input.Body.StatusID
		if err := requireTransitionPermission(ctx, e, opts.StatusID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProcess(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		// Re-read for the priority recomputed after the creation commit.
		p, err = e.Repo.GetProcess(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(e.Catalog, p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		StatusID       int64  `query:"status_id"`
		StageID        int64  `query:"stage_id"`
		Country        string `query:"country"`
		IncludeTrashed bool   `query:"include_trashed"`
		Sort           string `query:"sort" enum:",priority"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*struct {
		Body paginatedProcesses `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.ProcessFilters{
			StatusID:        input.StatusID,
			StageID:         input.StageID,
			Country:         input.Country,
			IncludeTrashed:  input.IncludeTrashed,
			OrderByPriority: input.Sort == "priority",
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		items, err := e.Repo.ListProcesses(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProcesses{Items: []ProcessResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		for _, p := range items {
			resp.Items = append(resp.Items, processResponse(e.Catalog, p, nil))
		}
		return &struct {
			Body paginatedProcesses `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{id}",
		Summary:     "Get process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		var lastActivity *string
		if ts, err := e.LastActivityAt(ctx, p.ID); err == nil && ts != "" {
			lastActivity = &ts
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(e.Catalog, p, lastActivity)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-process",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/transition",
		Summary:     "Transition process status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.StatusID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTransitionPermission(ctx, e, input.Body.StatusID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.TransitionOptions{
			ProcessID:   input.ID,
			NewStatusID: input.Body.StatusID,
			ActorID:     actorID,
		}
		if input.Body.OccurredAt != nil {
			ts, err := time.Parse(time.RFC3339, *input.Body.OccurredAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid occurred_at", map[string]any{"occurred_at": *input.Body.OccurredAt})
			}
			opts.OccurredAt = ts
		}
		if _, err := e.TransitionStatus(ctx, opts); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(e.Catalog, p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trash-process",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/trash",
		Summary:     "Soft-delete process",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e.Config, "process.transition"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Trash(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-process",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/restore",
		Summary:     "Restore soft-deleted process",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e.Config, "process.transition"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Restore(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-process-priority",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/recompute",
		Summary:     "Recompute process priority",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e.Config, "admin.recompute"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.RecomputePriority(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(e.Catalog, p, nil)}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/history",
		Summary:     "Process status history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Repo.ListHistoryEntries(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryEntryResponse, 0, len(entries))
		for _, h := range entries {
			res = append(res, historyEntryResponse(e.Catalog, h))
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-history-entry",
		Method:      http.MethodPatch,
		Path:        "/history/{id}",
		Summary:     "Edit history entry",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body EditHistoryRequest `json:"body"`
	}) (*struct {
		Body HistoryEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e.Config, "history.edit"); err != nil {
			return nil, handleError(err)
		}
		opts := engine.HistoryEditOptions{EntryID: input.ID, NewStatusID: input.Body.StatusID}
		if input.Body.StartAt != nil {
			ts, err := time.Parse(time.RFC3339, *input.Body.StartAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid start_at", nil)
			}
			opts.NewStartAt = &ts
		}
		if input.Body.EndAt != nil {
			ts, err := time.Parse(time.RFC3339, *input.Body.EndAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid end_at", nil)
			}
			opts.NewEndAt = &ts
		}
		h, err := e.EditHistoryEntry(ctx, opts, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryEntryResponse `json:"body"`
		}{Body: historyEntryResponse(e.Catalog, h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-history-entry",
		Method:      http.MethodDelete,
		Path:        "/history/{id}",
		Summary:     "Delete history entry",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e.Config, "history.edit"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteHistoryEntry(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPeriods(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "process-periods",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/periods",
		Summary:     "Per-stage period analytics",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []StagePeriodResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		periods, err := e.BuildPeriods(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]StagePeriodResponse, 0, len(periods))
		for _, p := range periods {
			res = append(res, stagePeriodResponse(p))
		}
		return &struct {
			Body []StagePeriodResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/processes/{id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CreateCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Body) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, actorID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		comments, err := e.Repo.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CommentResponse, 0, len(comments))
		for _, c := range comments {
			res = append(res, commentResponse(c))
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Status catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: catalogResponse(e.Catalog)}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stage-entries-report",
		Method:      http.MethodGet,
		Path:        "/reports/stage-entries",
		Summary:     "Processes that entered a stage in a window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		StageID int64  `query:"stage_id" required:"true"`
		From    string `query:"from" required:"true" format:"date-time"`
		To      string `query:"to" required:"true" format:"date-time"`
	}) (*struct {
		Body StageEntriesResponse `json:"body"`
	}, error) {
		if _, ok := e.Catalog.StageByID(input.StageID); !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown stage %d", input.StageID), nil)
		}
		from, err := time.Parse(time.RFC3339, input.From)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid from", nil)
		}
		to, err := time.Parse(time.RFC3339, input.To)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid to", nil)
		}
		if !to.After(from) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to must be after from", nil)
		}
		ids, err := e.Repo.StageEntryProcesses(ctx,
			input.StageID,
			from.UTC().Format(time.RFC3339),
			to.UTC().Format(time.RFC3339))
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body StageEntriesResponse `json:"body"`
		}{Body: StageEntriesResponse{
			StageID:    input.StageID,
			From:       from.UTC().Format(time.RFC3339),
			To:         to.UTC().Format(time.RFC3339),
			ProcessIDs: ids,
			Count:      len(ids),
		}}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-recompute",
		Method:      http.MethodPost,
		Path:        "/admin/recompute",
		Summary:     "Recompute all priorities",
		Errors: []int{
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e.Config, "admin.recompute"); err != nil {
			return nil, handleError(err)
		}
		res, err := e.RecomputeAllPriorities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Processed: res.Processed, Failed: res.Failed}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProcessID  string `query:"process_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursor, input.ProcessID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, ev := range items {
			resp.Items = append(resp.Items, eventResponse(ev))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		perms := principal.Permissions
		if len(perms) == 0 {
			perms = e.Config.RolePermissions(principal.Roles)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(perms),
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
