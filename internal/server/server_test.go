package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"testing"

	"regtrack/internal/catalog"
	"regtrack/internal/config"
	"regtrack/internal/db"
	"regtrack/internal/domain"
	"regtrack/internal/engine"
	"regtrack/internal/migrate"
	"regtrack/internal/repo"
	regtracksdk "regtrack/sdk/go"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cat, err := catalog.Seed(context.Background(), conn, repo.Repo{DB: conn}, cfg)
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	e := engine.New(conn, cat, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, APIKeyRole: "operator"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, actorID string, roles ...string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": actorID,
		"roles":    roles,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func createProcess(t *testing.T, srv *testServer, headers map[string]string, statusID int64) ProcessResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes", map[string]any{
		"country":      "DE",
		"manufacturer": "Acme Pharma",
		"status_id":    statusID,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create process: %d %s", res.StatusCode, string(data))
	}
	var p ProcessResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal process: %v", err)
	}
	return p
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestProcessLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "alice", "manager")

	p := createProcess(t, srv, headers, 10)
	if p.StatusID != 10 || p.StageID != 1 {
		t.Fatalf("unexpected created process: %+v", p)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes/"+p.ID+"/transition", map[string]any{
		"status_id": 20,
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition: %d %s", res.StatusCode, string(data))
	}
	var moved ProcessResponse
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatal(err)
	}
	if moved.StatusID != 20 || moved.StageName != "Dossier preparation" {
		t.Fatalf("unexpected process after transition: %+v", moved)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes/"+p.ID+"/history", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two ledger entries, got %d", len(entries))
	}
	if entries[0].EndAt == nil || entries[1].EndAt != nil {
		t.Fatalf("expected first closed, second open")
	}
}

func TestElevatedStageRequiresPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operator := login(t, srv, "bob", "operator")
	manager := login(t, srv, "alice", "manager")

	p := createProcess(t, srv, operator, 10)

	// Stage 4 "Contracting" is elevated in the default catalog.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes/"+p.ID+"/transition", map[string]any{
		"status_id": 40,
	}, operator)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("operator into elevated stage: expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes", map[string]any{
		"country":      "FR",
		"manufacturer": "Acme Pharma",
		"status_id":    40,
	}, operator)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("operator creating in elevated stage: expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes/"+p.ID+"/transition", map[string]any{
		"status_id": 40,
	}, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manager into elevated stage: %d %s", res.StatusCode, string(data))
	}
}

func TestHistoryEditProtections(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	manager := login(t, srv, "alice", "manager")
	operator := login(t, srv, "bob", "operator")

	p := createProcess(t, srv, manager, 10)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes/"+p.ID+"/history", nil, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	openID := entries[0].ID

	// Operators lack history.edit.
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/history/"+openID, nil, operator)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", res.StatusCode)
	}

	// The open interval is protected even for managers.
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/history/"+openID, nil, manager)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 deleting the active interval, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/history/"+openID, map[string]any{
		"status_id": 11,
	}, manager)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 editing the active interval, got %d %s", res.StatusCode, string(data))
	}
}

func TestPeriodsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	manager := login(t, srv, "alice", "manager")

	p := createProcess(t, srv, manager, 10)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes/"+p.ID+"/transition", map[string]any{
		"status_id": 20,
	}, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes/"+p.ID+"/periods", nil, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("periods: %d %s", res.StatusCode, string(data))
	}
	var periods []StagePeriodResponse
	if err := json.Unmarshal(data, &periods); err != nil {
		t.Fatal(err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected two stage periods, got %d", len(periods))
	}
	if periods[0].StageID != 1 || periods[1].StageID != 2 {
		t.Fatalf("periods out of stage order: %+v", periods)
	}
}

func TestCommentFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "alice", "manager")

	p := createProcess(t, srv, headers, 10)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/processes/"+p.ID+"/comments", map[string]any{
		"body": "called the manufacturer",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add comment: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes/"+p.ID+"/comments", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list comments: %d %s", res.StatusCode, string(data))
	}
	var comments []CommentResponse
	if err := json.Unmarshal(data, &comments); err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].Body != "called the manufacturer" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
	if comments[0].AuthorID != "alice" {
		t.Fatalf("author should come from the token subject, got %s", comments[0].AuthorID)
	}
}

func TestAdminRecomputePermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	operator := login(t, srv, "bob", "operator")
	manager := login(t, srv, "alice", "manager")

	createProcess(t, srv, operator, 10)

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/admin/recompute", nil, operator)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/admin/recompute", nil, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep: %d %s", res.StatusCode, string(data))
	}
	var sweep SweepResponse
	if err := json.Unmarshal(data, &sweep); err != nil {
		t.Fatal(err)
	}
	if sweep.Processed != 1 {
		t.Fatalf("expected one processed, got %+v", sweep)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	secret := "rk-service-key"
	err := srv.engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "reporting-bot",
		KeyHash: repo.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes", nil, map[string]string{
		"X-Api-Key": secret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/processes", nil, map[string]string{
		"X-Api-Key": "not-a-key",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestProcessListPaginationCoversAllRows(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "alice", "manager")

	created := map[string]bool{}
	for i := 0; i < 3; i++ {
		created[createProcess(t, srv, headers, 10).ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 4; page++ {
		url := srv.URL + "/v1/processes?limit=2"
		if cursor != "" {
			url += "&cursor=" + neturl.QueryEscape(cursor)
		}
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list page %d: %d %s", page, res.StatusCode, string(data))
		}
		var out paginatedProcesses
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		for _, p := range out.Items {
			if seen[p.ID] {
				t.Fatalf("process %s returned twice", p.ID)
			}
			seen[p.ID] = true
		}
		cursor = out.NextCursor
		if cursor == "" {
			break
		}
	}
	if len(seen) != len(created) {
		t.Fatalf("pagination lost rows: created %d, saw %d", len(created), len(seen))
	}
	for id := range created {
		if !seen[id] {
			t.Fatalf("process %s never listed", id)
		}
	}
}

func TestSDKListEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "alice", "manager")

	client := regtracksdk.New(srv.URL)
	client.BearerToken = strings.TrimPrefix(headers["Authorization"], "Bearer ")

	p, err := client.CreateProcess(context.Background(), "DE", "Acme Pharma", 10)
	if err != nil {
		t.Fatalf("sdk create: %v", err)
	}
	if _, err := client.Transition(context.Background(), p.ID, 20, ""); err != nil {
		t.Fatalf("sdk transition: %v", err)
	}
	if _, err := client.AddComment(context.Background(), p.ID, "sent the dossier"); err != nil {
		t.Fatalf("sdk comment: %v", err)
	}

	entries, err := client.History(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("sdk history: %v", err)
	}
	if len(entries) != 2 || entries[1].EndAt != nil {
		t.Fatalf("unexpected ledger via sdk: %+v", entries)
	}
	periods, err := client.Periods(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("sdk periods: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("expected two stage periods via sdk, got %d", len(periods))
	}
	comments, err := client.Comments(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("sdk comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "sent the dossier" {
		t.Fatalf("unexpected comments via sdk: %+v", comments)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "alice", "operator")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/catalog", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog: %d %s", res.StatusCode, string(data))
	}
	var cat CatalogResponse
	if err := json.Unmarshal(data, &cat); err != nil {
		t.Fatal(err)
	}
	if len(cat.Stages) != 5 || len(cat.Statuses) != 10 {
		t.Fatalf("unexpected catalog size: %d stages, %d statuses", len(cat.Stages), len(cat.Statuses))
	}
}
