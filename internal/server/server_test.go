package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/metrics"
	"workplan/internal/migrate"
)

const (
	testSecret = "test-secret"
	seedTS     = "2025-01-01T00:00:00.000000Z"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, config.Default("inst-1"))
	e.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	seed(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
		Metrics:  metrics.New(),
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seed(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	r := e.Repo
	for _, c := range []string{"c1", "c2"} {
		if err := r.InsertCampus(ctx, domain.Campus{ID: c, Name: strings.ToUpper(c), CreatedAt: seedTS}); err != nil {
			t.Fatalf("seed campus: %v", err)
		}
	}
	if err := r.InsertPeriod(ctx, domain.ReportPeriod{
		ID: "2025-1", Name: "2025-1", StartDate: "2025-01-01T00:00:00.000000Z", EndDate: "2025-06-30T23:59:59.999999Z",
		IsActive: true, CreatedAt: seedTS,
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "admin", Name: "Admin", Role: "administrator"},
		{ID: "coord1", Name: "Coord Norte", Role: "coordinator", CampusID: "c1"},
		{ID: "coord2", Name: "Coord Sur", Role: "coordinator", CampusID: "c2"},
		{ID: "m1", Name: "Manager Uno", Role: "manager", CampusID: "c1", WeeklyHours: 40, NumberOfWeeks: 4},
	} {
		a.CreatedAt = seedTS
		if err := r.InsertActor(ctx, a); err != nil {
			t.Fatalf("seed actor %s: %v", a.ID, err)
		}
	}
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
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

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/plans", map[string]any{
		"plan_type": "teaching",
		"period_id": "2025-1",
		"title":     "Plan 2025-1",
	}, as("m1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan status %d: %s", res.StatusCode, string(data))
	}
	var plan domain.WorkPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	planURL := base + "/plans/" + plan.ID

	for field, value := range map[string]any{
		"summary":   map[string]any{"type": "long_text", "text": "Courses and tutoring"},
		"headcount": map[string]any{"type": "numeric", "number": 35},
	} {
		res, data := doJSON(t, client, http.MethodPut, planURL+"/responses/"+field, value, as("m1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("response %s status %d: %s", field, res.StatusCode, string(data))
		}
	}
	assign := func(product string, hours float64) {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPut, planURL+"/assignments", map[string]any{
			"axis_id": "ax-academic", "action_id": "ac-curriculum", "product_id": product, "hours": hours,
		}, as("m1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("assign %s status %d: %s", product, res.StatusCode, string(data))
		}
	}
	assign("pr-syllabus", 100)
	assign("pr-course", 61)

	res, data = doJSON(t, client, http.MethodPost, planURL+"/submit", nil, as("m1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("over budget submit status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}
	issues, _ := env.Error.Details["issues"].([]any)
	if len(issues) != 1 || issues[0].(map[string]any)["kind"] != engine.IssueHours {
		t.Fatalf("expected one hours issue, got %v", env.Error.Details)
	}

	assign("pr-course", 60)
	res, data = doJSON(t, client, http.MethodPost, planURL+"/submit", nil, as("m1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, planURL+"/review", map[string]any{"decision": "approved"}, as("coord2"))
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Error.Code != "permission_denied" {
		t.Fatalf("out of scope review status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, planURL+"/review", map[string]any{"decision": "maybe"}, as("coord1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("schema violation should be 400, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, planURL+"/review", map[string]any{"decision": "approved", "comments": "ok"}, as("coord1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var reviewed engine.PlanResult
	if err := json.Unmarshal(data, &reviewed); err != nil {
		t.Fatalf("unmarshal review: %v", err)
	}
	if reviewed.Plan.Status != domain.PlanApproved {
		t.Fatalf("expected approved plan, got %+v", reviewed.Plan)
	}

	res, data = doJSON(t, client, http.MethodPost, planURL+"/submit", nil, as("m1"))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "invalid_state_transition" {
		t.Fatalf("resubmit approved status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, planURL, nil, as("m1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get plan status %d: %s", res.StatusCode, string(data))
	}
	var detail engine.PlanDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.AssignedHours != 160 || detail.AvailableHours != 160 || len(detail.Assignments) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	if res, data := doJSON(t, client, http.MethodGet, base+"/health", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/me", nil, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /me should be 401, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, base+"/me", nil, as("ghost"))
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Error.Code != "unknown_actor" {
		t.Fatalf("unknown actor status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/auth/dev/login", map[string]any{"actor_id": "m1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login body %s (%v)", string(data), err)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
		"X-Actor-Id":    "admin",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer /me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "m1" || who.Source != "jwt" || len(who.Scope.ManagerIDs) != 1 {
		t.Fatalf("token must win over the legacy header, got %+v", who)
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/me", nil, map[string]string{"Authorization": "Bearer nope"}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token should be 401, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/actors/m1/api-keys", map[string]any{"name": "ci"}, as("m1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("api key body %s (%v)", string(data), err)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"source":"api_key"`) {
		t.Fatalf("api key /me status %d: %s", res.StatusCode, string(data))
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/me", nil, map[string]string{"X-Api-Key": "wp_wrong"}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong api key should be 401, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/actors/coord1/api-keys", map[string]any{}, as("m1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("key for another actor status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnifiedReportsMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/indicator-reports", map[string]any{
		"period_id": "2025-1",
		"title":     "Indicators Q1",
	}, as("m1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create indicator report status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/reports", nil, as("coord1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unified status %d: %s", res.StatusCode, string(data))
	}
	var unified engine.UnifiedResult
	if err := json.Unmarshal(data, &unified); err != nil {
		t.Fatalf("unmarshal unified: %v", err)
	}
	if len(unified.Reports) != 1 || unified.Reports[0].ReportType != domain.ReportTypeIndicators || unified.Reports[0].Status != domain.UnifiedDraft {
		t.Fatalf("unexpected unified listing %+v", unified)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/reports", nil, as("coord2"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"reports":[]`) {
		t.Fatalf("other campus must see nothing, status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "workplan_http_requests_total") {
		t.Fatalf("metrics status %d missing request counter", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("openapi status %d: %.200s", res.StatusCode, string(data))
	}
}

func TestEventsRequireAdministrator(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v1"

	res, data := doJSON(t, client, http.MethodPost, base+"/campuses", map[string]any{"id": "c3", "name": "Centro"}, as("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create campus status %d: %s", res.StatusCode, string(data))
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/events", nil, as("m1")); res.StatusCode != http.StatusForbidden {
		t.Fatalf("manager reading events should be 403, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/events?limit=1", nil, as("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "campus.created" || page.Items[0].EntityID != "c3" {
		t.Fatalf("unexpected events page %+v", page)
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/events?cursor=abc", nil, as("admin")); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor should be 400, got %d", res.StatusCode)
	}
}
