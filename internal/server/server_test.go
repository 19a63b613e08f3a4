package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"agentdesk/internal/app"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/engine"
	"agentdesk/internal/engine/auth"
)

const testAdminToken = "admin-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.Workspace = t.TempDir()
	cfg.Server.JWTSecret = "jwt-secret"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	handler, err := New(Config{
		Engine:    a.Engine,
		Directory: a.Directory,
		BasePath:  "/v1",
		Auth:      AuthConfig{AdminToken: testAdminToken},
		Logger:    logger,
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
		URL:    "http://" + ln.Addr().String() + "/v1",
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
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

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken}
}

func createKey(t *testing.T, srv *testServer, email string) CreateKeyResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/admin/keys", map[string]any{
		"email":        email,
		"organization": "Acme",
	}, adminHeaders())
	expectStatus(t, res, data, http.StatusCreated)
	return decode[CreateKeyResponse](t, data)
}

func instructionBody() map[string]any {
	return map[string]any{
		"background":          "We sell CRM seats",
		"goal":                "Book a demo",
		"steps":               []string{"Greet", "Qualify"},
		"response_rules":      []string{"Be brief"},
		"communication_style": "friendly",
		"file_rules":          []string{},
		"allowed_functions":   []map[string]string{{"name": "book_meeting"}},
		"proactivity_level":   "high",
	}
}

func createTask(t *testing.T, srv *testServer, headers map[string]string) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":       "Outbound demo push",
		"description": "Reach warm leads",
		"instruction": instructionBody(),
	}, headers)
	expectStatus(t, res, data, http.StatusCreated)
	return decode[domain.Task](t, data)
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	key := createKey(t, srv, "ops@acme.test")
	if key.KeyValue == "" || key.User.KeyID != key.Key.ID {
		t.Fatalf("unexpected key response: %+v", key)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", map[string]any{"key_value": key.KeyValue}, nil)
	expectStatus(t, res, data, http.StatusOK)
	login := decode[LoginResponse](t, data)
	if login.Token == "" || login.UserID != key.User.ID || login.DefaultModel != "Gemini Flash" {
		t.Fatalf("unexpected login: %+v", login)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	task := createTask(t, srv, bearer)
	if task.OwnerID != key.User.ID || len(task.InstructionHistory) != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	base := srv.URL + "/tasks/" + task.ID

	revised := instructionBody()
	revised["goal"] = "Book two demos"
	res, data = doJSON(t, client, http.MethodPost, base+"/instruction", map[string]any{"instruction": revised}, bearer)
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Task](t, data); got.CurrentInstruction.Goal != "Book two demos" || len(got.InstructionHistory) != 2 {
		t.Fatalf("revision not applied: %+v", got.CurrentInstruction)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/diffs", map[string]any{
		"diff":   map[string]any{"field": "goal", "previous": "Book two demos", "proposed": "Book three demos"},
		"action": "propose",
	}, bearer)
	expectStatus(t, res, data, http.StatusOK)
	proposed := decode[domain.Task](t, data)
	if len(proposed.Diffs) != 1 || proposed.Diffs[0].Status != domain.DiffPending {
		t.Fatalf("expected one pending diff, got %+v", proposed.Diffs)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/diffs", map[string]any{
		"diff":   map[string]any{"id": proposed.Diffs[0].ID, "field": "goal", "previous": "Book two demos", "proposed": "Book three demos"},
		"action": "accept",
	}, bearer)
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Task](t, data); got.CurrentInstruction.Goal != "Book three demos" {
		t.Fatalf("accepted diff not applied: %q", got.CurrentInstruction.Goal)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/conversations", map[string]any{
		"telegram_account_ids": []string{"tg-1", "tg-2"},
	}, bearer)
	expectStatus(t, res, data, http.StatusCreated)
	convs := decode[domain.Task](t, data).Conversations
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}

	for i := 0; i < 10; i++ {
		status := "in_progress"
		if i == 9 {
			status = "completed"
		}
		res, data = doJSON(t, client, http.MethodPatch, base+"/conversations/"+convs[0].ID, map[string]any{
			"status":  status,
			"metrics": map[string]int{"persuasion": 8},
		}, bearer)
		expectStatus(t, res, data, http.StatusOK)
	}
	final := decode[domain.Task](t, data)
	if len(final.Dialogues) != 10 {
		t.Fatalf("expected 10 dialogues, got %d", len(final.Dialogues))
	}
	var system int
	for _, d := range final.Diffs {
		if d.Origin == domain.OriginSystem {
			system++
		}
	}
	if system != 1 {
		t.Fatalf("expected one system diff after 10 dialogues, got %d", system)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/conversations?ids="+convs[0].ID, nil, bearer)
	expectStatus(t, res, data, http.StatusOK)
	view := decode[engine.ConversationView](t, data)
	if view.Status != domain.StatusCompleted || len(view.Conversations) != 1 {
		t.Fatalf("unexpected filtered view: %+v", view)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/conversations", nil, bearer)
	expectStatus(t, res, data, http.StatusOK)
	if view := decode[engine.ConversationView](t, data); view.Status != domain.StatusInProgress || len(view.Conversations) != 2 {
		t.Fatalf("unexpected full view: %+v", view)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/summary", map[string]any{
		"conversion_rate": 0.5, "comments": "ok", "challenges": "none", "fun_facts": []string{"fast"},
	}, bearer)
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[domain.Task](t, data); got.Summary == nil || got.Summary.ConversionRate != 0.5 {
		t.Fatalf("summary not stored: %+v", got.Summary)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"X-API-Key": key.KeyValue})
	expectStatus(t, res, data, http.StatusOK)
	if tasks := decode[[]domain.Task](t, data); len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("unexpected task list: %+v", tasks)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/reports/overview", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	overview := decode[OverviewResponse](t, data)
	total := 0
	for _, n := range overview.WeeklyConversion {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one completed conversation in overview, got %+v", overview)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/reports/metrics", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	if avg := decode[map[string]float64](t, data); avg["persuasion"] != 8 {
		t.Fatalf("unexpected metric averages: %+v", avg)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/reports/email", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[map[string]string](t, data); got["status"] != "queued" {
		t.Fatalf("unexpected email response: %+v", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	owner := createKey(t, srv, "owner@acme.test")
	other := createKey(t, srv, "other@acme.test")
	ownerHdr := map[string]string{"X-API-Key": owner.KeyValue}
	task := createTask(t, srv, ownerHdr)

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{"missing key", http.MethodGet, "/tasks", nil, nil, http.StatusUnauthorized, "unauthorized"},
		{"bad key", http.MethodGet, "/tasks", nil, map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized, "unauthorized"},
		{"malformed bearer", http.MethodGet, "/tasks", nil, map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized, "unauthorized"},
		{"admin without token", http.MethodGet, "/admin/keys", nil, nil, http.StatusUnauthorized, "unauthorized"},
		{"reports with caller key", http.MethodGet, "/reports/tasks", nil, ownerHdr, http.StatusUnauthorized, "unauthorized"},
		{"other owner", http.MethodGet, "/tasks/" + task.ID, nil, map[string]string{"X-API-Key": other.KeyValue}, http.StatusForbidden, "forbidden"},
		{"missing task", http.MethodGet, "/tasks/missing", nil, ownerHdr, http.StatusNotFound, "not_found"},
		{"missing conversation", http.MethodPatch, "/tasks/" + task.ID + "/conversations/nope", map[string]any{"status": "completed"}, ownerHdr, http.StatusNotFound, "not_found"},
		{"empty account id", http.MethodPost, "/tasks/" + task.ID + "/conversations", map[string]any{"telegram_account_ids": []string{""}}, ownerHdr, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/tasks/" + task.ID + "/summary", map[string]any{"conversion_rate": 1, "comments": "", "challenges": "", "fun_facts": []string{}, "extra": true}, ownerHdr, http.StatusBadRequest, "bad_request"},
		{"bad status enum", http.MethodPatch, "/tasks/" + task.ID + "/conversations/x", map[string]any{"status": "paused"}, ownerHdr, http.StatusBadRequest, "bad_request"},
		{"update missing key", http.MethodPatch, "/admin/keys/missing?status_value=false", nil, adminHeaders(), http.StatusNotFound, "not_found"},
		{"bad bool", http.MethodPatch, "/admin/keys/" + owner.Key.ID + "?allow_model_selection=maybe", nil, adminHeaders(), http.StatusBadRequest, "bad_request"},
		{"task scope without task", http.MethodPost, "/admin/model-selection/" + owner.Key.ID, map[string]any{"scope": "task", "model_name": "GPT"}, adminHeaders(), http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			expectStatus(t, res, data, tc.status)
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("code %q, want %q: %s", code, tc.code, string(data))
			}
		})
	}

	// forbidden callers must not have mutated the task
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks/"+task.ID+"/summary", map[string]any{
		"conversion_rate": 1, "comments": "", "challenges": "", "fun_facts": []string{},
	}, map[string]string{"X-API-Key": other.KeyValue})
	expectStatus(t, res, data, http.StatusForbidden)
	got, err := srv.App.Store.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Summary != nil {
		t.Fatalf("forbidden caller changed the task")
	}
}

func TestDeactivatedKeyIsForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	key := createKey(t, srv, "ops@acme.test")

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/admin/keys/"+key.Key.ID+"?status_value=false&allow_model_selection=true", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	updated := decode[KeyResponse](t, data)
	if updated.Status != "inactive" || !updated.AllowModelSelection {
		t.Fatalf("unexpected key after update: %+v", updated)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"X-API-Key": key.KeyValue})
	expectStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", map[string]any{"key_value": key.KeyValue}, nil)
	expectStatus(t, res, data, http.StatusForbidden)
}

func TestModelSelectionAndKeyListing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	key := createKey(t, srv, "ops@acme.test")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/admin/model-selection/"+key.Key.ID, map[string]any{
		"scope": "global", "model_name": "Claude",
	}, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/admin/model-selection/"+key.Key.ID, map[string]any{
		"scope": "task", "model_name": "GPT", "task_id": "t-1",
	}, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/admin/keys", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	if strings.Contains(string(data), "key_hash") {
		t.Fatalf("key listing leaks hashes: %s", string(data))
	}
	keys := decode[[]KeyResponse](t, data)
	if len(keys) != 1 || keys[0].DefaultModel != "Claude" || keys[0].TaskModelOverrides["t-1"] != "GPT" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestAgentAccounts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	key := createKey(t, srv, "ops@acme.test")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/admin/telegram-accounts", map[string]any{
		"label": "sales-bot", "credentials": "session-blob",
	}, adminHeaders())
	expectStatus(t, res, data, http.StatusCreated)
	if strings.Contains(string(data), "session-blob") {
		t.Fatalf("credentials echoed: %s", string(data))
	}
	acc := decode[AccountResponse](t, data)
	if acc.Status != "ready" || !acc.HasCredentials {
		t.Fatalf("unexpected account: %+v", acc)
	}
	accURL := srv.URL + "/admin/telegram-accounts/" + acc.ID

	res, data = doJSON(t, client, http.MethodPatch, accURL, map[string]any{"telegram_account_id": "other", "key_id": key.Key.ID}, adminHeaders())
	expectStatus(t, res, data, http.StatusBadRequest)
	res, data = doJSON(t, client, http.MethodPatch, accURL, map[string]any{"key_id": "missing"}, adminHeaders())
	expectStatus(t, res, data, http.StatusNotFound)

	for i := 0; i < 2; i++ {
		res, data = doJSON(t, client, http.MethodPatch, accURL, map[string]any{"key_id": key.Key.ID}, adminHeaders())
		expectStatus(t, res, data, http.StatusOK)
	}
	res, data = doJSON(t, client, http.MethodPatch, accURL, map[string]any{"status": "banned"}, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	if got := decode[AccountResponse](t, data); got.Status != "banned" || got.KeyID != key.Key.ID {
		t.Fatalf("unexpected account after update: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/admin/keys", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	if keys := decode[[]KeyResponse](t, data); len(keys[0].AgentAccountIDs) != 1 {
		t.Fatalf("binding should not duplicate: %+v", keys[0].AgentAccountIDs)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/admin/events?limit=100", nil, adminHeaders())
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	var types []string
	for _, e := range page.Items {
		types = append(types, e.Type)
	}
	if !strings.Contains(strings.Join(types, ","), "account.assign") || page.NextCursor == 0 {
		t.Fatalf("unexpected events page: %+v", types)
	}
}

func TestOpenAPIAndDocsArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	doc := decode[map[string]any](t, data)
	components, _ := doc["components"].(map[string]any)
	schemes, _ := components["securitySchemes"].(map[string]any)
	for _, name := range []string{"bearerAuth", "apiKeyAuth", "adminToken"} {
		if _, ok := schemes[name]; !ok {
			t.Fatalf("missing security scheme %s", name)
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
}

func TestClassify(t *testing.T) {
	cases := map[string]routeClass{
		"/health":             routePublic,
		"/auth/login":         routePublic,
		"/openapi.json":       routePublic,
		"/admin/keys":         routeAdmin,
		"/reports/overview":   routeAdmin,
		"/tasks":              routeCaller,
		"/tasks/1/summary":    routeCaller,
		"/administrator/tool": routeCaller,
	}
	for path, want := range cases {
		if got := classify(path); got != want {
			t.Errorf("classify(%q) = %d, want %d", path, got, want)
		}
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	// events present before the first poll are not replayed
	createKey(t, srv, "before@acme.test")

	var (
		mu       sync.Mutex
		received []string
		sigs     []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, r.Header.Get("X-Agentdesk-Event"))
		sigs = append(sigs, r.Header.Get("X-Agentdesk-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.App.Store, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"key.*", "account.create"},
		Secret: "hook-secret",
	}}, nil)
	d.DispatchOnce(ctx)

	key := createKey(t, srv, "after@acme.test")
	allow := true
	if _, err := srv.App.Directory.UpdateKey(ctx, auth.KeyUpdateOptions{ID: key.Key.ID, AllowModelSelection: &allow}); err != nil {
		t.Fatalf("update key: %v", err)
	}
	if _, err := srv.App.Directory.SetModelSelection(ctx, auth.ModelSelection{KeyID: key.Key.ID, Scope: auth.ScopeGlobal, ModelName: "Claude"}); err != nil {
		t.Fatalf("select model: %v", err)
	}
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(received, ","); got != "key.create,key.update" {
		t.Fatalf("unexpected deliveries %q", got)
	}
	for _, s := range sigs {
		if !strings.HasPrefix(s, "sha256=") {
			t.Fatalf("missing signature: %q", s)
		}
	}
}

func TestWebhookFailureKeepsCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var (
		mu    sync.Mutex
		fail  = true
		calls []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Header.Get("X-Agentdesk-Delivery"))
		if fail {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.App.Store, []config.WebhookConfig{{URL: hook.URL}}, nil)
	d.DispatchOnce(ctx)
	createKey(t, srv, "ops@acme.test")
	d.DispatchOnce(ctx)
	mu.Lock()
	fail = false
	mu.Unlock()
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Fatalf("expected the failed delivery to be retried once, got %v", calls)
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{" diff.* ", "task.create"})
	for evt, want := range map[string]bool{
		"diff.auto":        true,
		"diff.accept":      true,
		"task.create":      true,
		"dialogue.record":  false,
		"differ.something": false,
	} {
		if got := f.match(evt); got != want {
			t.Errorf("match(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter([]string{"", " "}).match("anything") {
		t.Fatalf("blank filter should match all")
	}
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without engine and directory")
	}
}

func ExampleNew() {
	a, err := app.Build(context.Background(), config.Default(), nil)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	handler, err := New(Config{Engine: a.Engine, Directory: a.Directory, Auth: AuthConfig{AdminToken: "x"}})
	if err != nil {
		panic(err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	fmt.Println(rec.Code)
	// Output: 200
}
