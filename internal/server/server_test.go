package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"seisreview/internal/config"
	"seisreview/internal/db"
	"seisreview/internal/engine"
	"seisreview/internal/migrate"
)

const testSecret = "test-secret"

const testCatalog = `events:
  - id: 11
    occurred_at: 2025-02-11T08:30:00Z
    coordinates: "-31.42, -64.18"
    magnitude: 4.6
    richter_value: 4.6
    richter_description: Light
    classification: Intermediate
    origin: Tectonic
    reach: Regional
    stations:
      - station: ST-B
        samples:
          - {wavelength: 3, frequency: 1, velocity: 2}
          - {wavelength: 1, frequency: 1, velocity: 2}
      - station: ST-A
        samples:
          - {wavelength: 2, frequency: 2, velocity: 2}
  - id: 12
    occurred_at: 2025-02-12T08:30:00Z
    coordinates: "-32.89, -68.83"
    magnitude: 2.9
`

type testServer struct {
	URL    string
	client *http.Client
	engine engine.Engine
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	cat, err := engine.ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if _, err := e.Seed(ctx, cat, "seeder"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowOperatorHeader: true},
		Logger:   quiet,
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
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 5 * time.Second},
		engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func as(operator string) map[string]string {
	return map[string]string{OperatorHeader: operator}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return env.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/v0/health", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/v0/events/unreviewed", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "unauthorized" {
		t.Fatalf("unexpected code %q", code)
	}
	resp, _ = ts.do(t, http.MethodGet, "/v0/events/unreviewed", map[string]string{"Authorization": "Bearer not-a-jwt"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestJWTIdentifiesOperator(t *testing.T) {
	ts := newTestServer(t)
	token, err := MintToken(testSecret, "ana", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	resp, body := ts.do(t, http.MethodGet, "/v0/me", map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", resp.StatusCode, body)
	}
	var me MeResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.OperatorID != "ana" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
	other, _ := MintToken("other-secret", "ana", time.Hour, time.Now())
	resp, _ = ts.do(t, http.MethodGet, "/v0/me", map[string]string{"Authorization": "Bearer " + other})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", resp.StatusCode)
	}
}

func TestClaimConflictAndReject(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/v0/events/11/claim", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", resp.StatusCode, body)
	}
	var claimed EventResponse
	if err := json.Unmarshal(body, &claimed); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claimed.Event.State != "blocked_in_review" {
		t.Fatalf("unexpected state %s", claimed.Event.State)
	}

	resp, body = ts.do(t, http.MethodPost, "/v0/events/11/claim", as("luis"))
	if resp.StatusCode != http.StatusConflict || errorCode(t, body) != "not_claimable" {
		t.Fatalf("second claim: %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/v0/events/11/reject", as("luis"))
	if resp.StatusCode != http.StatusConflict || errorCode(t, body) != "not_holder" {
		t.Fatalf("foreign reject: %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/v0/events/11/reject", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, "/v0/events/404/claim", as("ana"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing claim: %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/v0/events/unreviewed", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var list UnreviewedListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != 12 {
		t.Fatalf("unexpected unreviewed list %+v", list.Items)
	}

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	for _, want := range []string{
		`seisreview_claims_total{result="conflict"} 1`,
		`seisreview_claims_total{result="ok"} 1`,
		`seisreview_rejections_total{result="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestRecordedDataAndSeismograms(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/v0/events/11/recorded-data", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recorded data: %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"richter_classification":"4.6 (Light)"`) {
		t.Fatalf("unexpected recorded data %s", body)
	}
	resp, body = ts.do(t, http.MethodGet, "/v0/events/11/seismograms", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seismograms: %d %s", resp.StatusCode, body)
	}
	var sets SeismogramsResponse
	if err := json.Unmarshal(body, &sets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sets.Stations) != 2 || sets.Stations[0].Station != "ST-B" || sets.Stations[1].Station != "ST-A" {
		t.Fatalf("station order lost: %+v", sets.Stations)
	}
	if sets.Stations[0].Samples[0].Wavelength != 3 || sets.Stations[0].Samples[1].Wavelength != 1 {
		t.Fatalf("sample order lost: %+v", sets.Stations[0].Samples)
	}
	resp, body = ts.do(t, http.MethodGet, "/v0/events?state=bogus", as("ana"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad state: %d %s", resp.StatusCode, body)
	}
}

func TestAuditPaging(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v0/events/11/claim", as("ana"))
	ts.do(t, http.MethodPost, "/v0/events/12/claim", as("ana"))
	resp, body := ts.do(t, http.MethodGet, "/v0/audit?limit=2", as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", resp.StatusCode, body)
	}
	var page AuditPageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 2 || page.NextAfter == 0 {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page.Items[0].Type != "catalog.seeded" || page.Items[1].Type != "event.claimed" {
		t.Fatalf("unexpected types %+v", page.Items)
	}
	resp, body = ts.do(t, http.MethodGet, "/v0/audit?limit=2&after="+strconv.FormatInt(page.NextAfter, 10), as("ana"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit page 2: %d %s", resp.StatusCode, body)
	}
	page = AuditPageResponse{}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].EventID != 12 || page.NextAfter != 0 {
		t.Fatalf("unexpected second page %+v", page)
	}
}

func TestWebhookDeliversFilteredEntries(t *testing.T) {
	ts := newTestServer(t)
	var (
		mu      sync.Mutex
		got     []webhookEntry
		headers []http.Header
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var entry webhookEntry
		_ = json.NewDecoder(r.Body).Decode(&entry)
		mu.Lock()
		got = append(got, entry)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	ctx := context.Background()
	hooks := []config.WebhookConfig{{URL: receiver.URL, Events: []string{"event.rejected"}, Secret: "s3"}}
	d := newWebhookDispatcher(ts.engine, hooks, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.cursorFor(ctx, 0)

	if _, err := ts.engine.ClaimEvent(ctx, 11, "ana"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := ts.engine.RejectEvent(ctx, 11, "ana"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Type != "event.rejected" || got[0].EventID != 11 || got[0].OperatorID != "ana" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
	if headers[0].Get("X-Seisreview-Event") != "event.rejected" || headers[0].Get("X-Seisreview-Secret") != "s3" {
		t.Fatalf("unexpected headers %v", headers[0])
	}
	if headers[0].Get("X-Seisreview-Delivery") == "" {
		t.Fatalf("missing delivery id")
	}
}
