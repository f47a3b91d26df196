package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"andchange/internal/config"
	"andchange/internal/db"
	"andchange/internal/engine"
	"andchange/internal/migrate"
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
	cfg := config.Default("proj-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), "proj-1", "org-1", "Rollout", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowAnonymous: true}})
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

func createTestRecipient(t *testing.T, srv *testServer, id string) {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/recipients", map[string]any{
		"id":         id,
		"project_id": "proj-1",
		"kind":       "impacted_group",
		"name":       "Warehouse staff",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create recipient status %d: %s", res.StatusCode, string(body))
	}
}

func createTestAction(t *testing.T, srv *testServer, name string) int64 {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/action", map[string]any{
		"organizationId":  "org-1",
		"name":            name,
		"category":        "AWARENESS",
		"entityType":      "impacted_group",
		"contentTemplate": "{{action}} for {{entity}} on {{date}}",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create action status %d: %s", res.StatusCode, string(body))
	}
	var created ActionResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	return created.ID
}

func createRangePlan(t *testing.T, srv *testServer) ActionPlanResponse {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/action-plan/ap", map[string]any{
		"projectId":       "proj-1",
		"additiveProcess": false,
		"entityDateRanges": map[string]any{
			"IG-1": map[string]any{
				"AWARENESS": map[string]any{"startDate": "2024-01-01", "endDate": "2024-01-31"},
			},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan status %d: %s", res.StatusCode, string(body))
	}
	var created ActionPlanResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	return created
}

func TestPlanByProjectMissing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/action-plan/ap-by-project?project-id=proj-1", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before a plan exists, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}
}

func TestCreatePlanSelectiveRangeHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTestRecipient(t, srv, "IG-1")

	created := createRangePlan(t, srv)
	cell := created.Groups["IG-1"]["AWARENESS"]
	if len(cell) == 0 {
		t.Fatal("expected slots for IG-1 AWARENESS")
	}
	for _, s := range cell {
		if s.SlotState != "VACANT" {
			t.Fatalf("expected VACANT slot, got %s", s.SlotState)
		}
		if s.SlotDate < "2024-01-01" || s.SlotDate > "2024-01-31" {
			t.Fatalf("slot date %s out of range", s.SlotDate)
		}
	}
	if len(created.MOPs) != 0 || len(created.Sponsors) != 0 {
		t.Fatal("expected other entity manifests to stay empty")
	}

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/action-plan/ap-by-project?project-id=proj-1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("by-project status %d: %s", res.StatusCode, string(body))
	}
	var fetched ActionPlanResponse
	if err := json.Unmarshal(body, &fetched); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected plan %d, got %d", created.ID, fetched.ID)
	}
}

func TestSlotUpdateFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTestRecipient(t, srv, "IG-1")
	actionID := createTestAction(t, srv, "Town hall")
	created := createRangePlan(t, srv)
	slot := created.Groups["IG-1"]["AWARENESS"][0]

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/action-plan/ap/update-action-plan-entity-slot", map[string]any{
		"id":        slot.ID,
		"slotState": "ACCEPTED",
		"actionId":  actionID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept slot status %d: %s", res.StatusCode, string(body))
	}
	var accepted SlotResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("unmarshal slot: %v", err)
	}
	if accepted.SlotState != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %s", accepted.SlotState)
	}
	if accepted.AOID == "" || accepted.AOID == "AO-PENDING" {
		t.Fatalf("expected assigned aoID, got %q", accepted.AOID)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/action-plan/ap/update-action-plan-entity-slot", map[string]any{
		"id":        slot.ID,
		"slotState": "COMPLETED",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete slot status %d: %s", res.StatusCode, string(body))
	}

	// A completed slot refuses further changes.
	res, body = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/action-plan/ap/update-action-plan-entity-slot", map[string]any{
		"id":       slot.ID,
		"slotDate": "2024-02-15",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for completed slot, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/action-plan/ap/entity-slot/"+strconv.FormatInt(slot.ID, 10), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get slot status %d: %s", res.StatusCode, string(body))
	}
	var final SlotResponse
	if err := json.Unmarshal(body, &final); err != nil {
		t.Fatalf("unmarshal slot: %v", err)
	}
	if final.SlotState != "COMPLETED" || final.SlotDate != slot.SlotDate {
		t.Fatalf("completed slot changed: state=%s date=%s", final.SlotState, final.SlotDate)
	}
}

func TestSlotActionOptions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTestRecipient(t, srv, "IG-1")
	createTestAction(t, srv, "Town hall")
	createTestAction(t, srv, "Newsletter")
	created := createRangePlan(t, srv)
	slot := created.Groups["IG-1"]["AWARENESS"][0]

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/action-plan/ap/entity-slot-action-options/"+strconv.FormatInt(slot.ID, 10), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("options status %d: %s", res.StatusCode, string(body))
	}
	var options []ActionResponse
	if err := json.Unmarshal(body, &options); err != nil {
		t.Fatalf("unmarshal options: %v", err)
	}
	if len(options) == 0 {
		t.Fatal("expected at least one eligible action")
	}
	for _, a := range options {
		if a.EntityType != "impacted_group" || a.Category != "AWARENESS" {
			t.Fatalf("option %d does not match the slot's entity and category", a.ID)
		}
	}
}

func TestGenerateContentOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTestRecipient(t, srv, "IG-1")
	actionID := createTestAction(t, srv, "Town hall")
	created := createRangePlan(t, srv)
	slot := created.Groups["IG-1"]["AWARENESS"][0]

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/action-plan/ap/update-action-plan-entity-slot", map[string]any{
		"id":        slot.ID,
		"slotState": "ACCEPTED",
		"actionId":  actionID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept slot status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/content/generate-content-for-action-plan-item", map[string]any{
		"slotIds": []int64{slot.ID},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(body))
	}
	var records []ContentRecordResponse
	if err := json.Unmarshal(body, &records); err != nil {
		t.Fatalf("unmarshal records: %v", err)
	}
	if len(records) != 1 || records[0].Text == "" {
		t.Fatalf("expected one readable record, got %+v", records)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/content/generate-content-for-action-plan-item", map[string]any{
		"slotIds": []int64{0},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero slot id, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/content/content-for-action-plan-items", map[string]any{
		"slotIds": []int64{slot.ID},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("content-for-items status %d: %s", res.StatusCode, string(body))
	}
	var stored []SlotContentResponse
	if err := json.Unmarshal(body, &stored); err != nil {
		t.Fatalf("unmarshal stored content: %v", err)
	}
	if len(stored) != 1 || len(stored[0].Records) != 1 {
		t.Fatalf("expected one stored record, got %+v", stored)
	}
}
