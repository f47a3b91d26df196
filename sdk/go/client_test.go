package andchangesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type countingTransport struct {
	calls int64
	next  http.RoundTripper
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&t.calls, 1)
	if t.next == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.next.RoundTrip(req)
}

func TestGenerateContentRejectsBadSlotIDsWithoutNetwork(t *testing.T) {
	transport := &countingTransport{}
	c := New("http://127.0.0.1:1")
	c.HTTPClient = &http.Client{Transport: transport}

	for _, ids := range [][]int64{nil, {}, {0}, {7, 0, 9}, {-1}} {
		_, err := c.GenerateContent(context.Background(), ids)
		if !errors.Is(err, ErrMissingSlotID) {
			t.Fatalf("ids %v: expected ErrMissingSlotID, got %v", ids, err)
		}
	}
	if n := atomic.LoadInt64(&transport.calls); n != 0 {
		t.Fatalf("expected zero requests, got %d", n)
	}
}

func TestPlanByProjectNotFoundIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"not_found","message":"plan not found"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	p, err := c.PlanByProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("expected nil error for missing plan, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil plan, got %+v", p)
	}
}

func TestReadCacheAndInvalidation(t *testing.T) {
	var gets int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			atomic.AddInt64(&gets, 1)
			w.Write([]byte(`{"id":1,"projectId":"proj-1","state":"active"}`))
		default:
			w.Write([]byte(`{"id":1,"projectId":"proj-1","state":"active"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	if _, err := c.PlanByID(ctx, 1); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.PlanByID(ctx, 1); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if n := atomic.LoadInt64(&gets); n != 1 {
		t.Fatalf("expected one GET before invalidation, got %d", n)
	}

	if _, err := c.CreatePlan(ctx, CreatePlanRequest{ProjectID: "proj-1"}); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := c.PlanByID(ctx, 1); err != nil {
		t.Fatalf("refetch after invalidation: %v", err)
	}
	if n := atomic.LoadInt64(&gets); n != 2 {
		t.Fatalf("expected refetch after mutation, got %d GETs", n)
	}
}

func TestInvalidationTableCoversPlanReads(t *testing.T) {
	for _, op := range []string{"create-plan", "update-plan", "update-slot", "generate-content"} {
		prefixes, ok := invalidations[op]
		if !ok {
			t.Fatalf("missing invalidation entry for %s", op)
		}
		found := false
		for _, p := range prefixes {
			if p == "v0/action-plan/" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s does not invalidate plan reads", op)
		}
	}
}
