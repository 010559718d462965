package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/collapsinghierarchy/papervault/blob/local"
	"github.com/collapsinghierarchy/papervault/pkc/custodian"
	"github.com/collapsinghierarchy/papervault/routes"
	"github.com/collapsinghierarchy/papervault/service"
	"github.com/collapsinghierarchy/papervault/store/memory"
)

func newServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	cust, err := custodian.New(custodian.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := local.Open(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { blobs.Close() })

	svc, err := service.New(service.Config{
		Store:     memory.New(),
		Blobs:     blobs,
		Custodian: cust,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(routes.SetupRoutes(svc, cust, nil))
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestCandidates(t *testing.T) {
	srv, svc := newServer(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, "TEA-1", "CS501", time.Now().AddDate(0, 1, 0), 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Accept(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Upload(ctx, sub.ID, []byte("exam text")); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/pv/v1/candidates?key=CS501")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var views []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("want 1 candidate, got %d", len(views))
	}
	if views[0]["paper_number"] != "Paper 1" {
		t.Errorf("paper_number: %v", views[0]["paper_number"])
	}
	if views[0]["originator_id"] != "TEA-1" {
		t.Errorf("originator_id: %v", views[0]["originator_id"])
	}
}

func TestCandidatesMissingKey(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := http.Get(srv.URL + "/pv/v1/candidates")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != "missing_key" {
		t.Errorf("error code: %v", body["code"])
	}
}

func TestPublicKey(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/pv/v1/pubkey?originator=TEA-1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	pemBytes, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(pemBytes), "BEGIN PUBLIC KEY") {
		t.Errorf("not a PEM public key: %q", pemBytes[:40])
	}
}

func TestPublicKeyBadOriginator(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := http.Get(srv.URL + "/pv/v1/pubkey?originator=..%2Fetc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}
