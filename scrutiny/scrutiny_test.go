package scrutiny_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collapsinghierarchy/papervault/scrutiny"
)

func TestScoreRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Document string `json:"document"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		doc, _ := base64.StdEncoding.DecodeString(req.Document)
		if string(doc) != "exam text" {
			http.Error(w, "unexpected document", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"score": 0.87,
			"tags":  []string{"well-structured"},
			"notes": []string{"question 4 duplicates question 2"},
		})
	}))
	defer srv.Close()

	c := scrutiny.NewClient(srv.URL, time.Second)
	report, err := c.Score(context.Background(), []byte("exam text"))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Score != 0.87 {
		t.Errorf("score: got %v", report.Score)
	}
	if len(report.Tags) != 1 || len(report.Notes) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestScoreOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"score": 1.5})
	}))
	defer srv.Close()

	if _, err := scrutiny.NewClient(srv.URL, time.Second).Score(context.Background(), []byte("x")); err == nil {
		t.Fatal("want error for out-of-range score")
	}
}

func TestScoreServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := scrutiny.NewClient(srv.URL, time.Second).Score(context.Background(), []byte("x")); err == nil {
		t.Fatal("want error for 5xx")
	}
}
