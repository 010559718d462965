package ipfs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/collapsinghierarchy/papervault/blob"
	"github.com/collapsinghierarchy/papervault/blob/ipfs"
)

const testCID = "QmXoypizjW3WknFiJnKLwHCnL72vedxjQkDDP1mXWo6uco"

func newNode(t *testing.T, blobs map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			blobs[testCID] = data
			json.NewEncoder(w).Encode(map[string]string{"Name": "blob", "Hash": testCID})
		case "/api/v0/cat":
			data, ok := blobs[r.URL.Query().Get("arg")]
			if !ok {
				http.Error(w, "merkledag: not found", http.StatusInternalServerError)
				return
			}
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestUploadFetchRoundTrip(t *testing.T) {
	blobs := map[string][]byte{}
	srv := newNode(t, blobs)
	defer srv.Close()

	c := ipfs.New(srv.URL+"/api/v0", time.Second, nil)
	id, err := c.Upload(context.Background(), []byte("ciphertext"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != testCID {
		t.Fatalf("unexpected identifier: %s", id)
	}
	got, err := c.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, []byte("ciphertext")) {
		t.Errorf("fetched %q", got)
	}
}

func TestFetchUnknownIsNotFound(t *testing.T) {
	srv := newNode(t, map[string][]byte{})
	defer srv.Close()

	c := ipfs.New(srv.URL+"/api/v0", time.Second, nil)
	_, err := c.Fetch(context.Background(), testCID)
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFetchInvalidIdentifier(t *testing.T) {
	srv := newNode(t, map[string][]byte{})
	defer srv.Close()

	c := ipfs.New(srv.URL+"/api/v0", time.Second, nil)
	_, err := c.Fetch(context.Background(), "not-a-cid")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := ipfs.New(srv.URL+"/api/v0", time.Second, nil)
	if _, err := c.Upload(context.Background(), []byte("x")); !errors.Is(err, blob.ErrUnavailable) {
		t.Fatalf("upload: want ErrUnavailable, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), testCID); !errors.Is(err, blob.ErrUnavailable) {
		t.Fatalf("fetch: want ErrUnavailable, got %v", err)
	}
}

func TestUnreachableNodeIsUnavailable(t *testing.T) {
	c := ipfs.New("http://127.0.0.1:1/api/v0", 200*time.Millisecond, nil)
	if _, err := c.Upload(context.Background(), []byte("x")); !errors.Is(err, blob.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
