package contract_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/papervault/ledger"
	"github.com/collapsinghierarchy/papervault/ledger/contract"
)

func newClient(t *testing.T, endpoint string) *contract.Client {
	t.Helper()
	c, err := contract.New(endpoint, filepath.Join(t.TempDir(), "credential.seed"), time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestRecordReturnsReceipt(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string                   `json:"method"`
			Params []map[string]interface{} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "custody_recordEntry", req.Method)
		require.Len(t, req.Params, 1)
		got = req.Params[0]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]string{"receipt": "0xabc123"},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	receipt, err := c.Record(context.Background(), "CS501", "QmExample")
	require.NoError(t, err)
	require.Equal(t, "0xabc123", receipt)

	require.Equal(t, "CS501", got["competitionKey"])
	require.Equal(t, "QmExample", got["identifier"])
	require.NotEmpty(t, got["signature"])
	require.Equal(t, c.PublicKeyHex(), got["publicKey"])
}

func TestRecordRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": -32000, "message": "insufficient funds"},
		})
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Record(context.Background(), "CS501", "QmExample")
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestRecordUnreachable(t *testing.T) {
	c, err := contract.New("http://127.0.0.1:1", filepath.Join(t.TempDir(), "seed"), 200*time.Millisecond, nil)
	require.NoError(t, err)
	_, err = c.Record(context.Background(), "CS501", "QmExample")
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestCredentialPersists(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "credential.seed")

	c1, err := contract.New("http://localhost", seedPath, time.Second, nil)
	require.NoError(t, err)
	c2, err := contract.New("http://localhost", seedPath, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, c1.PublicKeyHex(), c2.PublicKeyHex())
}
