// Package contract records custody entries on an EVM-style ledger through a
// JSON-RPC gateway. Entries are digested with Keccak-256 and signed by a
// service-held Ed25519 credential before submission; the gateway checks the
// signature against the registered service key.
package contract

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/collapsinghierarchy/papervault/ledger"
)

const rpcMethod = "custody_recordEntry"

// Client implements ledger.Recorder over JSON-RPC 2.0.
type Client struct {
	endpoint string
	http     *http.Client
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	log      *logrus.Logger
	now      func() time.Time
}

// New builds a client for endpoint using the credential seed at seedPath.
// A missing credential file is generated once and persisted (0600).
func New(endpoint, seedPath string, timeout time.Duration, log *logrus.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	seed, err := loadOrCreateSeed(seedPath)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		log:      log,
		now:      time.Now,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result *struct {
		Receipt string `json:"receipt"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type entryParams struct {
	CompetitionKey string `json:"competitionKey"`
	ContentID      string `json:"identifier"`
	Timestamp      int64  `json:"timestamp"`
	PublicKey      string `json:"publicKey"`
	Signature      string `json:"signature"`
}

// Record submits one entry and waits for its receipt.
func (c *Client) Record(ctx context.Context, competitionKey, contentID string) (string, error) {
	ts := c.now().Unix()
	digest := entryDigest(competitionKey, contentID, ts)
	sig := ed25519.Sign(c.priv, digest)

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  rpcMethod,
		Params: []interface{}{entryParams{
			CompetitionKey: competitionKey,
			ContentID:      contentID,
			Timestamp:      ts,
			PublicKey:      hex.EncodeToString(c.pub),
			Signature:      hex.EncodeToString(sig),
		}},
		ID: 1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: rpc returned %s", ledger.ErrUnavailable, resp.Status)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ledger.ErrUnavailable, err)
	}
	if rr.Error != nil {
		return "", fmt.Errorf("%w: rpc error %d: %s", ledger.ErrUnavailable, rr.Error.Code, rr.Error.Message)
	}
	if rr.Result == nil || rr.Result.Receipt == "" {
		return "", fmt.Errorf("%w: no receipt in response", ledger.ErrUnavailable)
	}
	c.log.WithFields(logrus.Fields{
		"competition_key": competitionKey,
		"receipt":         rr.Result.Receipt,
	}).Info("custody entry recorded")
	return rr.Result.Receipt, nil
}

// PublicKeyHex exposes the credential's public half for gateway registration.
func (c *Client) PublicKeyHex() string { return hex.EncodeToString(c.pub) }

// entryDigest is Keccak-256 over key, identifier and timestamp with length
// framing, matching what the contract verifies.
func entryDigest(competitionKey, contentID string, ts int64) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, s := range []string{competitionKey, contentID} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], uint64(ts))
	h.Write(t[:])
	return h.Sum(nil)
}

func loadOrCreateSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ledger credential %s: want %d bytes, got %d", path, ed25519.SeedSize, len(seed))
		}
		return seed, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger credential: %w", err)
	}
	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("ledger credential: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("ledger credential: %w", err)
	}
	return seed, nil
}
