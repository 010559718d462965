// Package scrutiny calls the external document-quality collaborator. It runs
// on the plaintext before encryption; the pipeline treats its result as
// opaque metadata and its failures as non-events.
package scrutiny

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/collapsinghierarchy/papervault/model"
)

// Scorer produces a quality summary for a plaintext document.
type Scorer interface {
	Score(ctx context.Context, plaintext []byte) (*model.ScoreReport, error)
}

// Nop is used when no scoring endpoint is configured.
type Nop struct{}

func (Nop) Score(context.Context, []byte) (*model.ScoreReport, error) { return nil, nil }

// Client posts documents to a scoring service and returns its report.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a scorer for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

type scoreRequest struct {
	Document string `json:"document"` // base64
}

// Score submits the document synchronously. The caller is expected to treat
// any error as best-effort and continue.
func (c *Client) Score(ctx context.Context, plaintext []byte) (*model.ScoreReport, error) {
	body, err := json.Marshal(scoreRequest{Document: base64.StdEncoding.EncodeToString(plaintext)})
	if err != nil {
		return nil, fmt.Errorf("scrutiny: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scrutiny: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrutiny: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("scrutiny: scorer returned %s", resp.Status)
	}

	var report model.ScoreReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("scrutiny: decode report: %w", err)
	}
	if report.Score < 0 || report.Score > 1 {
		return nil, fmt.Errorf("scrutiny: score %v out of range", report.Score)
	}
	return &report, nil
}
