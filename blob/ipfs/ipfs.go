// Package ipfs talks to an IPFS node over its HTTP API (/api/v0/add and
// /api/v0/cat). Any non-2xx response surfaces as blob.ErrUnavailable, except
// an unknown identifier which maps to blob.ErrNotFound.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/papervault/blob"
)

// Client implements blob.Store against an IPFS HTTP API endpoint.
type Client struct {
	base string // e.g. http://127.0.0.1:5001/api/v0
	http *http.Client
	log  *logrus.Logger
}

// New returns a client for the given API base URL. timeout bounds every
// remote call; 0 means 30s.
func New(base string, timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

// Upload stores data and returns its content identifier.
func (c *Client) Upload(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/add", &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: add returned %s", blob.ErrUnavailable, resp.Status)
	}

	var ar addResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("%w: decode add response: %v", blob.ErrUnavailable, err)
	}
	if _, err := cid.Decode(ar.Hash); err != nil {
		return "", fmt.Errorf("%w: node returned invalid identifier %q", blob.ErrUnavailable, ar.Hash)
	}
	c.log.WithField("cid", ar.Hash).Debug("blob uploaded")
	return ar.Hash, nil
}

// Fetch returns the bytes stored under id.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	if _, err := cid.Decode(id); err != nil {
		return nil, fmt.Errorf("%w: invalid identifier %q", blob.ErrNotFound, id)
	}
	u := c.base + "/cat?arg=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, id)
	case resp.StatusCode/100 != 2:
		// the go-ipfs API reports unknown blocks with a 500 + message
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if bytes.Contains(bytes.ToLower(msg), []byte("not found")) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: cat returned %s", blob.ErrUnavailable, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	return data, nil
}
