package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

// HTTPStore uses another kensaku server as the external store. Queries go to the
// remote server's retrieve endpoint in self_only mode.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		if c != nil {
			s.client = c
		}
	}
}

// NewHTTPStore returns a store that talks to the kensaku server at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("external store: invalid url %q", baseURL)
	}
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Retrieve asks the remote server for the k nearest chunks. The remote distance d
// is reported as the similarity 1/(1+d).
func (s *HTTPStore) Retrieve(ctx context.Context, collectionID, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	body := map[string]interface{}{"query": query, "k": k, "mode": models.ModeSelfOnly}
	var resp models.RetrieveResponse
	if err := s.do(ctx, http.MethodPost, s.collectionURL(collectionID, "retrieve"), body, &resp); err != nil {
		return nil, err
	}
	results := resp.Results
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Score = 1 / (1 + results[i].Score)
		results[i].Rank = i + 1
		results[i].SourceTag = models.SourceExternal
		results[i].RetrieverSource = ""
		results[i].RetrieverWeight = 0
	}
	return results, nil
}

// IndexChunks adds chunks to the remote collection.
func (s *HTTPStore) IndexChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	body := map[string]interface{}{"chunks": chunks}
	return s.do(ctx, http.MethodPost, s.collectionURL(collectionID, "chunks"), body, nil)
}

// DeleteCollection deletes the remote collection.
func (s *HTTPStore) DeleteCollection(ctx context.Context, collectionID string) error {
	return s.do(ctx, http.MethodDelete, s.collectionURL(collectionID, ""), nil, nil)
}

func (s *HTTPStore) collectionURL(collectionID, action string) string {
	u := s.baseURL + "/api/v1/collections/" + url.PathEscape(collectionID)
	if action != "" {
		u += "/" + action
	}
	return u
}

func (s *HTTPStore) do(ctx context.Context, method, u string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("external store: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("external store: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("external store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("external store: %s %s: %d %s", method, u, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("external store: decode response: %w", err)
	}
	return nil
}
