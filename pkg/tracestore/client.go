// Package tracestore is the HTTP client for the external conversation
// trace-tracking service: fetching new traces since a cursor, writing
// experiment metadata, and publishing a promoted system prompt.
package tracestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// defaultMaxTracesPerTick is the soft cap on traces FetchSince pulls
// in one call, guarding against a runaway pull from a trace store that
// has accumulated a very large backlog (spec.md §4.2).
const defaultMaxTracesPerTick = 500

// Client talks to the trace-tracking service's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	maxPerTick int
}

// NewClient builds a Client against baseURL (no trailing slash).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		maxPerTick: defaultMaxTracesPerTick,
	}
}

type fetchTracesResponse struct {
	Traces     []models.Trace `json:"traces"`
	CursorNext time.Time      `json:"cursor_next"`
	HasMore    bool           `json:"has_more"`
}

// FetchSince returns every trace recorded strictly after cursor for
// experiment (empty experiment means all experiments), up to the
// per-tick soft cap, plus the cursor to resume from on the next call
// and the number of fetched traces dropped because the cap was hit.
// When the cap cuts a page short, the returned cursor is the CreatedAt
// of the last trace kept, so the dropped traces (other than any sharing
// that exact timestamp) are fetched again on the next call.
// The server paginates internally via has_more/cursor_next; FetchSince
// keeps requesting pages (each request's "since" set to the previous
// page's cursor_next) until the server reports no more pages or the
// cap is reached.
func (c *Client) FetchSince(ctx context.Context, experiment string, cursor time.Time) ([]models.Trace, time.Time, int, error) {
	var traces []models.Trace
	nextCursor := cursor

	for {
		q := url.Values{}
		q.Set("since", nextCursor.UTC().Format(time.RFC3339Nano))
		if experiment != "" {
			q.Set("experiment", experiment)
		}

		var result fetchTracesResponse
		if err := c.doWithRetry(ctx, http.MethodGet, "/traces?"+q.Encode(), nil, &result); err != nil {
			return nil, cursor, 0, fmt.Errorf("fetch traces since %s: %w", cursor, err)
		}

		traces = append(traces, result.Traces...)
		nextCursor = result.CursorNext

		if len(traces) >= c.maxPerTick {
			capped := len(traces) - c.maxPerTick
			if capped > 0 {
				nextCursor = traces[c.maxPerTick-1].CreatedAt
			}
			return traces[:c.maxPerTick], nextCursor, capped, nil
		}
		if !result.HasMore || len(result.Traces) == 0 {
			return traces, nextCursor, 0, nil
		}
	}
}

type currentPromptResponse struct {
	PromptText string `json:"prompt_text"`
	PromptHash string `json:"prompt_hash"`
}

// FetchCurrentPrompt returns the system prompt currently live for the
// voice agent, which the Strategy Proposer treats as the generation
// the worker is trying to beat.
func (c *Client) FetchCurrentPrompt(ctx context.Context) (text, hash string, err error) {
	var result currentPromptResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/prompts/live", nil, &result); err != nil {
		return "", "", fmt.Errorf("fetch current prompt: %w", err)
	}
	return result.PromptText, result.PromptHash, nil
}

// WriteExperiment records a new autotune experiment's metadata so the
// traces produced under it are attributed correctly.
func (c *Client) WriteExperiment(ctx context.Context, experimentID, parentHash, candidateHash string) error {
	body := map[string]string{
		"experiment_id":  experimentID,
		"parent_hash":    parentHash,
		"candidate_hash": candidateHash,
	}
	return c.doWithRetry(ctx, http.MethodPost, "/experiments", body, nil)
}

// PublishPrompt pushes promptText live as the voice agent's active
// system prompt, called only when UpdateLivePrompt is enabled and the
// Promotion Gate approved a winner.
func (c *Client) PublishPrompt(ctx context.Context, promptText, promptHash string) error {
	body := map[string]string{
		"prompt_text": promptText,
		"prompt_hash": promptHash,
	}
	return c.doWithRetry(ctx, http.MethodPost, "/prompts/live", body, nil)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("trace store returned HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("trace store returned HTTP %d: %s", resp.StatusCode, string(respBody)))
		}

		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return backoff.Retry(operation, policy)
}
