// Package datasetstore loads frozen evaluation datasets from the
// external dataset service, cache-aside through Redis since a
// (name, version) pair is immutable once published.
package datasetstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tarsyvoice/autotune/pkg/models"
)

// Client fetches datasets over HTTP and caches them in Redis.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	redis      *redis.Client
	ttl        time.Duration
}

// Config configures the dataset client's Redis cache.
type Config struct {
	BaseURL string
	Addr    string // empty disables caching
	TTL     time.Duration
}

// NewClient builds a Client. When cfg.Addr is empty, every Load call
// hits the HTTP origin directly.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		ttl:        cfg.TTL,
	}
	if cfg.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}
	return c
}

func cacheKey(name, version string) string {
	return fmt.Sprintf("autotune:dataset:%s:%s", name, version)
}

// Load returns the dataset identified by (name, version), preferring a
// cached copy when Redis is configured and holds an unexpired entry.
func (c *Client) Load(ctx context.Context, name, version string) (models.Dataset, error) {
	key := cacheKey(name, version)

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var ds models.Dataset
			if jsonErr := json.Unmarshal([]byte(cached), &ds); jsonErr == nil {
				return ds, nil
			}
		}
	}

	ds, err := c.fetch(ctx, name, version)
	if err != nil {
		return models.Dataset{}, err
	}

	if c.redis != nil {
		if data, err := json.Marshal(ds); err == nil {
			_ = c.redis.Set(ctx, key, data, c.ttl).Err()
		}
	}

	return ds, nil
}

func (c *Client) fetch(ctx context.Context, name, version string) (models.Dataset, error) {
	url := fmt.Sprintf("%s/datasets/%s/%s", c.baseURL, name, version)

	var ds models.Dataset
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch dataset %s/%s: %w", name, version, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("dataset store returned HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("dataset store returned HTTP %d", resp.StatusCode))
		}

		return json.NewDecoder(resp.Body).Decode(&ds)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return models.Dataset{}, err
	}
	return ds, nil
}
