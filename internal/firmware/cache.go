// Package firmware tracks the latest published firmware per printer model.
package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/patrickmn/go-cache"
)

// FeedResponse models the published firmware document.
type FeedResponse struct {
	Version string `json:"version"`
}

// Cache holds latest firmware versions keyed by lower-case model. It is the
// only owner of that state; readers get copies.
type Cache struct {
	versions *cache.Cache
	client   *http.Client
	feedURL  string
	models   []string
}

// NewCache creates a cache whose entries expire after ttl without a refresh.
func NewCache(client *http.Client, feedURL string, models []string, ttl time.Duration) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	normalized := make([]string, 0, len(models))
	for _, m := range models {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(m)))
	}
	return &Cache{
		versions: cache.New(ttl, 2*ttl),
		client:   client,
		feedURL:  feedURL,
		models:   normalized,
	}
}

// Refresh fetches the feed and stores its version for every configured model.
func (c *Cache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var feed FeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return fmt.Errorf("failed to unmarshal firmware feed: %w", err)
	}

	v, err := semver.NewVersion(strings.TrimSpace(feed.Version))
	if err != nil {
		return fmt.Errorf("invalid firmware version %q: %w", feed.Version, err)
	}

	for _, m := range c.models {
		c.versions.SetDefault(m, v)
	}
	return nil
}

// Set records a version directly.
func (c *Cache) Set(model string, v *semver.Version) {
	c.versions.SetDefault(strings.ToLower(model), v)
}

// Latest returns the latest known version for a model.
func (c *Cache) Latest(model string) (*semver.Version, bool) {
	v, ok := c.versions.Get(strings.ToLower(model))
	if !ok {
		return nil, false
	}
	return v.(*semver.Version), true
}

// Snapshot returns a copy of all known versions as strings.
func (c *Cache) Snapshot() map[string]string {
	items := c.versions.Items()
	out := make(map[string]string, len(items))
	for k, item := range items {
		out[k] = item.Object.(*semver.Version).String()
	}
	return out
}

// UpdateAvailable reports whether a newer firmware than current is published.
func (c *Cache) UpdateAvailable(model, current string) bool {
	latest, ok := c.Latest(model)
	if !ok {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	return latest.GreaterThan(cur)
}
