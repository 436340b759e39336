package pricing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"llmtrace/internal/config"
	"llmtrace/internal/models"
)

const (
	litellmPricingURL    = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	openRouterPricingURL = "https://openrouter.ai/api/v1/models"

	cacheFilename   = "pricing.json"
	refreshInterval = 7 * 24 * time.Hour
)

// Entry is the cached price for one model, in USD per million tokens.
// Entries are replaced wholesale on refresh, never partially updated.
type Entry struct {
	Model         string    `json:"model"`
	InputPerMTok  float64   `json:"input_price_per_mtok"`
	OutputPerMTok float64   `json:"output_price_per_mtok"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Cache supplies per-model pricing without refetching on every call. The
// table is refreshed at most every seven days; concurrent callers that hit a
// stale table are coalesced into a single outbound fetch.
type Cache struct {
	cachePath     string
	client        *http.Client
	litellmURL    string
	openRouterURL string

	mu        sync.Mutex
	models    map[string]Entry
	fetchedAt time.Time

	group       singleflight.Group
	staleWarned bool
}

// Option adjusts a Cache; used by tests to point at fake pricing endpoints.
type Option func(*Cache)

// WithSources overrides the upstream pricing endpoints.
func WithSources(litellmURL, openRouterURL string) Option {
	return func(c *Cache) {
		c.litellmURL = litellmURL
		c.openRouterURL = openRouterURL
	}
}

// WithHTTPClient overrides the HTTP client used for refreshes.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.client = client }
}

// NewCache builds a pricing cache persisted under the configured cache dir.
func NewCache(cfg *config.Config, opts ...Option) *Cache {
	c := &Cache{
		cachePath:     filepath.Join(cfg.CacheDir, cacheFilename),
		client:        &http.Client{Timeout: 10 * time.Second},
		litellmURL:    litellmPricingURL,
		openRouterURL: openRouterPricingURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPrice returns the cached entry for a model, refreshing the table first
// when it is older than the refresh interval. On refresh failure the last
// known-good table is served regardless of age; the call only fails hard when
// no entry has ever existed for the model.
func (c *Cache) GetPrice(model string) (Entry, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Entry{}, fmt.Errorf("get price: %w", models.ErrUnknownModel)
	}

	table, err := c.load()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := lookup(table, model)
	if !ok {
		return Entry{}, fmt.Errorf("get price %q: %w", model, models.ErrUnknownModel)
	}
	return entry, nil
}

// Estimate backfills a cost from recorded token counts. The bool reports
// whether pricing for the model was known at all.
func (c *Cache) Estimate(model string, inputTokens, outputTokens int64) (float64, bool) {
	entry, err := c.GetPrice(model)
	if err != nil {
		return 0, false
	}
	cost := float64(inputTokens)*entry.InputPerMTok/1e6 + float64(outputTokens)*entry.OutputPerMTok/1e6
	return cost, true
}

// load returns the current table, refreshing it when stale. A failed refresh
// degrades to the newest cached table available and logs once per attempt.
func (c *Cache) load() (map[string]Entry, error) {
	c.mu.Lock()
	if c.models != nil && time.Since(c.fetchedAt) < refreshInterval {
		table := c.models
		c.mu.Unlock()
		return table, nil
	}
	c.mu.Unlock()

	// Disk cache may have been refreshed by another process.
	if c.loadDisk() {
		c.mu.Lock()
		table := c.models
		c.mu.Unlock()
		return table, nil
	}

	// Single-flight: 50 concurrent callers produce one outbound fetch.
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// A caller that raced a just-finished refresh sees the fresh
		// table here instead of fetching again.
		c.mu.Lock()
		if c.models != nil && time.Since(c.fetchedAt) < refreshInterval {
			c.mu.Unlock()
			return nil, nil
		}
		c.mu.Unlock()

		table, fetchedAt, err := c.fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models = table
		c.fetchedAt = fetchedAt
		c.staleWarned = false
		c.mu.Unlock()
		c.persistDisk(table, fetchedAt)
		return nil, nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.models == nil {
			return nil, &models.PricingFetchError{Err: err}
		}
		if !c.staleWarned {
			log.Warnf("pricing refresh failed, serving table fetched at %s: %v",
				c.fetchedAt.Format(time.RFC3339), err)
			c.staleWarned = true
		}
	}
	return c.models, nil
}

// cachePayload is the on-disk shape of pricing.json.
type cachePayload struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Models    map[string]Entry `json:"models"`
}

// loadDisk pulls the persisted table into memory if it is fresh enough.
// It also seeds the in-memory table with a stale disk copy so a later failed
// refresh still has something to fall back on.
func (c *Cache) loadDisk() bool {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return false
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debugf("unreadable pricing cache %s: %v", c.cachePath, err)
		return false
	}
	if len(payload.Models) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if payload.FetchedAt.After(c.fetchedAt) {
		c.models = payload.Models
		c.fetchedAt = payload.FetchedAt
	}
	return time.Since(c.fetchedAt) < refreshInterval
}

func (c *Cache) persistDisk(table map[string]Entry, fetchedAt time.Time) {
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		log.Debugf("pricing cache dir: %v", err)
		return
	}
	data, err := json.MarshalIndent(cachePayload{FetchedAt: fetchedAt, Models: table}, "", "  ")
	if err != nil {
		return
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Debugf("persist pricing cache: %v", err)
		return
	}
	if err := os.Rename(tmp, c.cachePath); err != nil {
		log.Debugf("persist pricing cache: %v", err)
	}
}

// fetch pulls the litellm pricing map and the OpenRouter model list, merging
// them into one table. OpenRouter entries win on key collisions since they
// are fresher for OpenRouter-routed models.
func (c *Cache) fetch() (map[string]Entry, time.Time, error) {
	fetchedAt := time.Now().UTC()
	table := make(map[string]Entry)

	litellmErr := c.fetchLitellm(table, fetchedAt)
	openRouterErr := c.fetchOpenRouter(table, fetchedAt)

	if len(table) == 0 {
		if litellmErr != nil {
			return nil, fetchedAt, litellmErr
		}
		if openRouterErr != nil {
			return nil, fetchedAt, openRouterErr
		}
		return nil, fetchedAt, fmt.Errorf("no pricing data returned by any source")
	}
	if litellmErr != nil {
		log.Warnf("litellm pricing refresh failed: %v", litellmErr)
	}
	if openRouterErr != nil {
		log.Warnf("openrouter pricing refresh failed: %v", openRouterErr)
	}
	return table, fetchedAt, nil
}

func (c *Cache) fetchLitellm(table map[string]Entry, fetchedAt time.Time) error {
	body, err := c.get(c.litellmURL)
	if err != nil {
		return err
	}
	var raw map[string]struct {
		InputCostPerToken  *float64 `json:"input_cost_per_token"`
		OutputCostPerToken *float64 `json:"output_cost_per_token"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decode litellm pricing: %w", err)
	}
	for key, info := range raw {
		if info.InputCostPerToken == nil && info.OutputCostPerToken == nil {
			continue
		}
		entry := Entry{Model: strings.ToLower(key), Source: "litellm", FetchedAt: fetchedAt}
		if info.InputCostPerToken != nil {
			entry.InputPerMTok = *info.InputCostPerToken * 1e6
		}
		if info.OutputCostPerToken != nil {
			entry.OutputPerMTok = *info.OutputCostPerToken * 1e6
		}
		table[entry.Model] = entry
	}
	return nil
}

func (c *Cache) fetchOpenRouter(table map[string]Entry, fetchedAt time.Time) error {
	body, err := c.get(c.openRouterURL)
	if err != nil {
		return err
	}
	var raw struct {
		Data []struct {
			ID      string `json:"id"`
			Pricing struct {
				Prompt     string `json:"prompt"`
				Completion string `json:"completion"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decode openrouter pricing: %w", err)
	}
	for _, item := range raw.Data {
		input, inOK := perTokenPrice(item.Pricing.Prompt)
		output, outOK := perTokenPrice(item.Pricing.Completion)
		if !inOK && !outOK {
			continue
		}
		table[strings.ToLower(item.ID)] = Entry{
			Model:         strings.ToLower(item.ID),
			InputPerMTok:  input * 1e6,
			OutputPerMTok: output * 1e6,
			Source:        "openrouter",
			FetchedAt:     fetchedAt,
		}
	}
	return nil
}

func (c *Cache) get(url string) ([]byte, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func perTokenPrice(value string) (float64, bool) {
	if value == "" || value == "0" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
