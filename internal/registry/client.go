// Package registry implements the HTTP client for the remote DAR registry.
//
// Every operation is rate limited through the shared registry limiter;
// deletes go through their own, more conservative limiter because registry
// deletes are destructive and irreversible.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/dataset"
	"github.com/elter-ri/dar-harvester/internal/metrics"
	"github.com/elter-ri/dar-harvester/internal/ratelimit"
)

// Error bodies from the registry are captured in logs but never allowed to
// balloon memory.
const maxErrorBodyBytes = 4 << 10

const defaultSourceURIField = "metadata_externalSourceInformation_externalSourceURI"

// Config holds the registry endpoint and credentials.
type Config struct {
	// BaseURL is the external-datasets collection URL, without a trailing
	// slash, e.g. "https://dar.example.org/api/external-datasets".
	BaseURL string
	// AuthToken is sent as a bearer token on every request.
	AuthToken string
	// SourceURIField is the search parameter used for exact source-URI
	// matches. Defaults to the DAR field name when empty.
	SourceURIField string
	// Timeout bounds individual registry requests.
	Timeout time.Duration
}

// Client talks to the DAR registry API.
type Client struct {
	httpClient    *http.Client
	cfg           Config
	limiter       *ratelimit.Limiter
	deleteLimiter *ratelimit.Limiter
	log           *zap.Logger
}

// NewClient builds a registry client. limiter paces all calls except
// deletes, which are paced by deleteLimiter.
func NewClient(cfg Config, limiter, deleteLimiter *ratelimit.Limiter, log *zap.Logger) *Client {
	if cfg.SourceURIField == "" {
		cfg.SourceURIField = defaultSourceURIField
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		cfg:           cfg,
		limiter:       limiter,
		deleteLimiter: deleteLimiter,
		log:           log,
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"id"`
		} `json:"hits"`
		Total int `json:"total"`
	} `json:"hits"`
	Links struct {
		Self string `json:"self"`
		Next string `json:"next"`
	} `json:"links"`
}

// FindBySourceURI searches the registry for a record whose source URI
// exactly matches uri. It returns the first hit's ID, or "" when no record
// matches. Multiple hits are an upstream anomaly and are logged, not
// deduplicated here.
func (c *Client) FindBySourceURI(ctx context.Context, uri string) (string, error) {
	searchURL := fmt.Sprintf("%s?q=&%s=%s", c.cfg.BaseURL, c.cfg.SourceURIField, url.QueryEscape(uri))
	return ratelimit.Do(ctx, c.limiter, func(ctx context.Context) (string, error) {
		body, err := c.do(ctx, http.MethodGet, searchURL, nil, "search")
		if err != nil {
			return "", err
		}
		var result searchResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("decode registry search response: %w", err)
		}
		if len(result.Hits.Hits) == 0 {
			return "", nil
		}
		if result.Hits.Total > 1 {
			c.log.Warn("multiple registry records share one source URI",
				zap.String("source_uri", uri),
				zap.Int("total", result.Hits.Total))
		}
		return result.Hits.Hits[0].ID, nil
	})
}

// Create posts a new dataset and returns the registry-assigned identifier.
func (c *Client) Create(ctx context.Context, d dataset.Dataset) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal dataset: %w", err)
	}
	return ratelimit.Do(ctx, c.limiter, func(ctx context.Context) (string, error) {
		body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL, payload, "create")
		if err != nil {
			return "", err
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			return "", fmt.Errorf("decode registry create response: %w", err)
		}
		if created.ID == "" {
			return "", fmt.Errorf("registry create returned no id")
		}
		return created.ID, nil
	})
}

// Update replaces the dataset stored under id. Repeated updates with an
// unchanged dataset are safe; the orchestrator avoids them, but the client
// does not rely on that.
func (c *Client) Update(ctx context.Context, id string, d dataset.Dataset) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	_, err = ratelimit.Do(ctx, c.limiter, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodPut, c.cfg.BaseURL+"/"+id, payload, "update")
	})
	return err
}

// Delete removes the record stored under id. Used only by the
// reconciliation sweep.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := ratelimit.Do(ctx, c.deleteLimiter, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodDelete, c.cfg.BaseURL+"/"+id, nil, "delete")
	})
	return err
}

// ListIDs walks a paginated registry query, following links.next until the
// registry stops providing one, and returns every record ID seen.
func (c *Client) ListIDs(ctx context.Context, queryURL string) ([]string, error) {
	var ids []string
	next := queryURL
	for next != "" {
		page, err := ratelimit.Do(ctx, c.limiter, func(ctx context.Context) (searchResponse, error) {
			body, err := c.do(ctx, http.MethodGet, next, nil, "list")
			if err != nil {
				return searchResponse{}, err
			}
			var result searchResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return searchResponse{}, fmt.Errorf("decode registry list response: %w", err)
			}
			return result, nil
		})
		if err != nil {
			return nil, err
		}
		for _, hit := range page.Hits.Hits {
			if hit.ID != "" {
				ids = append(ids, hit.ID)
			}
		}
		if page.Links.Next == next {
			break
		}
		next = page.Links.Next
	}
	return ids, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte, operation string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build registry %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.CountRegistryRequest(operation, 0)
		return nil, fmt.Errorf("registry %s request: %w", operation, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	metrics.CountRegistryRequest(operation, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.log.Error("registry request failed",
			zap.String("operation", operation),
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", errBody))
		return nil, fmt.Errorf("registry %s returned status %d", operation, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry %s response: %w", operation, err)
	}
	return body, nil
}
