package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/elter-ri/dar-harvester/internal/config"
	"github.com/elter-ri/dar-harvester/internal/dataset"
	"github.com/elter-ri/dar-harvester/internal/ratelimit"
)

// SourceRecord is one raw repository record together with its source URL.
type SourceRecord struct {
	URL string
	Raw map[string]any
}

// Source fetches raw payloads from one repository. All calls go through the
// repository's rate limiter.
type Source interface {
	// ListPage returns the records on one listing page, 1-based. An empty
	// result means the walk is done.
	ListPage(ctx context.Context, page int) ([]SourceRecord, error)
	// Fetch retrieves a single record by its source URL.
	Fetch(ctx context.Context, url string) (*SourceRecord, error)
	// ListURL fetches a listing document at an arbitrary URL, such as a
	// record's "all versions" link, and extracts its records.
	ListURL(ctx context.Context, url string) ([]SourceRecord, error)
	// ListSitemap returns every record URL in the repository's sitemap.
	ListSitemap(ctx context.Context) ([]string, error)
}

// httpSource is the JSON-over-HTTP Source used for every repository type.
// The configured key paths locate records inside vendor payloads.
type httpSource struct {
	cfg     config.RepositoryConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// NewSource builds the HTTP source for one repository.
func NewSource(cfg config.RepositoryConfig, client *http.Client, limiter *ratelimit.Limiter, log *zap.Logger) Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSource{cfg: cfg, client: client, limiter: limiter, log: log}
}

func (s *httpSource) ListPage(ctx context.Context, page int) ([]SourceRecord, error) {
	u, err := url.Parse(s.cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	if s.cfg.PageSize > 0 {
		q.Set("size", strconv.Itoa(s.cfg.PageSize))
	}
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return s.extractRecords(body)
}

func (s *httpSource) Fetch(ctx context.Context, recordURL string) (*SourceRecord, error) {
	body, err := s.get(ctx, recordURL)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", recordURL, err)
	}
	raw := payload
	if s.cfg.SingleRecordKey != "" {
		nested, ok := dataset.Dataset(payload).Get(s.cfg.SingleRecordKey)
		if !ok {
			return nil, fmt.Errorf("record %s has no %q object", recordURL, s.cfg.SingleRecordKey)
		}
		raw, ok = nested.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %s: %q is not an object", recordURL, s.cfg.SingleRecordKey)
		}
	}
	return &SourceRecord{URL: recordURL, Raw: raw}, nil
}

func (s *httpSource) ListURL(ctx context.Context, rawURL string) ([]SourceRecord, error) {
	body, err := s.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.extractRecords(body)
}

func (s *httpSource) ListSitemap(ctx context.Context) ([]string, error) {
	body, err := s.get(ctx, s.cfg.SitemapURL)
	if err != nil {
		return nil, err
	}
	return parseSitemap(body)
}

// extractRecords pulls the record array out of a listing payload and the
// self link out of each entry.
func (s *httpSource) extractRecords(body []byte) ([]SourceRecord, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	entries := any(payload)
	if s.cfg.DataKey != "" {
		v, ok := dataset.Dataset(payload).Get(s.cfg.DataKey)
		if !ok {
			return nil, fmt.Errorf("listing has no %q array", s.cfg.DataKey)
		}
		entries = v
	}
	arr, ok := entries.([]any)
	if !ok {
		return nil, fmt.Errorf("listing %q is not an array", s.cfg.DataKey)
	}

	var out []SourceRecord
	for _, e := range arr {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		self, ok := dataset.Dataset(obj).Get(s.cfg.SelfLinkKey)
		link, isStr := self.(string)
		if !ok || !isStr || link == "" {
			s.log.Warn("listing entry has no self link", zap.String("key", s.cfg.SelfLinkKey))
			continue
		}
		out = append(out, SourceRecord{URL: link, Raw: obj})
	}
	return out, nil
}

func (s *httpSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	return ratelimit.Do(ctx, s.limiter, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rawURL, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
		}
		return body, nil
	})
}
