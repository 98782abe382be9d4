package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrFetch marks a feed that could not be retrieved or decoded.
var ErrFetch = errors.New("feed fetch failed")

var metricFetchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pusher_fetch_count_total",
	Help: "The total number of feed fetches",
}, []string{"status"})

// Source fetches the current batch of items.
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

type rawItem struct {
	ID       ID              `json:"id"`
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	URL      string          `json:"url"`
	Datetime json.RawMessage `json:"datetime"`
	Catename string          `json:"catename"`
	Louzhu   string          `json:"louzhu"`
}

type Options struct {
	URL       string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Location  *time.Location
}

// JSONSource reads the ixbk push.json endpoint: a JSON array of posts with
// site-relative urls.
type JSONSource struct {
	client    *http.Client
	url       string
	base      *url.URL
	userAgent string
	loc       *time.Location
}

func NewJSONSource(opts Options) (*JSONSource, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &JSONSource{
		client:    &http.Client{Timeout: timeout},
		url:       opts.URL,
		base:      base,
		userAgent: opts.UserAgent,
		loc:       loc,
	}, nil
}

func (s *JSONSource) Fetch(ctx context.Context) ([]Item, error) {
	logger := slog.With("feed", s.url)
	logger.Debug("Fetching feed")

	items, err := s.fetch(ctx)
	if err != nil {
		metricFetchCount.WithLabelValues("error").Inc()
		return nil, err
	}
	metricFetchCount.WithLabelValues("success").Inc()
	logger.Debug("Fetched feed", "count", len(items))
	return items, nil
}

func (s *JSONSource) fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: feed responded with status: %d", ErrFetch, resp.StatusCode)
	}

	var raw []rawItem
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %w", ErrFetch, err)
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			slog.Warn("Skipping feed entry without id", "title", r.Title)
			continue
		}
		items = append(items, Item{
			ID:        r.ID,
			Title:     strings.TrimSpace(r.Title),
			Body:      strings.TrimSpace(r.Content),
			URL:       s.resolve(r.URL),
			Published: ParseTimestamp(r.Datetime, s.loc),
			Category:  r.Catename,
			Origin:    r.Louzhu,
		})
	}
	return items, nil
}

func (s *JSONSource) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return s.base.String()
	}
	u, err := url.Parse(ref)
	if err != nil {
		return strings.TrimRight(s.base.String(), "/") + "/" + strings.TrimLeft(ref, "/")
	}
	return s.base.ResolveReference(u).String()
}
