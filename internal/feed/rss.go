package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSSource reads an RSS/Atom/JSON Feed document through gofeed.
type RSSSource struct {
	url    string
	parser *gofeed.Parser
}

func NewRSSSource(opts Options) (*RSSSource, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if opts.UserAgent != "" {
		parser.UserAgent = opts.UserAgent
	}
	return &RSSSource{url: opts.URL, parser: parser}, nil
}

func (s *RSSSource) Fetch(ctx context.Context) ([]Item, error) {
	logger := slog.With("feed", s.url)

	parsed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		metricFetchCount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	metricFetchCount.WithLabelValues("success").Inc()

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		item, ok := convertItem(it)
		if !ok {
			logger.Warn("Skipping feed entry without guid or link", "title", it.Title)
			continue
		}
		items = append(items, item)
	}
	logger.Debug("Fetched feed", "count", len(items))
	return items, nil
}

func convertItem(it *gofeed.Item) (Item, bool) {
	id := it.GUID
	if strings.TrimSpace(id) == "" {
		id = it.Link
	}
	norm, err := NormalizeID(id)
	if err != nil || norm == "" {
		return Item{}, false
	}

	body := it.Description
	if body == "" {
		body = it.Content
	}

	var published time.Time
	if it.PublishedParsed != nil {
		published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		published = *it.UpdatedParsed
	}

	var category, origin string
	if len(it.Categories) > 0 {
		category = it.Categories[0]
	}
	if it.Author != nil {
		origin = it.Author.Name
	}

	return Item{
		ID:        norm,
		Title:     strings.TrimSpace(it.Title),
		Body:      strings.TrimSpace(body),
		URL:       it.Link,
		Published: published,
		Category:  category,
		Origin:    origin,
	}, true
}
