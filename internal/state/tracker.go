package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xbk-pusher/internal/feed"
)

var metricReseeds = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pusher_window_reseeds_total",
	Help: "The total number of times the dedup window was reseeded",
})

const (
	DefaultMarkerKey = "xbk_1"
	DefaultSetKey    = "xbk_ids"
	DefaultTTL       = 600 * time.Second
)

type TrackerOptions struct {
	MarkerKey string
	SetKey    string
	TTL       time.Duration
}

// Batch is the outcome of one filter pass.
type Batch struct {
	Items []feed.Item
	// Reseeded is true when the window was absent and has been rebuilt from
	// this batch.
	Reseeded bool
}

// Tracker owns the dedup window: a set of already pushed ids whose lifetime
// is bounded by a marker key with a TTL. While the marker is present the set
// is authoritative; once it is gone the set is stale and gets rebuilt.
//
// Read-then-add in the warm path is not atomic. Only one process is expected
// to drive a given pair of keys.
type Tracker struct {
	store     Store
	markerKey string
	setKey    string
	ttl       time.Duration
}

func NewTracker(store Store, opts TrackerOptions) *Tracker {
	t := &Tracker{
		store:     store,
		markerKey: opts.MarkerKey,
		setKey:    opts.SetKey,
		ttl:       opts.TTL,
	}
	if t.markerKey == "" {
		t.markerKey = DefaultMarkerKey
	}
	if t.setKey == "" {
		t.setKey = DefaultSetKey
	}
	if t.ttl <= 0 {
		t.ttl = DefaultTTL
	}
	return t
}

// FilterNew returns the items that have not been pushed during the current
// window, in their original order.
func (t *Tracker) FilterNew(ctx context.Context, items []feed.Item) ([]feed.Item, error) {
	b, err := t.Filter(ctx, items)
	if err != nil {
		return nil, err
	}
	return b.Items, nil
}

func (t *Tracker) Filter(ctx context.Context, items []feed.Item) (Batch, error) {
	items = uniqueItems(items)

	alive, err := t.store.Exists(ctx, t.markerKey)
	if err != nil {
		return Batch{}, fmt.Errorf("check dedup window: %w", err)
	}
	if !alive {
		return t.reseed(ctx, items)
	}

	seen, err := t.store.Members(ctx, t.setKey)
	if err != nil {
		return Batch{}, fmt.Errorf("read dedup window: %w", err)
	}

	var (
		fresh []feed.Item
		ids   []string
	)
	for _, it := range items {
		if _, ok := seen[it.ID.String()]; ok {
			continue
		}
		fresh = append(fresh, it)
		ids = append(ids, it.ID.String())
	}

	if len(ids) > 0 {
		if err := t.store.AddMembers(ctx, t.setKey, ids...); err != nil {
			return Batch{}, fmt.Errorf("extend dedup window: %w", err)
		}
	}

	slog.Debug("Filtered batch", "fetched", len(items), "known", len(seen), "new", len(fresh))
	return Batch{Items: fresh}, nil
}

func (t *Tracker) reseed(ctx context.Context, items []feed.Item) (Batch, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID.String()
	}
	if err := t.store.Reseed(ctx, t.setKey, t.markerKey, ids, t.ttl); err != nil {
		return Batch{}, fmt.Errorf("reseed dedup window: %w", err)
	}
	metricReseeds.Inc()
	slog.Info("Dedup window initialized", "ids", len(ids), "ttl", t.ttl)
	return Batch{Items: items, Reseeded: true}, nil
}

// Reset removes the marker and the set.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.store.Delete(ctx, t.markerKey, t.setKey); err != nil {
		return fmt.Errorf("clear dedup window: %w", err)
	}
	return nil
}

// Ping reports whether the backing store is reachable.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// IsUnavailable reports whether err came from the store.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// uniqueItems drops items without an id and repeated ids, keeping the first.
func uniqueItems(items []feed.Item) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	seen := make(map[feed.ID]struct{}, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
