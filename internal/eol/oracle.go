// Package eol decides whether a release cycle of a product has passed its
// end-of-life date.
package eol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nethserver/nh-sbom/internal/clients/endoflife"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scylladb/go-set/strset"
)

const dateLayout = "2006-01-02"

type Source interface {
	Products(ctx context.Context) ([]string, error)
	Cycles(ctx context.Context, product string) ([]endoflife.Cycle, error)
}

// Cache holds cycle metadata for a single run. Only successful lookups are
// stored, so a product whose lookup failed is fetched again the next time it
// is asked for. The cache is bounded; a product evicted mid-run is fetched
// again on its next lookup.
type Cache struct {
	entries *lru.Cache[string, []endoflife.Cycle]
	hits    int
	misses  int
}

func NewCache(size int) (*Cache, error) {
	entries, err := lru.New[string, []endoflife.Cycle](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) get(product string) ([]endoflife.Cycle, bool) {
	cycles, ok := c.entries.Get(product)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return cycles, ok
}

func (c *Cache) put(product string, cycles []endoflife.Cycle) {
	c.entries.Add(product, cycles)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

type Oracle struct {
	source Source
	cache  *Cache
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Oracle)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

func New(source Source, cache *Cache, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{source: source, cache: cache, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Catalog fetches the set of product names known to the EOL service. Callers
// treat an error as fatal.
func (o *Oracle) Catalog(ctx context.Context) (*strset.Set, error) {
	products, err := o.source.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("eol catalog: %w", err)
	}
	o.logger.Debug("loaded eol catalog", "products", len(products))
	return strset.New(products...), nil
}

func (o *Oracle) CycleMetadata(ctx context.Context, product string) ([]endoflife.Cycle, error) {
	if cycles, ok := o.cache.get(product); ok {
		return cycles, nil
	}
	cycles, err := o.source.Cycles(ctx, product)
	if err != nil {
		return nil, err
	}
	o.cache.put(product, cycles)
	return cycles, nil
}

// IsEndOfLife evaluates cycle against the oracle's clock.
func (o *Oracle) IsEndOfLife(records []endoflife.Cycle, cycle string) bool {
	return IsEndOfLife(records, cycle, o.now())
}

// IsEndOfLife reports whether the first record for cycle carries an EOL date
// that now is past. Boolean, missing and unparsable EOL values are not EOL.
func IsEndOfLife(records []endoflife.Cycle, cycle string, now time.Time) bool {
	for _, r := range records {
		if r.Cycle != cycle {
			continue
		}
		if !r.EOL.IsDate {
			return false
		}
		eolDate, err := time.Parse(dateLayout, r.EOL.Date)
		if err != nil {
			return false
		}
		return now.After(eolDate)
	}
	return false
}
