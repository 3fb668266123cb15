package reports

import (
	"context"
	"fmt"

	"github.com/thichuong/Web-server-Report-sub002/internal/cache"
)

const latestKey = "report:latest"

func idKey(id uint64) string { return fmt.Sprintf("report:%d", id) }

// ReadPath serves get_report(id) / get_latest_report(), each a
// get_or_compute over the store port.
type ReadPath struct {
	cache *cache.Cache
	store Store
}

// NewReadPath builds a ReadPath over c and store.
func NewReadPath(c *cache.Cache, store Store) *ReadPath {
	return &ReadPath{cache: c, store: store}
}

// GetReport returns the report with the given id, from cache or the
// store on miss, along with the tier that served it (for X-Cache-Status).
// A NotFound error reports cache.TierMiss; callers that render the
// NotFound case as "empty" do so from the error, not the tier.
func (p *ReadPath) GetReport(ctx context.Context, id uint64) (Report, cache.Tier, error) {
	return cache.GetOrComputeJSONTiered(ctx, p.cache, idKey(id), cache.MediumTerm, func(ctx context.Context) (Report, error) {
		return p.store.LoadByID(ctx, id)
	})
}

// GetLatestReport returns the most recent report, promoting it into
// "report:{id}" as well so a subsequent GetReport(id) call hits cache
// directly.
func (p *ReadPath) GetLatestReport(ctx context.Context) (Report, cache.Tier, error) {
	report, tier, err := cache.GetOrComputeJSONTiered(ctx, p.cache, latestKey, cache.MediumTerm, func(ctx context.Context) (Report, error) {
		return p.store.LoadLatest(ctx)
	})
	if err != nil {
		return Report{}, tier, err
	}

	if err := cache.SetJSON(ctx, p.cache, idKey(report.ID), report, cache.MediumTerm); err != nil {
		// Best-effort promotion; the caller already has a valid report.
		_ = err
	}
	return report, tier, nil
}

// Invalidate drops both cache entries for id: external writes that change
// the latest report id or an existing report payload must invalidate both
// "report:latest" and "report:{id}".
func (p *ReadPath) Invalidate(ctx context.Context, id uint64) {
	p.cache.Invalidate(ctx, latestKey)
	p.cache.Invalidate(ctx, idKey(id))
}
