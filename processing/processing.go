// Package processing takes care of the logistics around reading from a Source and writing to a Target.
// Not the filter operation itself.
package processing

import (
	"context"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Stats are the counts of a single processed layer
type Stats struct {
	Read          uint64
	Kept          uint64
	NonPolygons   uint64
	MultiPolygons uint64
	Absent        uint64
}

// Add sums two Stats
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Read:          s.Read + o.Read,
		Kept:          s.Kept + o.Kept,
		NonPolygons:   s.NonPolygons + o.NonPolygons,
		MultiPolygons: s.MultiPolygons + o.MultiPolygons,
		Absent:        s.Absent + o.Absent,
	}
}

// ProcessFeatures reads all features from the source, keeps the ones accepted by keep
// and writes those to the target, preserving their order.
// Reading, filtering and writing run concurrently; the first error stops all three.
func ProcessFeatures(ctx context.Context, source Source, target Target, keep KeepFunc, progress ProgressFunc) (Stats, error) {
	total := -1
	if counter, ok := source.(Counter); ok {
		n, err := counter.Count()
		if err != nil {
			return Stats{}, fmt.Errorf("could not count features: %w", err)
		}
		total = n
	}

	featuresBefore := make(chan Feature)
	featuresAfter := make(chan Feature)
	var stats Stats

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(featuresBefore)
		return source.ReadFeatures(ctx, featuresBefore)
	})
	g.Go(func() error {
		defer close(featuresAfter)
		var err error
		stats, err = filterFeatures(ctx, featuresBefore, featuresAfter, keep, progress, total)
		return err
	})
	g.Go(func() error {
		return target.WriteFeatures(ctx, featuresAfter)
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}

	log.Info().Msgf("    total features: %d", stats.Read)
	log.Info().Msgf("      non-polygons: %d", stats.NonPolygons)
	if stats.Read != stats.NonPolygons {
		log.Info().Msgf("     multipolygons: %d", stats.MultiPolygons)
	}
	if stats.Absent > 0 {
		log.Info().Msgf("  absent geometries: %d", stats.Absent)
	}
	log.Info().Msgf("              kept: %d", stats.Kept)
	return stats, nil
}

// filterFeatures passes the features accepted by keep on to featuresOut
func filterFeatures(ctx context.Context, featuresIn <-chan Feature, featuresOut chan<- Feature,
	keep KeepFunc, progress ProgressFunc, total int) (Stats, error) {
	var stats Stats
	for feature := range featuresIn {
		stats.Read++
		switch feature.Geometry().(type) {
		case nil:
			stats.Absent++
		case geom.Polygon, *geom.Polygon:
		case geom.MultiPolygon, *geom.MultiPolygon:
			stats.MultiPolygons++
		default:
			stats.NonPolygons++
		}

		if keep(feature.Geometry()) {
			select {
			case featuresOut <- feature:
				stats.Kept++
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
		if progress != nil {
			progress(int(stats.Read), total)
		}
	}
	return stats, ctx.Err()
}

// Slice is an in-memory Source over a fixed list of features
type Slice []Feature

func (s Slice) ReadFeatures(ctx context.Context, features chan<- Feature) error {
	for _, f := range s {
		select {
		case features <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s Slice) Count() (int, error) {
	return len(s), nil
}

// Collector is an in-memory Target
type Collector struct {
	Features []Feature
}

func (c *Collector) WriteFeatures(_ context.Context, features <-chan Feature) error {
	for f := range features {
		c.Features = append(c.Features, f)
	}
	return nil
}
