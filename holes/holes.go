// Package holes selects polygon features that have at least one interior ring.
package holes

import (
	"context"

	"github.com/go-spatial/geom"
	"github.com/rs/zerolog/log"

	"github.com/yadda07/holesdetection/geomhelp"
	"github.com/yadda07/holesdetection/processing"
)

const debugWktLength = 120

// InteriorRings counts the rings after the outer boundary that hold at least one coordinate
func InteriorRings(p geom.Polygon) int {
	n := 0
	if len(p) < 2 {
		return n
	}
	for _, interior := range p[1:] {
		if len(interior) > 0 {
			n++
		}
	}
	return n
}

// HasHoles reports whether the geometry is a polygon, or a multipolygon with a member,
// that has at least one interior ring. Absent geometries and other kinds have none.
func HasHoles(g geom.Geometry) bool {
	switch t := g.(type) {
	case geom.Polygon:
		return InteriorRings(t) > 0
	case *geom.Polygon:
		return t != nil && InteriorRings(*t) > 0
	case geom.MultiPolygon:
		return multiPolygonHasHoles(t)
	case *geom.MultiPolygon:
		return t != nil && multiPolygonHasHoles(*t)
	default:
		return false
	}
}

func multiPolygonHasHoles(mp geom.MultiPolygon) bool {
	for _, p := range mp {
		if InteriorRings(p) > 0 {
			return true
		}
	}
	return false
}

// Filter copies the features of source that have holes to target
func Filter(ctx context.Context, source processing.Source, target processing.Target, progress processing.ProgressFunc) (processing.Stats, error) {
	return processing.ProcessFeatures(ctx, source, target, keep, progress)
}

func keep(g geom.Geometry) bool {
	kept := HasHoles(g)
	if e := log.Debug(); e.Enabled() {
		e.Bool("kept", kept).Str("geometry", geomhelp.WktMustEncode(g, debugWktLength)).Msg("evaluated")
	}
	return kept
}
