package shp

import (
	"github.com/go-spatial/geom"
	"github.com/jonas-p/go-shp"
	"github.com/umpc/go-sortedmap"

	"github.com/yadda07/holesdetection/geomhelp"
	"github.com/yadda07/holesdetection/mapslicehelp"
)

// a closed ring needs at least three distinct points plus the closing one
const minRingPoints = 4

// splitParts cuts the flat point list of a multi-part record into its parts
func splitParts(parts []int32, points []shp.Point) [][][2]float64 {
	split := make([][][2]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		part := make([][2]float64, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, [2]float64{p.X, p.Y})
		}
		split = append(split, part)
	}
	return split
}

// assemblePolygon builds a polygon or multipolygon from the rings of a polygon record.
// Clockwise rings are shells, counterclockwise rings are holes.
// Every hole goes to the smallest shell containing it, holes without one become shells themselves.
//
//nolint:cyclop
func assemblePolygon(rings [][][2]float64) geom.Geometry {
	var shells, holes [][][2]float64
	for _, ring := range rings {
		if len(ring) < minRingPoints {
			continue
		}
		switch a := geomhelp.SignedArea(ring); {
		case a > 0:
			shells = append(shells, ring)
		case a < 0:
			holes = append(holes, ring)
		}
	}
	if len(shells) == 0 {
		// all rings wound the wrong way around
		shells, holes = holes, nil
	}
	if len(shells) == 0 {
		return nil
	}

	bySize := sortedmap.New(len(shells), func(x, y interface{}) bool {
		return x.(float64) < y.(float64)
	})
	for i, shell := range shells {
		bySize.Insert(i, geomhelp.Shoelace(shell))
	}
	smallestFirst := bySize.Keys()

	polygons := make([]geom.Polygon, len(shells))
	for i, shell := range shells {
		polygons[i] = geom.Polygon{shell}
	}
	for _, hole := range holes {
		owner := -1
		for _, key := range smallestFirst {
			i := key.(int)
			if geomhelp.RingContains(shells[i], hole[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			polygons = append(polygons, geom.Polygon{hole})
			continue
		}
		polygons[owner] = append(polygons[owner], hole)
	}

	if len(polygons) == 1 {
		return polygons[0]
	}
	mp := make(geom.MultiPolygon, len(polygons))
	for i, p := range polygons {
		mp[i] = p
	}
	return mp
}

// toGeometry maps a shapefile record onto the geometry model. Nulls and multipatches have none.
//
//nolint:cyclop
func toGeometry(shape shp.Shape) geom.Geometry {
	switch s := shape.(type) {
	case *shp.Polygon:
		return assemblePolygon(splitParts(s.Parts, s.Points))
	case *shp.PolygonZ:
		return assemblePolygon(splitParts(s.Parts, s.Points))
	case *shp.PolygonM:
		return assemblePolygon(splitParts(s.Parts, s.Points))
	case *shp.Point:
		return geom.Point{s.X, s.Y}
	case *shp.PointZ:
		return geom.Point{s.X, s.Y}
	case *shp.PointM:
		return geom.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.MultiPointM:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return geom.MultiLineString(splitParts(s.Parts, s.Points))
	case *shp.PolyLineZ:
		return geom.MultiLineString(splitParts(s.Parts, s.Points))
	case *shp.PolyLineM:
		return geom.MultiLineString(splitParts(s.Parts, s.Points))
	default:
		return nil
	}
}

func multiPoint(points []shp.Point) geom.MultiPoint {
	mp := make(geom.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = [2]float64{p.X, p.Y}
	}
	return mp
}

// toPolygonRecord encodes a polygon or multipolygon as a polygon record,
// shells clockwise and holes counterclockwise
func toPolygonRecord(g geom.Geometry) (*shp.Polygon, bool) {
	var polygons [][][][2]float64
	switch t := g.(type) {
	case geom.Polygon:
		polygons = [][][][2]float64{t}
	case *geom.Polygon:
		if t == nil {
			return nil, false
		}
		polygons = [][][][2]float64{*t}
	case geom.MultiPolygon:
		polygons = t
	case *geom.MultiPolygon:
		if t == nil {
			return nil, false
		}
		polygons = *t
	default:
		return nil, false
	}

	var parts [][]shp.Point
	for _, polygon := range polygons {
		for i, ring := range polygon {
			if len(ring) == 0 {
				continue
			}
			closed := closeRing(ring)
			if shell := i == 0; shell != geomhelp.IsClockwise(closed) {
				closed = mapslicehelp.ReverseClone(closed)
			}
			points := make([]shp.Point, len(closed))
			for j, p := range closed {
				points[j] = shp.Point{X: p[0], Y: p[1]}
			}
			parts = append(parts, points)
		}
	}
	if len(parts) == 0 {
		return nil, false
	}
	polygon := shp.Polygon(*shp.NewPolyLine(parts))
	return &polygon, true
}

func closeRing(ring [][2]float64) [][2]float64 {
	closed := make([][2]float64, len(ring), len(ring)+1)
	copy(closed, ring)
	if closed[0] != closed[len(closed)-1] {
		closed = append(closed, closed[0])
	}
	return closed
}
