package geomhelp

import (
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SignedArea is the shoelace sum of a ring, halved.
// Positive for clockwise rings, negative for counterclockwise rings (with y pointing up).
// https://en.wikipedia.org/wiki/Shoelace_formula
func SignedArea(pts [][2]float64) float64 {
	sum := 0.
	if len(pts) == 0 {
		return 0.
	}

	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[1]*p1[0] - p0[0]*p1[1]
		p0 = p1
	}
	return sum / 2
}

// Shoelace returns the (unsigned) area of a ring
func Shoelace(pts [][2]float64) float64 {
	return math.Abs(SignedArea(pts))
}

// IsClockwise reports the orientation of a ring. Degenerate rings are neither.
func IsClockwise(pts [][2]float64) bool {
	return SignedArea(pts) > 0
}

// RingContains reports whether pt lies inside the ring or on its boundary.
// The ring does not need to be closed.
func RingContains(ring [][2]float64, pt [2]float64) bool {
	if len(ring) < 3 {
		return false
	}
	r := make(orb.Ring, len(ring))
	for i, p := range ring {
		r[i] = p
	}
	return planar.RingContains(r, pt)
}

// WktMustEncode encodes a geometry for logging, truncated to maxLen (0 means no limit).
// Absent geometries are rendered as EMPTY.
func WktMustEncode(g geom.Geometry, maxLen uint) (s string) {
	if g == nil {
		return "EMPTY"
	}
	defer func() {
		// wkt panics on geometries it cannot encode, e.g. rings that are too short
		if r := recover(); r != nil {
			s = "INVALID"
		}
	}()
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}
