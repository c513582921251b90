package geojson

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yadda07/holesdetection/mapslicehelp"
	"github.com/yadda07/holesdetection/processing"
)

const parcels = `{
  "type": "FeatureCollection",
  "name": "parcels",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::28992"}},
  "bbox": [0, 0, 10, 10],
  "features": [
    {"type": "Feature", "id": 1, "properties": {"name": "donut", "area": 96},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,10],[10,10],[10,0],[0,0]], [[2,2],[4,2],[4,4],[2,4],[2,2]]]}},
    {"type": "Feature", "properties": {"name": "plain"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,10],[10,10],[10,0],[0,0]]]}},
    {"type": "Feature", "properties": {"name": "nothing"}, "geometry": null},
    {"type": "Feature", "properties": {"name": "broken"}, "geometry": {"type": "Polygon"}}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func read(t *testing.T, source *Source) []processing.Feature {
	t.Helper()
	features := make(chan processing.Feature)
	errs := make(chan error, 1)
	go func() {
		errs <- source.ReadFeatures(context.Background(), features)
		close(features)
	}()
	collector := &processing.Collector{}
	require.NoError(t, collector.WriteFeatures(context.Background(), features))
	require.NoError(t, <-errs)
	return collector.Features
}

func write(t *testing.T, target *Target, features ...processing.Feature) {
	t.Helper()
	ch := make(chan processing.Feature, len(features))
	for _, f := range features {
		ch <- f
	}
	close(ch)
	require.NoError(t, target.WriteFeatures(context.Background(), ch))
}

func TestOpen(t *testing.T) {
	source, err := Open(writeFile(t, "parcels.geojson", parcels))
	require.NoError(t, err)

	assert.Equal(t, "parcels", source.Layer())
	n, err := source.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"name", "crs"}, mapslicehelp.OrderedMapKeys(source.ForeignMembers()))
	name, _ := source.ForeignMembers().Get("name")
	assert.Equal(t, `"parcels"`, string(name))

	features := read(t, source)
	require.Len(t, features, 4)

	donut, ok := features[0].Geometry().(geom.Polygon)
	require.True(t, ok)
	assert.Len(t, donut, 2)
	assert.Equal(t, [2]float64{2, 2}, donut[1][0])
	assert.Equal(t, []interface{}{96.0, "donut"}, features[0].Columns())

	assert.IsType(t, geom.Polygon{}, features[1].Geometry())
	assert.Nil(t, features[2].Geometry())
	assert.Nil(t, features[3].Geometry())
	assert.Equal(t, []interface{}{"broken"}, features[3].Columns())
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: `{"type": "FeatureCollection", `},
		{name: "not an object", content: `[1, 2, 3]`},
		{name: "single feature", content: `{"type": "Feature", "properties": {}, "geometry": null}`},
		{name: "features is not an array", content: `{"type": "FeatureCollection", "features": {"a": 1}}`},
		{name: "feature is not an object", content: `{"type": "FeatureCollection", "features": [1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeFile(t, "bad.geojson", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Open(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadFeaturesRejectsOtherObjects(t *testing.T) {
	source, err := Open(writeFile(t, "points.geojson",
		`{"type": "FeatureCollection", "features": [{"type": "Point", "coordinates": [1, 2]}]}`))
	require.NoError(t, err)

	err = source.ReadFeatures(context.Background(), make(chan processing.Feature, 1))
	assert.ErrorContains(t, err, "feature 0")
}

func TestEmptyCollection(t *testing.T) {
	source, err := Open(writeFile(t, "empty.geojson", `{"type": "FeatureCollection", "features": []}`))
	require.NoError(t, err)
	assert.Empty(t, read(t, source))

	out := filepath.Join(t.TempDir(), "out.geojson")
	write(t, NewTarget(out, source.ForeignMembers(), nil))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "FeatureCollection", "features": []}`, string(got))
}

func TestWriteKeepsFeaturesAndForeignMembers(t *testing.T) {
	source, err := Open(writeFile(t, "parcels.geojson", parcels))
	require.NoError(t, err)
	features := read(t, source)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.geojson")
	second := filepath.Join(dir, "second.geojson")
	write(t, NewTarget(first, source.ForeignMembers(), nil), features[0])
	write(t, NewTarget(second, source.ForeignMembers(), nil), features[0])

	want, err := os.ReadFile(first)
	require.NoError(t, err)
	got, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.JSONEq(t, `{
	  "type": "FeatureCollection",
	  "name": "parcels",
	  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::28992"}},
	  "features": [
	    {"type": "Feature", "id": 1, "properties": {"area": 96, "name": "donut"},
	     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,10],[10,10],[10,0],[0,0]], [[2,2],[4,2],[4,4],[2,4],[2,2]]]}}
	  ]
	}`, string(got))
}

func TestWriteKeepsValuesAsWritten(t *testing.T) {
	content := `{"type": "FeatureCollection", "revision": 9007199254740993, "title": "a \"quoted\" name",
	  "features": [
	    {"type": "Feature", "id": 9007199254740993, "title": "kept member",
	     "properties": {"parcel": 9007199254740993, "code": "  A7  ", "ratio": 1.50},
	     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,10],[10,10],[10,0],[0,0]], [[2,2],[4,2],[4,4],[2,4],[2,2]]]}}
	  ]}`
	source, err := Open(writeFile(t, "big.geojson", content))
	require.NoError(t, err)
	features := read(t, source)
	require.Len(t, features, 1)

	out := filepath.Join(t.TempDir(), "out.geojson")
	write(t, NewTarget(out, source.ForeignMembers(), nil), features...)
	got, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Contains(t, string(got), `"revision":9007199254740993`)
	assert.Contains(t, string(got), `"title":"a \"quoted\" name"`)
	assert.Contains(t, string(got), `"id":9007199254740993`)
	assert.Contains(t, string(got), `"title":"kept member"`)
	assert.Contains(t, string(got), `"parcel":9007199254740993`)
	assert.Contains(t, string(got), `"code":"  A7  "`)
	assert.Contains(t, string(got), `"ratio":1.50`)
	assert.True(t, strings.HasPrefix(string(got), `{"type":"FeatureCollection","revision":`))
}

type testFeature struct {
	columns  []interface{}
	geometry geom.Geometry
}

func (f testFeature) Columns() []interface{} {
	return f.columns
}

func (f testFeature) Geometry() geom.Geometry {
	return f.geometry
}

func TestWriteOtherFeatures(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.geojson")
	mp := geom.MultiPolygon{{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}}}
	write(t, NewTarget(out, nil, []string{"name"}), testFeature{columns: []interface{}{"a", 2}, geometry: mp})

	source, err := Open(out)
	require.NoError(t, err)
	features := read(t, source)
	require.Len(t, features, 1)
	assert.Equal(t, mp, features[0].Geometry())
	assert.Equal(t, []interface{}{2.0, "a"}, features[0].Columns())
}

func TestGeometryConversion(t *testing.T) {
	tests := []geom.Geometry{
		geom.Point{1, 2},
		geom.MultiPoint{{1, 2}, {3, 4}},
		geom.LineString{{1, 2}, {3, 4}},
		geom.MultiLineString{{{1, 2}, {3, 4}}},
		geom.Polygon{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}},
		geom.MultiPolygon{{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}}},
		geom.Collection{geom.Point{1, 2}, geom.LineString{{1, 2}, {3, 4}}},
	}
	for _, g := range tests {
		assert.Equal(t, g, toGeometry(toOrb(g)))
	}
	assert.Nil(t, toGeometry(nil))
	assert.Nil(t, toOrb(nil))
}
