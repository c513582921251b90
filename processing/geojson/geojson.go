// Package geojson reads and writes GeoJSON feature collections.
package geojson

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/go-spatial/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/perimeterx/marshmallow"
	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/maps"

	"github.com/yadda07/holesdetection/processing"
)

const featureCollection = "FeatureCollection"

type collectionDoc struct {
	Type     string          `json:"type"`
	Features json.RawMessage `json:"features"`
}

// Members are JSON object members in document order, values as written in the input
type Members = orderedmap.OrderedMap[string, json.RawMessage]

// featureGeoJSON keeps the feature as it was read so it is written back unchanged
type featureGeoJSON struct {
	raw      json.RawMessage
	feature  *geojson.Feature
	geometry geom.Geometry
}

// Columns are the property values ordered by property name
func (f featureGeoJSON) Columns() []interface{} {
	keys := maps.Keys(f.feature.Properties)
	slices.Sort(keys)
	columns := make([]interface{}, len(keys))
	for i, key := range keys {
		columns[i] = f.feature.Properties[key]
	}
	return columns
}

func (f featureGeoJSON) Geometry() geom.Geometry {
	return f.geometry
}

// Source streams the features of a GeoJSON feature collection
type Source struct {
	path     string
	foreign  *Members
	features [][]byte
}

// Open reads the feature collection at path. Features are decoded while streaming.
func Open(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc collectionDoc
	if _, err := marshmallow.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s is not valid GeoJSON: %w", path, err)
	}
	if doc.Type != featureCollection {
		return nil, fmt.Errorf("%s is not a feature collection: type=%q", path, doc.Type)
	}
	foreign, err := foreignMembers(data)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid GeoJSON: %w", path, err)
	}

	source := &Source{path: path, foreign: foreign}
	if len(doc.Features) == 0 || string(doc.Features) == "null" {
		return source, nil
	}
	var splitErr error
	_, err = jsonparser.ArrayEach(doc.Features, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		switch {
		case splitErr != nil:
		case err != nil:
			splitErr = err
		case dataType != jsonparser.Object:
			splitErr = fmt.Errorf("feature %d is a %s", len(source.features), dataType)
		default:
			source.features = append(source.features, value)
		}
	})
	if err == nil {
		err = splitErr
	}
	if err != nil {
		return nil, fmt.Errorf("reading the features of %s: %w", path, err)
	}
	return source, nil
}

// foreignMembers collects the members of the collection next to type and features.
// The bounding box of the input does not describe a subset of it and is left out.
func foreignMembers(data []byte) (*Members, error) {
	members := orderedmap.New[string, json.RawMessage]()
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		switch name {
		case "type", "features", "bbox":
			return nil
		}
		// strings come without their quotes, still escaped
		if dataType == jsonparser.String {
			value = append(append([]byte{'"'}, value...), '"')
		}
		members.Set(name, json.RawMessage(value))
		return nil
	})
	return members, err
}

// Layer is the name of the single layer of a GeoJSON file, its file name without extension
func (s *Source) Layer() string {
	return strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
}

// ForeignMembers are the members of the collection next to type and features
func (s *Source) ForeignMembers() *Members {
	return s.foreign
}

func (s *Source) Count() (int, error) {
	return len(s.features), nil
}

func (s *Source) ReadFeatures(ctx context.Context, features chan<- processing.Feature) error {
	for i, data := range s.features {
		f, err := decodeFeature(data)
		if err != nil {
			return fmt.Errorf("feature %d of %s: %w", i, s.path, err)
		}
		select {
		case features <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// decodeFeature decodes a single feature. A feature with a geometry that cannot be
// decoded, e.g. one without coordinates, is kept with an absent geometry.
func decodeFeature(data []byte) (featureGeoJSON, error) {
	feature, err := geojson.UnmarshalFeature(data)
	if err == nil {
		return featureGeoJSON{raw: data, feature: feature, geometry: toGeometry(feature.Geometry)}, nil
	}

	members, memberErr := marshmallow.Unmarshal(data, &struct{}{})
	if memberErr != nil || members["type"] != "Feature" {
		return featureGeoJSON{}, err
	}
	log.Debug().Err(err).Msg("invalid geometry, treated as absent")
	feature = geojson.NewFeature(nil)
	feature.ID = members["id"]
	if properties, ok := members["properties"].(map[string]interface{}); ok {
		feature.Properties = properties
	}
	return featureGeoJSON{raw: data, feature: feature}, nil
}

// Target collects features and writes them as a single feature collection
type Target struct {
	path    string
	foreign *Members
	names   []string
}

// NewTarget returns a target writing to path with the given foreign members.
// Features that did not come from GeoJSON get their columns as properties named by names.
func NewTarget(path string, foreign *Members, names []string) *Target {
	return &Target{path: path, foreign: foreign, names: names}
}

// WriteFeatures writes GeoJSON features as they were read, other features are encoded
func (t *Target) WriteFeatures(ctx context.Context, features <-chan processing.Feature) error {
	written := make([]json.RawMessage, 0)
	for f := range features {
		if err := ctx.Err(); err != nil {
			return err
		}
		if gf, ok := f.(featureGeoJSON); ok {
			written = append(written, gf.raw)
			continue
		}
		feature := geojson.NewFeature(toOrb(f.Geometry()))
		for i, value := range f.Columns() {
			feature.Properties[t.name(i)] = value
		}
		data, err := feature.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding %s: %w", t.path, err)
		}
		written = append(written, data)
	}

	list, err := json.Marshal(written)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", t.path, err)
	}
	doc := orderedmap.New[string, json.RawMessage]()
	doc.Set("type", json.RawMessage(`"`+featureCollection+`"`))
	if t.foreign != nil {
		for pair := t.foreign.Oldest(); pair != nil; pair = pair.Next() {
			doc.Set(pair.Key, pair.Value)
		}
	}
	doc.Set("features", list)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", t.path, err)
	}
	return os.WriteFile(t.path, data, 0o644)
}

func (t *Target) name(i int) string {
	if i < len(t.names) {
		return t.names[i]
	}
	return fmt.Sprintf("field%d", i)
}

// toGeometry converts an orb geometry to the geometry model
//
//nolint:cyclop
func toGeometry(g orb.Geometry) geom.Geometry {
	switch t := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return geom.Point(t)
	case orb.MultiPoint:
		return geom.MultiPoint(points(t))
	case orb.LineString:
		return geom.LineString(points(t))
	case orb.MultiLineString:
		mls := make(geom.MultiLineString, len(t))
		for i, ls := range t {
			mls[i] = points(ls)
		}
		return mls
	case orb.Ring:
		return geom.Polygon{points(t)}
	case orb.Polygon:
		return polygon(t)
	case orb.MultiPolygon:
		mp := make(geom.MultiPolygon, len(t))
		for i, p := range t {
			mp[i] = polygon(p)
		}
		return mp
	case orb.Collection:
		c := make(geom.Collection, 0, len(t))
		for _, member := range t {
			if converted := toGeometry(member); converted != nil {
				c = append(c, converted)
			}
		}
		return c
	default:
		return nil
	}
}

func points[P ~[]orb.Point](ps P) [][2]float64 {
	converted := make([][2]float64, len(ps))
	for i, p := range ps {
		converted[i] = p
	}
	return converted
}

func polygon(p orb.Polygon) geom.Polygon {
	converted := make(geom.Polygon, len(p))
	for i, ring := range p {
		converted[i] = points(ring)
	}
	return converted
}

// toOrb converts the geometry model to an orb geometry
//
//nolint:cyclop
func toOrb(g geom.Geometry) orb.Geometry {
	switch t := g.(type) {
	case geom.Point:
		return orb.Point(t)
	case geom.MultiPoint:
		return orb.MultiPoint(orbPoints(t))
	case geom.LineString:
		return orb.LineString(orbPoints(t))
	case geom.MultiLineString:
		mls := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			mls[i] = orbPoints(ls)
		}
		return mls
	case geom.Polygon:
		return orbPolygon(t)
	case *geom.Polygon:
		if t == nil {
			return nil
		}
		return orbPolygon(*t)
	case geom.MultiPolygon:
		return orbMultiPolygon(t)
	case *geom.MultiPolygon:
		if t == nil {
			return nil
		}
		return orbMultiPolygon(*t)
	case geom.Collection:
		c := make(orb.Collection, 0, len(t))
		for _, member := range t {
			if converted := toOrb(member); converted != nil {
				c = append(c, converted)
			}
		}
		return c
	default:
		return nil
	}
}

func orbPoints(ps [][2]float64) []orb.Point {
	converted := make([]orb.Point, len(ps))
	for i, p := range ps {
		converted[i] = p
	}
	return converted
}

func orbPolygon(p geom.Polygon) orb.Polygon {
	converted := make(orb.Polygon, len(p))
	for i, ring := range p {
		converted[i] = orbPoints(ring)
	}
	return converted
}

func orbMultiPolygon(mp geom.MultiPolygon) orb.MultiPolygon {
	converted := make(orb.MultiPolygon, len(mp))
	for i, p := range mp {
		converted[i] = orbPolygon(p)
	}
	return converted
}
