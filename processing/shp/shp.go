// Package shp reads and writes ESRI shapefiles as feature streams.
package shp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/jonas-p/go-shp"

	"github.com/yadda07/holesdetection/processing"
)

const fileCode = 9994

// Extensions are the files that together make up one shapefile dataset
var Extensions = []string{".shp", ".shx", ".dbf", ".prj", ".cpg", ".sbn", ".sbx", ".qix"}

// copied along with the kept features, the spatial indexes are not valid anymore
var sidecars = []string{".prj", ".cpg"}

type feature struct {
	shape    shp.Shape
	geometry geom.Geometry
	columns  []interface{}
}

func (f *feature) Columns() []interface{} {
	return f.columns
}

func (f *feature) Geometry() geom.Geometry {
	return f.geometry
}

// Source streams the records of a shapefile with their attributes
type Source struct {
	path   string
	reader *shp.Reader
	fields []shp.Field
	table  *attributeTable
}

// Open opens the shapefile at path. The attribute table (.dbf) must be present.
func Open(path string) (*Source, error) {
	if err := checkFileCode(path); err != nil {
		return nil, err
	}
	dbf := stem(path) + ".dbf"
	if _, err := os.Stat(dbf); err != nil {
		return nil, fmt.Errorf("attribute table of %s: %w", path, err)
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	fields := reader.Fields()
	table, err := openAttributeTable(dbf, fields)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return &Source{path: path, reader: reader, fields: fields, table: table}, nil
}

func checkFileCode(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var code int32
	if err := binary.Read(f, binary.BigEndian, &code); err != nil {
		return fmt.Errorf("%s is not a shapefile: %w", path, err)
	}
	if code != fileCode {
		return fmt.Errorf("%s is not a shapefile: file code %d", path, code)
	}
	return nil
}

// Layer is the name of the single layer of a shapefile, its file name without extension
func (s *Source) Layer() string {
	return filepath.Base(stem(s.path))
}

// GeometryType is the shape type in the header of the .shp file
func (s *Source) GeometryType() shp.ShapeType {
	return s.reader.GeometryType
}

// Fields are the field descriptors of the attribute table
func (s *Source) Fields() []shp.Field {
	return s.fields
}

// Count is the number of records in the attribute table
func (s *Source) Count() (int, error) {
	return s.reader.AttributeCount(), nil
}

func (s *Source) ReadFeatures(ctx context.Context, features chan<- processing.Feature) error {
	for s.reader.Next() {
		row, shape := s.reader.Shape()
		columns, err := s.table.values(row)
		if err != nil {
			return err
		}
		f := &feature{
			shape:    shape,
			geometry: toGeometry(shape),
			columns:  columns,
		}
		select {
		case features <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.reader.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	return nil
}

func (s *Source) Close() error {
	err := s.reader.Close()
	if tableErr := s.table.Close(); err == nil {
		err = tableErr
	}
	return err
}

// Target writes features to a new shapefile with a fixed shape type and attribute table
type Target struct {
	path      string
	writer    *shp.Writer
	shapeType shp.ShapeType
	fields    []shp.Field
}

// Create creates the .shp, .shx and .dbf files at path
func Create(path string, shapeType shp.ShapeType, fields []shp.Field) (*Target, error) {
	writer, err := shp.Create(path, shapeType)
	if err != nil {
		return nil, err
	}
	t := &Target{path: path, writer: writer, shapeType: shapeType, fields: fields}
	if err := writer.SetFields(fields); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Target) WriteFeatures(ctx context.Context, features <-chan processing.Feature) error {
	for f := range features {
		if err := ctx.Err(); err != nil {
			return err
		}
		shape, err := t.record(f)
		if err != nil {
			return err
		}
		row := int(t.writer.Write(shape))
		for i, value := range f.Columns() {
			if i >= len(t.fields) {
				break
			}
			if err := t.writer.WriteAttribute(row, i, pad(t.fields[i], value)); err != nil {
				return fmt.Errorf("writing row %d of %s: %w", row, t.path, err)
			}
		}
	}
	return nil
}

// record is the original record of the feature when it came from a shapefile,
// otherwise its geometry encoded as a polygon record
func (t *Target) record(f processing.Feature) (shp.Shape, error) {
	if sf, ok := f.(*feature); ok && sf.shape != nil {
		return sf.shape, nil
	}
	if t.shapeType != shp.POLYGON {
		return nil, fmt.Errorf("cannot encode %T as shape type %d", f.Geometry(), t.shapeType)
	}
	polygon, ok := toPolygonRecord(f.Geometry())
	if !ok {
		return nil, fmt.Errorf("cannot encode %T as a polygon record", f.Geometry())
	}
	return polygon, nil
}

// Close writes the headers and closes the files
func (t *Target) Close() error {
	t.writer.Close()
	// some go-shp versions write the attribute table next to the stem without the dot
	s := stem(t.path)
	if _, err := os.Stat(s + "dbf"); err == nil {
		return os.Rename(s+"dbf", s+".dbf")
	}
	return nil
}

// pad formats an attribute value to the full width of its field,
// text left aligned and numbers right aligned, as DBF readers expect
func pad(field shp.Field, value interface{}) string {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', int(field.Precision), 64)
	case bool:
		s = "F"
		if v {
			s = "T"
		}
	default:
		s = fmt.Sprint(v)
	}
	width := int(field.Size)
	if len(s) >= width {
		return s
	}
	switch field.Fieldtype {
	case 'N', 'F':
		return strings.Repeat(" ", width-len(s)) + s
	default:
		return s + strings.Repeat(" ", width-len(s))
	}
}

// CopySidecars copies the projection and code page files of a dataset next to target
func CopySidecars(source, target string) error {
	for _, ext := range sidecars {
		from, ok := existing(stem(source), ext)
		if !ok {
			continue
		}
		if err := copyFile(from, stem(target)+ext); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Files lists the existing files of the dataset at path
func Files(path string) []string {
	var files []string
	for _, ext := range Extensions {
		if f, ok := existing(stem(path), ext); ok {
			files = append(files, f)
		}
	}
	return files
}

// Remove deletes every file of the dataset at path
func Remove(path string) error {
	for _, f := range Files(path) {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func existing(stem, ext string) (string, bool) {
	for _, candidate := range []string{stem + ext, stem + strings.ToUpper(ext)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func stem(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
