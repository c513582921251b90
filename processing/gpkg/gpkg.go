// Package gpkg reads and writes the feature tables of a GeoPackage.
package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/rs/zerolog/log"

	"github.com/yadda07/holesdetection/processing"
)

// DefaultPageSize is the number of features written per transaction
const DefaultPageSize = 1000

type featureGPKG struct {
	columns  []interface{}
	geometry geom.Geometry
	// encoded geometry as stored in the source, written back unchanged
	blob []byte
}

func (f featureGPKG) Columns() []interface{} {
	return f.columns
}

func (f featureGPKG) Geometry() geom.Geometry {
	return f.geometry
}

type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue sql.NullString
	pk        int
}

// Table is a feature table with its schema, geometry column and spatial reference system
type Table struct {
	Name    string
	columns []column
	gcolumn string
	gtype   gpkg.GeometryType
	srs     gpkg.SpatialReferenceSystem
}

// geometryTypeFromString returns the numeric value of a gometry string
func geometryTypeFromString(geometrytype string) gpkg.GeometryType {
	switch strings.ToUpper(geometrytype) {
	case "GEOMETRY":
		return gpkg.Geometry
	case "POINT":
		return gpkg.Point
	case "LINESTRING":
		return gpkg.Linestring
	case "POLYGON":
		return gpkg.Polygon
	case "MULTIPOINT":
		return gpkg.MultiPoint
	case "MULTILINESTRING":
		return gpkg.MultiLinestring
	case "MULTIPOLYGON":
		return gpkg.MultiPolygon
	case "GEOMETRYCOLLECTION":
		return gpkg.GeometryCollection
	default:
		return gpkg.Geometry
	}
}

// SourceGeopackage reads the feature tables of a GeoPackage, one Table at a time
type SourceGeopackage struct {
	Table  Table
	handle *gpkg.Handle
}

// OpenSource opens an existing GeoPackage for reading
func OpenSource(file string) (*SourceGeopackage, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, err
	}
	handle, err := openGeopackage(file)
	if err != nil {
		return nil, err
	}
	return &SourceGeopackage{handle: handle}, nil
}

func (source *SourceGeopackage) Close() error {
	return source.handle.Close()
}

// Count returns the number of rows of the current table
func (source *SourceGeopackage) Count() (int, error) {
	var n int
	err := source.handle.QueryRow(`SELECT COUNT(*) FROM ` + quote(source.Table.Name) + `;`).Scan(&n)
	return n, err
}

// ReadFeatures streams the rows of the current table in rowid order
//
//nolint:cyclop,funlen
func (source *SourceGeopackage) ReadFeatures(ctx context.Context, features chan<- processing.Feature) error {
	rows, err := source.handle.QueryContext(ctx, source.Table.selectSQL())
	if err != nil {
		return fmt.Errorf("error querying table %s: %w", source.Table.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("error reading the columns: %w", err)
	}

	for rows.Next() {
		vals := make([]interface{}, len(cols))
		valPtrs := make([]interface{}, len(cols))
		for i := 0; i < len(cols); i++ {
			valPtrs[i] = &vals[i]
		}

		if err = rows.Scan(valPtrs...); err != nil {
			return fmt.Errorf("err reading row values: %w", err)
		}
		var f featureGPKG
		c := make([]interface{}, 0, len(cols)-1)

		for i, colName := range cols {
			switch colName {
			case source.Table.gcolumn:
				blob, ok := vals[i].([]byte)
				if !ok {
					// NULL geometry
					continue
				}
				f.blob = blob
				wkbgeom, err := gpkg.DecodeGeometry(blob)
				if err != nil {
					log.Debug().Err(err).Str("table", source.Table.Name).Msg("undecodable geometry, treated as absent")
					continue
				}
				f.geometry = wkbgeom.Geometry
			default:
				switch v := vals[i].(type) {
				case []byte, int64, float64, bool, time.Time, string, nil:
					c = append(c, v)
				default:
					return fmt.Errorf("unexpected type for sqlite column data: %v: %T", cols[i], v)
				}
			}
		}
		f.columns = c

		select {
		case features <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}

// GetTableInfo lists the feature tables with their columns and spatial reference system
func (source *SourceGeopackage) GetTableInfo() ([]Table, error) {
	query := `SELECT table_name, column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns;`
	rows, err := source.handle.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error querying the geometry columns: %w", err)
	}
	defer rows.Close()

	var tables []Table
	var srsIDs []int
	for rows.Next() {
		var t Table
		var gtype string
		var srsID int
		if err := rows.Scan(&t.Name, &t.gcolumn, &gtype, &srsID); err != nil {
			return nil, fmt.Errorf("error reading the source table information: %w", err)
		}
		t.gtype = geometryTypeFromString(gtype)
		tables = append(tables, t)
		srsIDs = append(srsIDs, srsID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range tables {
		if tables[i].columns, err = getTableColumns(source.handle, tables[i].Name); err != nil {
			return nil, err
		}
		if tables[i].srs, err = getSpatialReferenceSystem(source.handle, srsIDs[i]); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// TargetGeopackage writes features into a new GeoPackage in pages of pagesize rows
// and keeps the extent of the current Table for gpkg_contents
type TargetGeopackage struct {
	Table    Table
	pagesize int
	handle   *gpkg.Handle
	extent   *geom.Extent
}

// OpenTarget creates or opens a GeoPackage for writing, pagesize features per transaction
func OpenTarget(file string, pagesize int) (*TargetGeopackage, error) {
	if pagesize <= 0 {
		pagesize = DefaultPageSize
	}
	handle, err := openGeopackage(file)
	if err != nil {
		return nil, err
	}
	return &TargetGeopackage{pagesize: pagesize, handle: handle}, nil
}

func (target *TargetGeopackage) Close() error {
	return target.handle.Close()
}

func (target *TargetGeopackage) CreateTables(tables []Table) error {
	for _, table := range tables {
		err := target.handle.UpdateSRS(table.srs)
		if err != nil {
			return err
		}

		err = buildTable(target.handle, table)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteFeatures inserts the features into the current table, one transaction per page
func (target *TargetGeopackage) WriteFeatures(ctx context.Context, features <-chan processing.Feature) error {
	target.extent = nil
	page := make([]processing.Feature, 0, target.pagesize)

	for feature := range features {
		page = append(page, feature)
		if len(page) == target.pagesize {
			if err := target.writeFeatures(ctx, page); err != nil {
				return err
			}
			page = page[:0]
		}
	}
	if len(page) > 0 {
		return target.writeFeatures(ctx, page)
	}
	return nil
}

func (target *TargetGeopackage) writeFeatures(ctx context.Context, features []processing.Feature) error {
	tx, err := target.handle.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, target.Table.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range features {
		sb, err := target.encode(f)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		data := make([]interface{}, 0, len(f.Columns())+1)
		data = append(data, f.Columns()...)
		data = append(data, sb)

		if _, err = stmt.ExecContext(ctx, data...); err != nil {
			_ = tx.Rollback()
			var fid interface{} = "unknown"
			if len(data) > 1 {
				fid = data[0]
			}
			return fmt.Errorf("could not insert feature %v into %s: %w", fid, target.Table.Name, err)
		}
		target.addToExtent(f.Geometry())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit: %w", err)
	}

	if target.extent == nil {
		return nil
	}
	if err := target.handle.UpdateGeometryExtent(target.Table.Name, target.extent); err != nil {
		return fmt.Errorf("failed to update extent: %w", err)
	}
	return nil
}

// encode returns the stored geometry of features read from a GeoPackage, or encodes it
func (target *TargetGeopackage) encode(f processing.Feature) (interface{}, error) {
	if gf, ok := f.(featureGPKG); ok && gf.blob != nil {
		return gf.blob, nil
	}
	if f.Geometry() == nil {
		return nil, nil
	}
	sb, err := gpkg.NewBinary(int32(target.Table.srs.ID), f.Geometry())
	if err != nil {
		return nil, fmt.Errorf("could not create a binary geometry: %w", err)
	}
	return sb, nil
}

func (target *TargetGeopackage) addToExtent(g geom.Geometry) {
	if g == nil {
		return
	}
	if target.extent == nil {
		ext, err := geom.NewExtentFromGeometry(g)
		if err != nil {
			log.Debug().Err(err).Msg("failed to create new extent")
			return
		}
		target.extent = ext
		return
	}
	target.extent.AddGeometry(g)
}

func openGeopackage(file string) (*gpkg.Handle, error) {
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage %s: %w", file, err)
	}
	return handle, nil
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// createSQL creates a CREATE statement on the given table and column information
// used for creating feature tables in the target Geopackage
func (t Table) createSQL() string {
	var keys []column
	for _, column := range t.columns {
		if column.pk > 0 {
			keys = append(keys, column)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].pk < keys[j].pk })

	var columnparts []string
	for _, column := range t.columns {
		columnpart := quote(column.name) + ` ` + column.ctype
		if column.notnull == 1 {
			columnpart += ` NOT NULL`
		}
		if column.dfltValue.Valid {
			columnpart += ` DEFAULT ` + column.dfltValue.String
		}
		if column.pk > 0 && len(keys) == 1 {
			columnpart += ` PRIMARY KEY`
		}
		columnparts = append(columnparts, columnpart)
	}
	if len(keys) > 1 {
		var names []string
		for _, key := range keys {
			names = append(names, quote(key.name))
		}
		columnparts = append(columnparts, `PRIMARY KEY (`+strings.Join(names, `, `)+`)`)
	}

	return `CREATE TABLE IF NOT EXISTS ` + quote(t.Name) + `(` + strings.Join(columnparts, `, `) + `);`
}

// selectSQL build a SELECT statement based on the table and columns
// used for reading the source features
// date columns are read as text, the driver would otherwise parse and reformat them
func (t Table) selectSQL() string {
	var csql []string
	for _, c := range t.columns {
		if isDateType(c.ctype) {
			csql = append(csql, `CAST(`+quote(c.name)+` AS TEXT) AS `+quote(c.name))
			continue
		}
		csql = append(csql, quote(c.name))
	}
	return `SELECT ` + strings.Join(csql, `,`) + ` FROM ` + quote(t.Name) + ` ORDER BY rowid;`
}

// isDateType reports the declared types the sqlite3 driver turns into time.Time
func isDateType(ctype string) bool {
	switch strings.ToUpper(strings.TrimSpace(ctype)) {
	case "DATE", "DATETIME", "TIMESTAMP":
		return true
	}
	return false
}

// insertSQL used for writing the features
// build the INSERT statement based on the table and columns
func (t Table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.columns {
		if c.name != t.gcolumn {
			csql = append(csql, quote(c.name))
			vsql = append(vsql, `?`)
		}
	}
	csql = append(csql, quote(t.gcolumn))
	vsql = append(vsql, `?`)
	return `INSERT INTO ` + quote(t.Name) + `(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
}

// getSpatialReferenceSystem extracts this based on the given SRS id
func getSpatialReferenceSystem(h *gpkg.Handle, id int) (gpkg.SpatialReferenceSystem, error) {
	var srs gpkg.SpatialReferenceSystem
	query := `SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description FROM gpkg_spatial_ref_sys WHERE srs_id = ?;`

	var description *string
	err := h.QueryRow(query, id).Scan(&srs.Name, &srs.ID, &srs.Organization, &srs.OrganizationCoordsysID, &srs.Definition, &description)
	if err != nil {
		return srs, fmt.Errorf("error reading spatial reference system %d: %w", id, err)
	}
	if description != nil {
		srs.Description = *description
	}
	return srs, nil
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) ([]column, error) {
	rows, err := h.Query(`PRAGMA table_info(` + quote(table) + `);`)
	if err != nil {
		return nil, fmt.Errorf("error reading the columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []column
	for rows.Next() {
		var column column
		err := rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk)
		if err != nil {
			return nil, fmt.Errorf("error getting the column information: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// buildTable creates a given destination table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t Table) error {
	if _, err := h.Exec(t.createSQL()); err != nil {
		return fmt.Errorf("error building table %s in target GeoPackage: %w", t.Name, err)
	}

	err := h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.Name,
		ShortName:     t.Name,
		Description:   t.Name,
		GeometryField: t.gcolumn,
		GeometryType:  t.gtype,
		SRS:           int32(t.srs.ID),
		//
		Z: gpkg.Prohibited,
		M: gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table %s in target GeoPackage: %w", t.Name, err)
	}
	return nil
}
