package gpkg

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yadda07/holesdetection/processing"
)

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

var (
	outer = [][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}
	hole  = [][2]float64{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}
)

var rdNew = gpkg.SpatialReferenceSystem{
	Name:                   "Amersfoort / RD New",
	ID:                     28992,
	Organization:           "EPSG",
	OrganizationCoordsysID: 28992,
	Definition:             `PROJCS["Amersfoort / RD New"]`,
	Description:            "Rijksdriehoekstelsel",
}

func parcelsTable() Table {
	return Table{
		Name: "parcels",
		columns: []column{
			{cid: 0, name: "fid", ctype: "INTEGER", pk: 1},
			{cid: 1, name: "geom", ctype: "POLYGON"},
			{cid: 2, name: "name", ctype: "TEXT"},
		},
		gcolumn: "geom",
		gtype:   gpkg.Polygon,
		srs:     rdNew,
	}
}

func send(features ...processing.Feature) <-chan processing.Feature {
	ch := make(chan processing.Feature, len(features))
	for _, f := range features {
		ch <- f
	}
	close(ch)
	return ch
}

func read(t *testing.T, source *SourceGeopackage) []processing.Feature {
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

func writeParcels(t *testing.T, file string, pagesize int, features ...processing.Feature) {
	t.Helper()
	target, err := OpenTarget(file, pagesize)
	require.NoError(t, err)
	defer target.Close()
	require.NoError(t, target.CreateTables([]Table{parcelsTable()}))
	target.Table = parcelsTable()
	require.NoError(t, target.WriteFeatures(context.Background(), send(features...)))
}

func TestRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "parcels.gpkg")
	writeParcels(t, file, 2,
		testFeature{columns: []interface{}{int64(1), "donut"}, geometry: geom.Polygon{outer, hole}},
		testFeature{columns: []interface{}{int64(2), "plain"}, geometry: geom.Polygon{outer}},
		testFeature{columns: []interface{}{int64(3), "empty"}, geometry: nil},
	)

	source, err := OpenSource(file)
	require.NoError(t, err)
	defer source.Close()

	tables, err := source.GetTableInfo()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	table := tables[0]
	assert.Equal(t, "parcels", table.Name)
	assert.Equal(t, "geom", table.gcolumn)
	assert.Equal(t, gpkg.Polygon, table.gtype)
	assert.Equal(t, rdNew.ID, table.srs.ID)
	assert.Equal(t, rdNew.Description, table.srs.Description)
	require.Len(t, table.columns, 3)
	assert.Equal(t, "name", table.columns[2].name)

	source.Table = table
	n, err := source.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	features := read(t, source)
	require.Len(t, features, 3)
	assert.Equal(t, []interface{}{int64(1), "donut"}, features[0].Columns())
	donut, ok := features[0].Geometry().(geom.Polygon)
	require.True(t, ok)
	assert.Len(t, donut, 2)
	plain, ok := features[1].Geometry().(geom.Polygon)
	require.True(t, ok)
	assert.Len(t, plain, 1)
	assert.Nil(t, features[2].Geometry())
}

func TestPassThroughKeepsBlobs(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.gpkg")
	writeParcels(t, first, DefaultPageSize,
		testFeature{columns: []interface{}{int64(7), "donut"}, geometry: geom.Polygon{outer, hole}},
	)

	source, err := OpenSource(first)
	require.NoError(t, err)
	defer source.Close()
	source.Table = parcelsTable()
	second := filepath.Join(dir, "second.gpkg")
	writeParcels(t, second, DefaultPageSize, read(t, source)...)

	blob := func(file string) []byte {
		db, err := OpenSource(file)
		require.NoError(t, err)
		defer db.Close()
		var b []byte
		require.NoError(t, db.handle.QueryRow(`SELECT geom FROM parcels WHERE fid = 7`).Scan(&b))
		return b
	}
	assert.Equal(t, blob(first), blob(second))
}

func TestDatesKeepTheirText(t *testing.T) {
	table := parcelsTable()
	table.columns = append(table.columns, column{cid: 3, name: "changed", ctype: "DATETIME"})
	dates := []string{"2024-05-01 12:00:00", "2024-05-01T12:00:00.000+02:00", "last tuesday"}

	dir := t.TempDir()
	files := []string{filepath.Join(dir, "first.gpkg"), filepath.Join(dir, "second.gpkg")}

	first, err := OpenTarget(files[0], DefaultPageSize)
	require.NoError(t, err)
	require.NoError(t, first.CreateTables([]Table{table}))
	first.Table = table
	var features []processing.Feature
	for i, d := range dates {
		features = append(features, testFeature{columns: []interface{}{int64(i + 1), "donut", d}, geometry: geom.Polygon{outer, hole}})
	}
	require.NoError(t, first.WriteFeatures(context.Background(), send(features...)))
	require.NoError(t, first.Close())

	source, err := OpenSource(files[0])
	require.NoError(t, err)
	tables, err := source.GetTableInfo()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	source.Table = tables[0]
	assert.Contains(t, source.Table.selectSQL(), `CAST("changed" AS TEXT) AS "changed"`)
	features = read(t, source)
	require.NoError(t, source.Close())
	require.Len(t, features, len(dates))
	for i, d := range dates {
		assert.Equal(t, d, features[i].Columns()[2])
	}

	second, err := OpenTarget(files[1], DefaultPageSize)
	require.NoError(t, err)
	require.NoError(t, second.CreateTables(tables))
	second.Table = tables[0]
	require.NoError(t, second.WriteFeatures(context.Background(), send(features...)))
	require.NoError(t, second.Close())

	for _, file := range files {
		h, err := gpkg.Open(file)
		require.NoError(t, err)
		rows, err := h.Query(`SELECT CAST(changed AS TEXT) FROM parcels ORDER BY fid`)
		require.NoError(t, err)
		var got []string
		for rows.Next() {
			var d string
			require.NoError(t, rows.Scan(&d))
			got = append(got, d)
		}
		require.NoError(t, rows.Err())
		rows.Close()
		h.Close()
		assert.Equal(t, dates, got, file)
	}
}

func TestUndecodableGeometryIsAbsent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "broken.gpkg")
	writeParcels(t, file, DefaultPageSize)

	source, err := OpenSource(file)
	require.NoError(t, err)
	defer source.Close()
	_, err = source.handle.Exec(`INSERT INTO parcels(fid, name, geom) VALUES (1, 'broken', ?)`, []byte("not a geometry blob at all"))
	require.NoError(t, err)

	source.Table = parcelsTable()
	features := read(t, source)
	require.Len(t, features, 1)
	assert.Nil(t, features[0].Geometry())
	assert.Equal(t, []interface{}{int64(1), "broken"}, features[0].Columns())
}

func TestOpenSourceMissing(t *testing.T) {
	file := filepath.Join(t.TempDir(), "missing.gpkg")
	_, err := OpenSource(file)
	assert.Error(t, err)
	assert.NoFileExists(t, file)
}

func TestCreateSQL(t *testing.T) {
	table := parcelsTable()
	table.columns[2].notnull = 1
	table.columns[2].dfltValue = sql.NullString{String: "'unknown'", Valid: true}

	var tests = []struct {
		table Table
		sql   string
	}{
		0: {
			table: table,
			sql:   `CREATE TABLE IF NOT EXISTS "parcels"("fid" INTEGER PRIMARY KEY, "geom" POLYGON, "name" TEXT NOT NULL DEFAULT 'unknown');`,
		},
		1: {
			table: Table{Name: `odd "name"`, columns: []column{
				{name: "b", ctype: "INTEGER", pk: 2},
				{name: "a", ctype: "INTEGER", pk: 1},
			}},
			sql: `CREATE TABLE IF NOT EXISTS "odd ""name"""("b" INTEGER, "a" INTEGER, PRIMARY KEY ("a", "b"));`,
		},
	}

	for k, test := range tests {
		got := test.table.createSQL()
		if got != test.sql {
			t.Errorf("test: %d, expected: %s \ngot: %s", k, test.sql, got)
		}
	}
}

func TestSelectAndInsertSQL(t *testing.T) {
	table := parcelsTable()
	assert.Equal(t, `SELECT "fid","geom","name" FROM "parcels" ORDER BY rowid;`, table.selectSQL())
	assert.Equal(t, `INSERT INTO "parcels"("fid","name","geom") VALUES(?,?,?)`, table.insertSQL())

	table.columns = append(table.columns,
		column{cid: 3, name: "surveyed", ctype: "date"},
		column{cid: 4, name: "changed", ctype: "TIMESTAMP"},
	)
	assert.Equal(t, `SELECT "fid","geom","name",CAST("surveyed" AS TEXT) AS "surveyed",CAST("changed" AS TEXT) AS "changed" FROM "parcels" ORDER BY rowid;`, table.selectSQL())
}

func TestGeometryTypeFromString(t *testing.T) {
	assert.Equal(t, gpkg.MultiPolygon, geometryTypeFromString("multipolygon"))
	assert.Equal(t, gpkg.Geometry, geometryTypeFromString("CURVEPOLYGON"))
}
