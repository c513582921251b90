package pipeline

import (
	"context"
	"fmt"

	"github.com/yadda07/holesdetection/processing/geojson"
	"github.com/yadda07/holesdetection/processing/gpkg"
	"github.com/yadda07/holesdetection/processing/shp"
)

type shapefileDriver struct{}

func (shapefileDriver) name() string {
	return "shapefile"
}

func (shapefileDriver) filter(ctx context.Context, input, output string, opts Options, summary Summary) error {
	source, err := shp.Open(input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	defer source.Close()

	target, err := shp.Create(output, source.GeometryType(), source.Fields())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	err = filterLayer(ctx, source.Layer(), source, target, opts, summary)
	if closeErr := target.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %w", ErrOutput, closeErr)
	}
	if err != nil {
		return err
	}
	if err := shp.CopySidecars(input, output); err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	return nil
}

func (shapefileDriver) files(path string) []string {
	return shp.Files(path)
}

func (shapefileDriver) remove(path string) error {
	return shp.Remove(path)
}

type geopackageDriver struct{}

func (geopackageDriver) name() string {
	return "GeoPackage"
}

func (geopackageDriver) filter(ctx context.Context, input, output string, opts Options, summary Summary) error {
	source, err := gpkg.OpenSource(input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	defer source.Close()

	tables, err := source.GetTableInfo()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}

	target, err := gpkg.OpenTarget(output, opts.PageSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	defer target.Close()
	if err := target.CreateTables(tables); err != nil {
		return fmt.Errorf("%w: error initialization the target GeoPackage: %w", ErrOutput, err)
	}

	// Process the tables sequentially
	for _, table := range tables {
		source.Table = table
		target.Table = table
		if err := filterLayer(ctx, table.Name, source, target, opts, summary); err != nil {
			return err
		}
	}
	return nil
}

func (geopackageDriver) files(path string) []string {
	return existingFiles(path, path+"-journal", path+"-wal", path+"-shm")
}

func (geopackageDriver) remove(path string) error {
	for _, f := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := removeFile(f); err != nil {
			return err
		}
	}
	return nil
}

type geojsonDriver struct{}

func (geojsonDriver) name() string {
	return "GeoJSON"
}

func (geojsonDriver) filter(ctx context.Context, input, output string, opts Options, summary Summary) error {
	source, err := geojson.Open(input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	target := geojson.NewTarget(output, source.ForeignMembers(), nil)
	return filterLayer(ctx, source.Layer(), source, target, opts, summary)
}

func (geojsonDriver) files(path string) []string {
	return existingFiles(path)
}

func (geojsonDriver) remove(path string) error {
	return removeFile(path)
}
