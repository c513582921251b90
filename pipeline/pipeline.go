// Package pipeline filters a dataset down to the polygon features that have holes
// and writes those to a new dataset of the same format.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/yadda07/holesdetection/holes"
	"github.com/yadda07/holesdetection/processing"
	"github.com/yadda07/holesdetection/processing/gpkg"
)

var (
	// ErrInput is returned when the input dataset is missing, unsupported or cannot be read
	ErrInput = errors.New("input error")
	// ErrOutput is returned when the output dataset cannot be written
	ErrOutput = errors.New("output error")
)

// OutputName is the file name, without extension, of the output written into a directory
const OutputName = "with_holes"

// Options tune a single Process run
type Options struct {
	// Overwrite an existing output dataset
	Overwrite bool
	// PageSize is the number of features written per transaction, for formats that use them
	PageSize int
	// Progress is called after every evaluated feature with the number of features
	// evaluated so far and the total of the layer, -1 when unknown
	Progress func(layer string, done, total int)
}

// DefaultOptions overwrite an existing output and write GeoPackages in pages of gpkg.DefaultPageSize
func DefaultOptions() Options {
	return Options{Overwrite: true, PageSize: gpkg.DefaultPageSize}
}

type driver interface {
	name() string
	// filter writes the features with holes of every layer of input to output
	filter(ctx context.Context, input, output string, opts Options, summary Summary) error
	// files lists the existing files that make up the dataset at path
	files(path string) []string
	remove(path string) error
}

var drivers = map[string]driver{
	".shp":     shapefileDriver{},
	".gpkg":    geopackageDriver{},
	".geojson": geojsonDriver{},
	".json":    geojsonDriver{},
}

// SupportedExtensions lists the file extensions Process can read and write
func SupportedExtensions() []string {
	extensions := maps.Keys(drivers)
	slices.Sort(extensions)
	return extensions
}

func driverFor(path string) (driver, bool) {
	d, ok := drivers[strings.ToLower(filepath.Ext(path))]
	return d, ok
}

// Process reads every layer of input, keeps the polygon and multipolygon features that
// have at least one hole and writes them, in their original order and with their
// attributes, to output. Output has the same format as input.
// When processing fails the partially written output is removed.
func Process(ctx context.Context, input, output string, opts Options) (Summary, error) {
	summary := newSummary()

	in, ok := driverFor(input)
	if !ok {
		return summary, fmt.Errorf("%w: %s: unsupported format, expected one of %s",
			ErrInput, input, strings.Join(SupportedExtensions(), " "))
	}
	out, ok := driverFor(output)
	if !ok {
		return summary, fmt.Errorf("%w: %s: unsupported format, expected one of %s",
			ErrOutput, output, strings.Join(SupportedExtensions(), " "))
	}
	if in.name() != out.name() {
		return summary, fmt.Errorf("%w: %s must be a %s like the input", ErrOutput, output, in.name())
	}
	if samePath(input, output) || sameDataset(in, input, output) {
		return summary, fmt.Errorf("%w: %s is also the input", ErrOutput, output)
	}
	if _, err := os.Stat(input); err != nil {
		return summary, fmt.Errorf("%w: %w", ErrInput, err)
	}
	if len(in.files(output)) > 0 {
		if !opts.Overwrite {
			return summary, fmt.Errorf("%w: %s already exists", ErrOutput, output)
		}
		if err := in.remove(output); err != nil {
			return summary, fmt.Errorf("%w: could not remove %s: %w", ErrOutput, output, err)
		}
	}

	log.Info().Msgf("=== start filtering %s ===", input)
	if err := in.filter(ctx, input, output, opts, summary); err != nil {
		if rmErr := in.remove(output); rmErr != nil {
			log.Warn().Err(rmErr).Msgf("could not remove incomplete output %s", output)
		}
		return summary, err
	}
	total := summary.Total()
	log.Info().Msgf("=== done filtering, kept %d of %d features ===", total.Kept, total.Read)
	return summary, nil
}

// sameDataset reports whether a file of the dataset at output is a file of the dataset
// at input, e.g. parcels.SHP resolving to the files of parcels.shp
func sameDataset(d driver, input, output string) bool {
	inputFiles := d.files(input)
	for _, o := range d.files(output) {
		oInfo, err := os.Stat(o)
		if err != nil {
			continue
		}
		for _, i := range inputFiles {
			if iInfo, err := os.Stat(i); err == nil && os.SameFile(iInfo, oInfo) {
				return true
			}
		}
	}
	return false
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// filterLayer runs the hole filter over a single layer
func filterLayer(ctx context.Context, layer string, source processing.Source, target processing.Target,
	opts Options, summary Summary) error {
	log.Info().Msgf("  filtering %s", layer)
	var progress processing.ProgressFunc
	if opts.Progress != nil {
		progress = func(done, total int) {
			opts.Progress(layer, done, total)
		}
	}
	stats, err := holes.Filter(ctx, inputSource{source}, outputTarget{target}, progress)
	if err != nil {
		return err
	}
	summary.add(layer, stats)
	log.Info().Msgf("  finished %s", layer)
	return nil
}

// inputSource marks the errors of a source as input errors
type inputSource struct {
	processing.Source
}

func (s inputSource) ReadFeatures(ctx context.Context, features chan<- processing.Feature) error {
	return classify(ErrInput, s.Source.ReadFeatures(ctx, features))
}

func (s inputSource) Count() (int, error) {
	counter, ok := s.Source.(processing.Counter)
	if !ok {
		return -1, nil
	}
	n, err := counter.Count()
	return n, classify(ErrInput, err)
}

// outputTarget marks the errors of a target as output errors
type outputTarget struct {
	processing.Target
}

func (t outputTarget) WriteFeatures(ctx context.Context, features <-chan processing.Feature) error {
	return classify(ErrOutput, t.Target.WriteFeatures(ctx, features))
}

func classify(kind error, err error) error {
	if err == nil ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrInput) || errors.Is(err, ErrOutput) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// removeFile removes a file, a file that does not exist is not an error
func removeFile(path string) error {
	err := os.Remove(path)
	var pathError *os.PathError
	if err != nil && !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
		return err
	}
	return nil
}

// existingFiles filters paths down to the ones that exist
func existingFiles(paths ...string) []string {
	var files []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	return files
}
