package pipeline

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/yadda07/holesdetection/mapslicehelp"
	"github.com/yadda07/holesdetection/processing"
)

// Summary holds the counts of every processed layer, in the order of the input
type Summary struct {
	layers *orderedmap.OrderedMap[string, processing.Stats]
}

func newSummary() Summary {
	return Summary{layers: orderedmap.New[string, processing.Stats]()}
}

func (s Summary) add(layer string, stats processing.Stats) {
	if previous, ok := s.layers.Get(layer); ok {
		stats = previous.Add(stats)
	}
	s.layers.Set(layer, stats)
}

// Layers returns the names of the processed layers
func (s Summary) Layers() []string {
	if s.layers == nil {
		return nil
	}
	return mapslicehelp.OrderedMapKeys(s.layers)
}

func (s Summary) Layer(name string) (processing.Stats, bool) {
	if s.layers == nil {
		return processing.Stats{}, false
	}
	return s.layers.Get(name)
}

// Total sums the counts of all layers
func (s Summary) Total() processing.Stats {
	var total processing.Stats
	if s.layers == nil {
		return total
	}
	for pair := s.layers.Oldest(); pair != nil; pair = pair.Next() {
		total = total.Add(pair.Value)
	}
	return total
}

func (s Summary) String() string {
	var b strings.Builder
	for _, layer := range s.Layers() {
		stats, _ := s.Layer(layer)
		fmt.Fprintf(&b, "%s: kept %d of %d features\n", layer, stats.Kept, stats.Read)
	}
	total := s.Total()
	fmt.Fprintf(&b, "%d features with holes", total.Kept)
	return b.String()
}
