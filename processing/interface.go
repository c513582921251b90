package processing

import (
	"context"

	"github.com/go-spatial/geom"
)

// Feature is a single row of a layer: a geometry and the attribute values in schema order.
type Feature interface {
	Columns() []interface{}
	Geometry() geom.Geometry
}

// Source streams the features of one layer in storage order.
// It must not close the channel.
type Source interface {
	ReadFeatures(ctx context.Context, features chan<- Feature) error
}

// Target persists the features it receives until the channel is closed.
type Target interface {
	WriteFeatures(ctx context.Context, features <-chan Feature) error
}

// Counter is implemented by sources that know their number of features up front.
type Counter interface {
	Count() (int, error)
}

// KeepFunc decides whether a feature with the given geometry is kept.
type KeepFunc func(g geom.Geometry) bool

// ProgressFunc receives the number of evaluated features and the total (-1 when unknown).
type ProgressFunc func(done, total int)
