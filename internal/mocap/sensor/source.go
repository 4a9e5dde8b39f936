// Package sensor supplies body frames to the pipeline.
package sensor

import (
	"context"
	"errors"

	"github.com/banshee-data/mocap/internal/mocap/body"
)

// ErrSourceClosed is returned by Next once a source has no more frames.
var ErrSourceClosed = errors.New("sensor: source closed")

// Source produces body frames. Next returns (nil, nil) when no new frame
// is ready yet.
type Source interface {
	Next(ctx context.Context) (*body.Frame, error)
}
