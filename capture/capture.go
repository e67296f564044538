// Package capture feeds frames from cameras into the frame mailbox the
// processing loop reads from.
package capture

import (
	"context"
	"errors"

	"camviz/config"
	"camviz/frame"
)

// ErrV4L2Unsupported is returned by V4L2 sources on platforms without V4L2.
var ErrV4L2Unsupported = errors.New("v4l2 capture is only available on linux")

// Publisher receives captured frames.
type Publisher interface {
	Publish(stream string, b *frame.Buffer)
}

// Source produces frames until its context is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// New returns the capture source described by src.
func New(src config.Source, pub Publisher) Source {
	if src.IsV4L2() {
		return NewV4L2(src.Name, src.DevicePath(), pub)
	}
	return NewDevice(src.Name, src.URI, pub)
}
