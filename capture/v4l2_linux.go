//go:build linux

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"camviz/frame"
)

// Run streams frames until ctx is done or the device stops.
func (v *V4L2) Run(ctx context.Context) error {
	dev, err := device.Open(v.path,
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(v.width),
			Height:      uint32(v.height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(v.fps)),
	)
	if err != nil {
		return fmt.Errorf("failed to open v4l2 device %s: %w", v.path, err)
	}
	defer dev.Close()

	// the driver may settle on another size than requested
	width, height := v.width, v.height
	if pix, err := dev.GetPixFormat(); err == nil {
		width, height = int(pix.Width), int(pix.Height)
	}

	if err := dev.Start(ctx); err != nil {
		return fmt.Errorf("failed to start streaming %s: %w", v.path, err)
	}
	log.Info().
		Str("component", "capture").
		Str("source", v.name).
		Str("device", v.path).
		Int("width", width).
		Int("height", height).
		Msg("V4L2 streaming started")

	out := dev.GetOutput()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-out:
			if !ok {
				return nil
			}
			if len(data) == 0 {
				continue
			}
			pixels := make([]byte, len(data))
			copy(pixels, data)
			v.pub.Publish(v.name, &frame.Buffer{
				Width:      width,
				Height:     height,
				Depth:      3,
				Compressed: true,
				Pixels:     pixels,
				Timestamp:  time.Now(),
			})
		}
	}
}
