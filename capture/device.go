package capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"camviz/frame"
)

const (
	// DefaultReconnectDelay is the pause before reopening a lost capture.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultMaxEmptyReads consecutive empty frames are treated as a lost
	// capture.
	DefaultMaxEmptyReads = 100
	emptyReadDelay       = 10 * time.Millisecond
)

type frameReader interface {
	Read(m *gocv.Mat) bool
	Close() error
}

type readerOpener func(uri string) (frameReader, error)

func openVideoCapture(uri string) (frameReader, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if index, convErr := strconv.Atoi(uri); convErr == nil {
		vc, err = gocv.OpenVideoCapture(index)
	} else {
		vc, err = gocv.VideoCaptureFile(uri)
	}
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture %s did not open", uri)
	}
	// keep at most one frame queued so the loop always sees the newest
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return vc, nil
}

// Device captures through OpenVideoCapture: a device index, a video file or
// a network URL. Frames are published as raw RGB.
type Device struct {
	name           string
	uri            string
	pub            Publisher
	open           readerOpener
	reconnectDelay time.Duration
	emptyDelay     time.Duration
	maxEmptyReads  int
}

// NewDevice returns a source publishing frames of uri under name.
func NewDevice(name, uri string, pub Publisher) *Device {
	return &Device{
		name:           name,
		uri:            uri,
		pub:            pub,
		open:           openVideoCapture,
		reconnectDelay: DefaultReconnectDelay,
		emptyDelay:     emptyReadDelay,
		maxEmptyReads:  DefaultMaxEmptyReads,
	}
}

// Name implements Source.
func (d *Device) Name() string { return d.name }

// Run reads frames until ctx is done, reopening the capture whenever a read
// fails.
func (d *Device) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		r, err := d.open(d.uri)
		if err != nil {
			log.Error().Err(err).Str("component", "capture").Str("source", d.name).Str("uri", d.uri).Msg("Failed to open capture")
		} else {
			log.Info().Str("component", "capture").Str("source", d.name).Str("uri", d.uri).Msg("Capture opened")
			d.readLoop(ctx, r)
			r.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.reconnectDelay):
		}
	}
}

func (d *Device) readLoop(ctx context.Context, r frameReader) {
	img := gocv.NewMat()
	defer img.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	empty := 0
	for ctx.Err() == nil {
		if ok := r.Read(&img); !ok {
			log.Warn().Str("component", "capture").Str("source", d.name).Msg("Failed to read frame, reconnecting")
			return
		}
		if img.Empty() {
			empty++
			if empty >= d.maxEmptyReads {
				log.Warn().Str("component", "capture").Str("source", d.name).Int("empty_reads", empty).Msg("Capture returns only empty frames, reconnecting")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.emptyDelay):
			}
			continue
		}
		empty = 0
		b, err := toBuffer(img, &rgb)
		if err != nil {
			log.Debug().Err(err).Str("component", "capture").Str("source", d.name).Msg("Dropping frame")
			continue
		}
		d.pub.Publish(d.name, b)
	}
}

// toBuffer copies a captured BGR or gray Mat into a raw buffer in source
// channel order (RGB for color).
func toBuffer(img gocv.Mat, scratch *gocv.Mat) (*frame.Buffer, error) {
	b := &frame.Buffer{
		Width:     img.Cols(),
		Height:    img.Rows(),
		Timestamp: time.Now(),
	}
	switch {
	case img.Type() == gocv.MatTypeCV8UC3:
		gocv.CvtColor(img, scratch, gocv.ColorBGRToRGB)
		b.Depth = 3
		b.Pixels = scratch.ToBytes()
	case img.Type() == gocv.MatTypeCV8UC1:
		b.Depth = 1
		b.Pixels = img.ToBytes()
	default:
		return nil, fmt.Errorf("unexpected capture type %v with %d channels", img.Type(), img.Channels())
	}
	return b, nil
}
