package capture

// Default V4L2 capture format.
const (
	DefaultV4L2Width  = 1280
	DefaultV4L2Height = 720
	DefaultV4L2FPS    = 30
)

// V4L2 captures MJPEG frames straight from a video4linux device and
// publishes them compressed; decoding happens in the processing loop.
type V4L2 struct {
	name   string
	path   string
	pub    Publisher
	width  int
	height int
	fps    int
}

// NewV4L2 returns a source reading the device at path.
func NewV4L2(name, path string, pub Publisher) *V4L2 {
	return &V4L2{
		name:   name,
		path:   path,
		pub:    pub,
		width:  DefaultV4L2Width,
		height: DefaultV4L2Height,
		fps:    DefaultV4L2FPS,
	}
}

// Name implements Source.
func (v *V4L2) Name() string { return v.name }

// Path returns the device path.
func (v *V4L2) Path() string { return v.path }
