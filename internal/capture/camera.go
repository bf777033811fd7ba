// Package capture provides frame sources and motion analysis using GoCV
// (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a source that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// ErrEndOfStream is returned by file sources once every frame was read. It
// wraps io.EOF.
var ErrEndOfStream = fmt.Errorf("end of stream: %w", io.EOF)

// Source is a stream of BGR frames.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller closes the Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
	// FrameCount is the number of frames in a file, or -1 for live sources.
	FrameCount() int
}

// videoSource reads frames from a camera device or a video file.
type videoSource struct {
	open    func() (*gocv.VideoCapture, error)
	size    image.Point
	live    bool
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
	count   int
}

// NewCamera creates a Source for the camera with the given device ID.
// A zero size selects DefaultWidth x DefaultHeight.
func NewCamera(deviceID int, size image.Point) Source {
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(DefaultWidth, DefaultHeight)
	}
	return &videoSource{
		open: func() (*gocv.VideoCapture, error) { return gocv.OpenVideoCapture(deviceID) },
		size: size,
		live: true,
		fps:  DefaultFPS,
	}
}

// NewVideoFile creates a Source reading the video at path. Its FPS is taken
// from the file once opened.
func NewVideoFile(path string) Source {
	return &videoSource{
		open: func() (*gocv.VideoCapture, error) { return gocv.VideoCaptureFile(path) },
		fps:  DefaultFPS,
	}
}

// Open opens the device or file.
func (c *videoSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := c.open()
	if err != nil {
		return err
	}

	if c.live {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.size.X))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.size.Y))
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
		c.count = -1
	} else {
		if fps := int(capture.Get(gocv.VideoCaptureFPS)); fps > 0 {
			c.fps = fps
		}
		c.count = int(capture.Get(gocv.VideoCaptureFrameCount))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *videoSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
// The caller is responsible for closing the returned Mat.
func (c *videoSource) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if !c.live {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		if !c.live {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *videoSource) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && c.live {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *videoSource) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the source is currently open.
func (c *videoSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// FrameCount returns the file length in frames, or -1 for cameras and
// sources not yet opened.
func (c *videoSource) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return -1
	}
	return c.count
}
