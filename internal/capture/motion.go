package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
	// DilateSize joins nearby changed pixels into one region
	DilateSize = 9
	// MinRegionFraction drops regions smaller than this share of the frame
	MinRegionFraction = 0.005
)

// Motion is the result of comparing a frame with its predecessor.
type Motion struct {
	// Detected is true when Percent exceeds the detector threshold.
	Detected bool
	// Percent is the share of pixels that changed, 0-100.
	Percent float64
	// Regions bounds each connected moving area. It is only filled when
	// Detected is true.
	Regions []image.Rectangle
}

// MotionDetector finds moving regions between consecutive video frames
// using frame differencing with Gaussian blur for noise reduction. The
// face finder uses it as the blob fallback and the app uses it to switch
// between idle and active capture rates.
type MotionDetector struct {
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// NewMotionDetector creates a new MotionDetector with the given threshold.
// The threshold is the percentage of pixels that must change to detect motion.
// For example, a threshold of 1.0 means 1% of pixels must change.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect analyzes a frame for motion compared to the previous frame.
//
// Algorithm:
// 1. Convert frame to grayscale and blur it (21x21)
// 2. If first frame, store as baseline and report no motion
// 3. Threshold the absolute difference with the previous frame
// 4. Changed pixels / total pixels = Percent
// 5. Above the threshold, dilate the mask and bound its contours
func (m *MotionDetector) Detect(frame *gocv.Mat) Motion {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return Motion{}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	if !m.initialized || m.prevGray.Rows() != blurred.Rows() || m.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return Motion{}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)
	blurred.CopyTo(&m.prevGray)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	total := thresh.Rows() * thresh.Cols()
	res := Motion{Percent: float64(gocv.CountNonZero(thresh)) / float64(total) * 100.0}
	if res.Percent <= m.threshold {
		return res
	}
	res.Detected = true

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(DilateSize, DilateSize))
	defer kernel.Close()
	gocv.Dilate(thresh, &thresh, kernel)
	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	minArea := int(float64(total) * MinRegionFraction)
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if r.Dx()*r.Dy() >= minArea {
			res.Regions = append(res.Regions, r)
		}
	}
	return res
}

// Reset clears the motion detector state, allowing it to be reused
// with a new baseline frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// Close releases resources used by the motion detector.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// SetThreshold sets the motion detection threshold.
// Values less than or equal to 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}
