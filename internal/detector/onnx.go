package detector

import (
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/vision"
)

var (
	ortInitialized bool
	ortMu          sync.Mutex
)

// InitializeRuntime loads the ONNX Runtime shared library. It is safe to
// call more than once.
func InitializeRuntime(libraryPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	ortInitialized = true
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if !ortInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}
	ortInitialized = false
	return nil
}

const (
	landmarkInputSize = 192
	landmarkMean      = 127.5
	landmarkStd       = 128.0
)

// LandmarkRegressor fits the 106-point landmark layout with an ONNX model
// taking a 192x192 RGB crop and returning normalized coordinates.
type LandmarkRegressor struct {
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
	closed  bool
}

// NewLandmarkRegressor opens the model at modelPath. InitializeRuntime must
// have been called first.
func NewLandmarkRegressor(modelPath string) (*LandmarkRegressor, error) {
	ortMu.Lock()
	ready := ortInitialized
	ortMu.Unlock()
	if !ready {
		return nil, errors.New("onnx runtime not initialized")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"data"}, []string{"fc1"}, options)
	if err != nil {
		return nil, fmt.Errorf("create landmark session for %s: %w", modelPath, err)
	}
	return &LandmarkRegressor{session: session}, nil
}

// Regress crops around roi and returns the landmarks in frame coordinates.
func (r *LandmarkRegressor) Regress(img image.Image, roi vision.Rect) (*vision.Shape, error) {
	if roi.Empty() {
		return nil, fmt.Errorf("empty roi")
	}
	crop := newAlignedCrop(roi, landmarkInputSize)

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()

	input, err := preprocessCrop(src, crop)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	inTensor, err := ort.NewTensor(ort.NewShape(1, 3, landmarkInputSize, landmarkInputSize), input)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inTensor.Destroy()

	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2*NumLandmarks))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer outTensor.Destroy()

	if err := r.session.Run([]ort.Value{inTensor}, []ort.Value{outTensor}); err != nil {
		return nil, fmt.Errorf("landmark inference: %w", err)
	}
	return shapeFromOutput(outTensor.GetData(), crop)
}

// Close releases the session.
func (r *LandmarkRegressor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.session.Destroy()
}

// warpCrop resamples the face box into a crop.Size square.
func warpCrop(src gocv.Mat, crop alignedCrop) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	half := float64(crop.Size) / 2
	m.SetDoubleAt(0, 0, crop.Scale)
	m.SetDoubleAt(0, 1, 0)
	m.SetDoubleAt(0, 2, half-crop.Center.X*crop.Scale)
	m.SetDoubleAt(1, 0, 0)
	m.SetDoubleAt(1, 1, crop.Scale)
	m.SetDoubleAt(1, 2, half-crop.Center.Y*crop.Scale)

	aligned := gocv.NewMat()
	gocv.WarpAffine(src, &aligned, m, image.Pt(crop.Size, crop.Size))
	return aligned
}

// preprocessCrop warps the face into the model input and returns it as a
// normalized NCHW float buffer.
func preprocessCrop(src gocv.Mat, crop alignedCrop) ([]float32, error) {
	aligned := warpCrop(src, crop)
	defer aligned.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(aligned, &rgb, gocv.ColorBGRToRGB)

	norm := gocv.NewMat()
	defer norm.Close()
	rgb.ConvertToWithParams(&norm, gocv.MatTypeCV32FC3, 1/landmarkStd, -landmarkMean/landmarkStd)

	hwc, err := norm.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read crop: %w", err)
	}
	n := crop.Size * crop.Size
	if len(hwc) != 3*n {
		return nil, fmt.Errorf("crop has %d values, want %d", len(hwc), 3*n)
	}
	out := make([]float32, 3*n)
	for i := 0; i < n; i++ {
		out[i] = hwc[3*i]
		out[n+i] = hwc[3*i+1]
		out[2*n+i] = hwc[3*i+2]
	}
	return out, nil
}

// shapeFromOutput maps model output in [-1, 1] crop space to frame points.
func shapeFromOutput(output []float32, crop alignedCrop) (*vision.Shape, error) {
	if len(output) < 2*NumLandmarks {
		return nil, fmt.Errorf("model returned %d values, want %d", len(output), 2*NumLandmarks)
	}
	half := float64(crop.Size) / 2
	points := make([]vision.Point, NumLandmarks)
	for i := range points {
		p := vision.Point{
			X: (float64(output[2*i]) + 1) * half,
			Y: (float64(output[2*i+1]) + 1) * half,
		}
		points[i] = crop.toFrame(p)
	}
	return shapeFromPoints(points)
}
