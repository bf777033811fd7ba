package soft

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// eyeStage crops both eye regions, equalizes them and packs them side by
// side into one OutSize image: left eye first.
type eyeStage struct {
	stageBase
}

func (s *eyeStage) Process(in gpu.Texture, aux gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	half := image.Pt(s.spec.OutSize.X/2, s.spec.OutSize.Y)
	bounds := image.Rect(0, 0, m.Cols(), m.Rows())

	var crops [2]gocv.Mat
	for i := range crops {
		var r image.Rectangle
		if i < len(aux.Regions) {
			r = aux.Regions[i].Image(bounds)
		}
		crops[i] = enhance(m, r, half)
		defer crops[i].Close()
	}

	out := gocv.NewMat()
	gocv.Hconcat(crops[0], crops[1], &out)
	return s.emit(out), nil
}

// enhance returns r of m resized to size with its histogram equalized. An
// empty region yields a black image.
func enhance(m gocv.Mat, r image.Rectangle, size image.Point) gocv.Mat {
	if r.Empty() {
		return gocv.Zeros(size.Y, size.X, m.Type())
	}

	roi := m.Region(r)
	defer roi.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, size, 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	out := gocv.NewMat()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)
	return out
}

func (s *eyeStage) Read() (gpu.Readback, error) {
	img, err := s.backend.Download(s.out)
	if err != nil {
		return gpu.Readback{}, err
	}
	return gpu.Readback{Image: img}, nil
}

// polarStage unwraps one half of the eye pair around its center so the
// iris boundary becomes a vertical edge.
type polarStage struct {
	stageBase
}

func (s *polarStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	w := m.Cols() / 2
	r := image.Rect(0, 0, w, m.Rows())
	if s.spec.Eye == vision.RightEye {
		r = image.Rect(w, 0, 2*w, m.Rows())
	}
	eye := m.Region(r)
	defer eye.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(eye, &gray, gocv.ColorBGRToGray)

	radius := float64(min(w, m.Rows())) / 2
	polar := gocv.NewMat()
	defer polar.Close()
	gocv.LinearPolar(gray, &polar, image.Pt(w/2, m.Rows()/2), radius, gocv.InterpolationLinear)

	out := gocv.NewMat()
	gocv.Resize(polar, &out, s.spec.OutSize, 0, 0, gocv.InterpolationLinear)
	return s.emit(out), nil
}

func (s *polarStage) Read() (gpu.Readback, error) {
	img, err := s.backend.Download(s.out)
	if err != nil {
		return gpu.Readback{}, err
	}
	return gpu.Readback{Image: img}, nil
}

// FlowGrid is the spacing in pixels of the sampled flow vectors.
const FlowGrid = 16

// flowStage computes dense Farneback flow between consecutive eye pairs
// and samples it on a grid.
type flowStage struct {
	stageBase
	prev    gocv.Mat
	vectors []vision.FlowVector
}

func newFlowStage(base stageBase) *flowStage {
	return &flowStage{stageBase: base, prev: gocv.NewMat()}
}

func (s *flowStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)

	flow := gocv.NewMat()
	if s.prev.Empty() || s.prev.Rows() != gray.Rows() || s.prev.Cols() != gray.Cols() {
		flow.Close()
		flow = gocv.Zeros(gray.Rows(), gray.Cols(), gocv.MatTypeCV32FC2)
		s.vectors = nil
	} else {
		gocv.CalcOpticalFlowFarneback(s.prev, gray, &flow, 0.5, 3, 15, 3, 5, 1.2, 0)
		s.vectors = sampleFlow(flow, FlowGrid)
	}
	gray.CopyTo(&s.prev)
	return s.emit(flow), nil
}

func sampleFlow(flow gocv.Mat, step int) []vision.FlowVector {
	var out []vision.FlowVector
	for y := step / 2; y < flow.Rows(); y += step {
		for x := step / 2; x < flow.Cols(); x += step {
			v := flow.GetVecfAt(y, x)
			out = append(out, vision.FlowVector{
				Origin: vision.Point{X: float64(x), Y: float64(y)},
				Delta:  vision.Point{X: float64(v[0]), Y: float64(v[1])},
			})
		}
	}
	return out
}

func (s *flowStage) Read() (gpu.Readback, error) {
	out := make([]vision.FlowVector, len(s.vectors))
	copy(out, s.vectors)
	return gpu.Readback{Flow: out}, nil
}

func (s *flowStage) Close() error {
	s.prev.Close()
	return s.stageBase.Close()
}

var errNotFlow = errors.New("swizzle: input is not a two channel flow field")

// swizzleStage packs a two channel flow field into a displayable BGR
// image: dx in blue, dy in green, centered on mid gray.
type swizzleStage struct {
	stageBase
}

func (s *swizzleStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	planes := gocv.Split(m)
	defer func() {
		for _, p := range planes {
			p.Close()
		}
	}()
	if len(planes) != 2 {
		return 0, errNotFlow
	}
	zero := gocv.Zeros(m.Rows(), m.Cols(), gocv.MatTypeCV32F)
	defer zero.Close()

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], zero}, &merged)

	out := gocv.NewMat()
	merged.ConvertToWithParams(&out, gocv.MatTypeCV8UC3, 8, 128)
	return s.emit(out), nil
}
