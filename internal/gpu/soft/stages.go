package soft

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/acf"
	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// acfStage computes the channel pyramid of its input. The output texture
// is the input passed through.
type acfStage struct {
	stageBase
	pyramid *vision.Pyramid
}

func (s *acfStage) Process(in gpu.Texture, aux gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}
	p, err := acf.ComputeMat(m, aux.Scales, s.spec.Shrink)
	if err != nil {
		return 0, err
	}
	s.pyramid = p
	return in, nil
}

func (s *acfStage) Read() (gpu.Readback, error) {
	if s.pyramid == nil {
		return gpu.Readback{}, fmt.Errorf("acf: nothing processed")
	}
	return gpu.Readback{Pyramid: s.pyramid}, nil
}

// fifoStage delays frames by Depth. While the history fills, the oldest
// frame held is returned.
type fifoStage struct {
	stageBase
	history []gocv.Mat
}

func (s *fifoStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}
	s.history = append(s.history, m.Clone())
	if len(s.history) > s.spec.Depth+1 {
		s.history[0].Close()
		s.history = s.history[1:]
	}
	return s.emit(s.history[0].Clone()), nil
}

func (s *fifoStage) Close() error {
	for _, m := range s.history {
		m.Close()
	}
	s.history = nil
	return s.stageBase.Close()
}

// transformStage rotates the input into the upright frame.
type transformStage struct {
	stageBase
}

func (s *transformStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}
	out := gocv.NewMat()
	switch s.spec.Rotation {
	case 90:
		gocv.Rotate(m, &out, gocv.Rotate90Clockwise)
	case 180:
		gocv.Rotate(m, &out, gocv.Rotate180Clockwise)
	case 270:
		gocv.Rotate(m, &out, gocv.Rotate90CounterClockwise)
	default:
		m.CopyTo(&out)
	}
	return s.emit(out), nil
}

func (s *transformStage) Read() (gpu.Readback, error) {
	img, err := s.backend.Download(s.out)
	if err != nil {
		return gpu.Readback{}, err
	}
	return gpu.Readback{Image: img}, nil
}

var (
	faceColor  = color.RGBA{0, 255, 0, 0}
	blobColor  = color.RGBA{0, 165, 255, 0}
	eyeColor   = color.RGBA{255, 255, 0, 0}
	pointColor = color.RGBA{0, 0, 255, 0}
	irisColor  = color.RGBA{0, 255, 255, 0}
	flowColor  = color.RGBA{255, 0, 255, 0}
)

// flowScale stretches flow vectors so small motions stay visible.
const flowScale = 4

// painterStage draws the overlay on a copy of the display frame and applies
// the brightness multiplier.
type painterStage struct {
	stageBase
}

func (s *painterStage) Process(in gpu.Texture, aux gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	out := gocv.NewMat()
	if aux.Brightness != 1 {
		m.ConvertToWithParams(&out, m.Type(), float32(aux.Brightness), 0)
	} else {
		m.CopyTo(&out)
	}

	if o := aux.Overlay; !o.Empty() {
		draw(&out, o)
	}
	return s.emit(out), nil
}

func draw(m *gocv.Mat, o *gpu.Overlay) {
	for _, b := range o.Boxes {
		c := faceColor
		switch b.Style {
		case gpu.BoxBlob:
			c = blobColor
		case gpu.BoxEye:
			c = eyeColor
		}
		gocv.Rectangle(m, b.Rect.Image(image.Rect(0, 0, m.Cols(), m.Rows())), c, 2)
	}
	for _, p := range o.Points {
		gocv.Circle(m, pt(p), 2, pointColor, -1)
	}
	for _, c := range o.Circles {
		gocv.Circle(m, pt(c.Center), int(math.Round(c.Radius)), irisColor, 1)
	}
	for _, v := range o.Vectors {
		gocv.ArrowedLine(m, pt(v.Origin), pt(v.Origin.Add(v.Delta.Scale(flowScale))), flowColor, 1)
	}
}

func pt(p vision.Point) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}
