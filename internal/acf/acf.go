// Package acf computes aggregated channel features on the CPU with OpenCV.
// Each pyramid level carries LUV color, gradient magnitude and a gradient
// orientation histogram, block-averaged over shrink x shrink cells.
package acf

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/vision"
)

// DefaultShrink is the cell size used when none is configured.
const DefaultShrink = 4

// ErrEmptyImage is returned when there are no pixels to compute on.
var ErrEmptyImage = errors.New("acf: empty image")

// Source computes pyramids from image.Image buffers.
type Source struct {
	Shrink int
}

// NewSource returns a Source with the given cell size.
func NewSource(shrink int) *Source {
	if shrink <= 0 {
		shrink = DefaultShrink
	}
	return &Source{Shrink: shrink}
}

// Compute converts img to a Mat and builds one level per scale.
func (s *Source) Compute(img image.Image, scales []float64) (*vision.Pyramid, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("acf: convert image: %w", err)
	}
	defer mat.Close()

	return ComputeMat(mat, scales, s.Shrink)
}

// ComputeMat builds the pyramid from a BGR Mat. Scales are relative to src.
func ComputeMat(src gocv.Mat, scales []float64, shrink int) (*vision.Pyramid, error) {
	if src.Empty() {
		return nil, ErrEmptyImage
	}
	if shrink <= 0 {
		return nil, fmt.Errorf("acf: invalid shrink %d", shrink)
	}

	p := &vision.Pyramid{Channels: vision.NumChannels, Shrink: shrink}
	for _, s := range scales {
		w := int(math.Round(float64(src.Cols())*s)) / shrink * shrink
		h := int(math.Round(float64(src.Rows())*s)) / shrink * shrink
		if w < shrink || h < shrink {
			break
		}

		resized := gocv.NewMat()
		gocv.Resize(src, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		level, err := computeLevel(resized, shrink)
		resized.Close()
		if err != nil {
			return nil, fmt.Errorf("acf: scale %.3f: %w", s, err)
		}
		level.Scale = s
		p.Levels = append(p.Levels, level)
	}
	if len(p.Levels) == 0 {
		return nil, fmt.Errorf("acf: no level fits %dx%d", src.Cols(), src.Rows())
	}
	return p, nil
}

func computeLevel(bgr gocv.Mat, shrink int) (vision.Level, error) {
	w, h := bgr.Cols(), bgr.Rows()

	luv := gocv.NewMat()
	defer luv.Close()
	gocv.CvtColor(bgr, &luv, gocv.ColorBGRToLuv)

	luvF := gocv.NewMat()
	defer luvF.Close()
	luv.ConvertToWithParams(&luvF, gocv.MatTypeCV32FC3, 1.0/255, 0)

	color := gocv.Split(luvF)
	defer func() {
		for _, m := range color {
			m.Close()
		}
	}()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	grayF := gocv.NewMat()
	defer grayF.Close()
	gray.ConvertToWithParams(&grayF, gocv.MatTypeCV32F, 1.0/255, 0)

	gx, gy := gocv.NewMat(), gocv.NewMat()
	defer gx.Close()
	defer gy.Close()
	gocv.Sobel(grayF, &gx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(grayF, &gy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	mag, ang := gocv.NewMat(), gocv.NewMat()
	defer mag.Close()
	defer ang.Close()
	gocv.CartToPolar(gx, gy, &mag, &ang, false)

	full := make([][]float32, 0, vision.NumChannels)
	for _, m := range color {
		data, err := floats(m)
		if err != nil {
			return vision.Level{}, err
		}
		full = append(full, data)
	}
	magData, err := floats(mag)
	if err != nil {
		return vision.Level{}, err
	}
	angData, err := floats(ang)
	if err != nil {
		return vision.Level{}, err
	}
	full = append(full, magData)
	full = append(full, orientationHistogram(magData, angData, vision.OrientationBins)...)

	level := vision.Level{Width: w / shrink, Height: h / shrink}
	for _, plane := range full {
		level.Planes = append(level.Planes, shrinkPlane(plane, w, h, shrink))
	}
	return level, nil
}

// floats copies a single channel float Mat into a slice.
func floats(m gocv.Mat) ([]float32, error) {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// orientationHistogram splits gradient magnitude into bins by unsigned
// orientation in [0, pi).
func orientationHistogram(mag, ang []float32, bins int) [][]float32 {
	hist := make([][]float32, bins)
	for b := range hist {
		hist[b] = make([]float32, len(mag))
	}
	for i, m := range mag {
		a := math.Mod(float64(ang[i]), math.Pi)
		if a < 0 {
			a += math.Pi
		}
		b := int(a / math.Pi * float64(bins))
		if b >= bins {
			b = bins - 1
		}
		hist[b][i] = m
	}
	return hist
}

// shrinkPlane averages shrink x shrink cells of a w x h plane. Trailing
// rows and columns that do not fill a cell are dropped.
func shrinkPlane(plane []float32, w, h, shrink int) []float32 {
	ow, oh := w/shrink, h/shrink
	out := make([]float32, ow*oh)
	norm := float32(shrink * shrink)
	for y := 0; y < oh*shrink; y++ {
		row := plane[y*w:]
		dst := out[(y/shrink)*ow:]
		for x := 0; x < ow*shrink; x++ {
			dst[x/shrink] += row[x]
		}
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}
