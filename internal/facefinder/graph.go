package facefinder

import (
	"errors"
	"fmt"
	"image"

	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// graphConfig fixes which stages exist. Stages for features disabled at
// build time are never created; toggling them on later has no effect.
type graphConfig struct {
	Orientation   int
	FrameDelay    int
	Shrink        int
	EyeSize       image.Point
	BlobThreshold float64
	Blobs         bool
	Iris          bool
	Flow          bool
}

// graph owns the GPU filter stages. It is built lazily from the first
// frame and is only ever touched by the render goroutine.
type graph struct {
	backend gpu.Backend
	cfg     graphConfig

	built bool
	err   error
	size  image.Point
	up    image.Point

	stages    []gpu.Stage
	transform gpu.Stage
	acf       gpu.Stage
	fifo      gpu.Stage
	blob      gpu.Stage
	eyes      gpu.Stage
	polar     [2]gpu.Stage
	flow      gpu.Stage
	swizzle   gpu.Stage
	painter   gpu.Stage
}

func newGraph(backend gpu.Backend, cfg graphConfig) *graph {
	return &graph{backend: backend, cfg: cfg}
}

// specs lists the stages to build in dependency order.
func (g *graph) specs(size, up image.Point) []gpu.StageSpec {
	c := g.cfg
	specs := []gpu.StageSpec{{Kind: gpu.StageACF, Size: up, Shrink: c.Shrink}}
	if c.FrameDelay > 0 {
		specs = append(specs, gpu.StageSpec{Kind: gpu.StageFIFO, Size: up, Depth: c.FrameDelay})
	}
	if c.Blobs {
		specs = append(specs, gpu.StageSpec{Kind: gpu.StageBlob, Size: up, Threshold: c.BlobThreshold})
	}
	if c.Iris || c.Flow {
		specs = append(specs, gpu.StageSpec{Kind: gpu.StageEyeEnhancer, Size: up, OutSize: c.EyeSize})
	}
	if c.Iris {
		half := image.Pt(c.EyeSize.X/2, c.EyeSize.Y)
		for eye := 0; eye < 2; eye++ {
			specs = append(specs, gpu.StageSpec{Kind: gpu.StagePolar, Size: c.EyeSize, OutSize: half, Eye: eye})
		}
	}
	if c.Flow {
		specs = append(specs,
			gpu.StageSpec{Kind: gpu.StageFlow, Size: c.EyeSize},
			gpu.StageSpec{Kind: gpu.StageSwizzle, Size: c.EyeSize},
		)
	}
	specs = append(specs,
		gpu.StageSpec{Kind: gpu.StageTransform, Size: size, OutSize: up, Rotation: c.Orientation},
		gpu.StageSpec{Kind: gpu.StagePainter, Size: up},
	)
	return specs
}

// initialize builds every stage for frames of size. It is idempotent: later
// calls return the outcome of the first. A failed build releases whatever
// was created and leaves the graph unusable.
func (g *graph) initialize(size image.Point) error {
	if g.built {
		return g.err
	}
	g.built = true
	g.size = size
	g.up = upSize(size, g.cfg.Orientation)

	for _, spec := range g.specs(size, g.up) {
		st, err := g.backend.NewStage(spec)
		if err != nil {
			g.err = fmt.Errorf("%w: %s stage: %v", ErrGraph, spec.Kind, err)
			g.closeStages()
			return g.err
		}
		g.assign(spec, st)
	}
	return nil
}

func (g *graph) assign(spec gpu.StageSpec, st gpu.Stage) {
	g.stages = append(g.stages, st)
	switch spec.Kind {
	case gpu.StageACF:
		g.acf = st
	case gpu.StageFIFO:
		g.fifo = st
	case gpu.StageBlob:
		g.blob = st
	case gpu.StageEyeEnhancer:
		g.eyes = st
	case gpu.StagePolar:
		g.polar[spec.Eye] = st
	case gpu.StageFlow:
		g.flow = st
	case gpu.StageSwizzle:
		g.swizzle = st
	case gpu.StageTransform:
		g.transform = st
	case gpu.StagePainter:
		g.painter = st
	}
}

func (g *graph) ready() bool { return g.built && g.err == nil }

// orient rotates the input into the upright frame.
func (g *graph) orient(in gpu.Texture) (gpu.Texture, error) {
	return g.transform.Process(in, gpu.Aux{})
}

// uprightImage reads back the oriented frame for CPU consumers.
func (g *graph) uprightImage() (image.Image, error) {
	rb, err := g.transform.Read()
	if err != nil {
		return nil, err
	}
	return rb.Image, nil
}

// pyramid runs the ACF stage on the upright texture and reads the result.
func (g *graph) pyramid(up gpu.Texture, scales []float64) (*vision.Pyramid, error) {
	if _, err := g.acf.Process(up, gpu.Aux{Scales: scales}); err != nil {
		return nil, err
	}
	rb, err := g.acf.Read()
	if err != nil {
		return nil, err
	}
	return rb.Pyramid, nil
}

// history pushes the upright texture into the frame FIFO and returns the
// delayed texture to display.
func (g *graph) history(up gpu.Texture) (gpu.Texture, error) {
	if g.fifo == nil {
		return up, nil
	}
	return g.fifo.Process(up, gpu.Aux{})
}

// blobs feeds the blob stage every frame so it keeps its reference image
// current; regions are only read back when read is set.
func (g *graph) blobs(up gpu.Texture, read bool) ([]vision.Rect, error) {
	if g.blob == nil {
		return nil, nil
	}
	if _, err := g.blob.Process(up, gpu.Aux{}); err != nil {
		return nil, err
	}
	if !read {
		return nil, nil
	}
	rb, err := g.blob.Read()
	if err != nil {
		return nil, err
	}
	return rb.Regions, nil
}

// eyeCrops extracts the eye pair described by regions and, when polar
// stages exist, unwraps each eye. Inputs are returned for the next cycle.
func (g *graph) eyeCrops(up gpu.Texture, regions [2]vision.Rect, polar bool) ([]EyeInput, gpu.Texture, error) {
	if g.eyes == nil {
		return nil, 0, nil
	}

	eyeTex, err := g.eyes.Process(up, gpu.Aux{Regions: regions[:]})
	if err != nil {
		return nil, 0, err
	}
	if !polar || g.polar[0] == nil {
		return nil, eyeTex, nil
	}

	rb, err := g.eyes.Read()
	if err != nil {
		return nil, eyeTex, err
	}
	pair := rb.Image

	inputs := make([]EyeInput, 0, 2)
	for i, st := range g.polar {
		if _, err := st.Process(eyeTex, gpu.Aux{}); err != nil {
			return nil, eyeTex, err
		}
		prb, err := st.Read()
		if err != nil {
			return nil, eyeTex, err
		}
		inputs = append(inputs, EyeInput{
			Index:  i,
			Region: regions[i],
			Crop:   halfImage(pair, i),
			Polar:  prb.Image,
		})
	}
	return inputs, eyeTex, nil
}

// halfImage returns the left or right half of an eye-pair image.
func halfImage(img image.Image, i int) image.Image {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	mid := b.Min.X + b.Dx()/2
	r := image.Rect(b.Min.X, b.Min.Y, mid, b.Max.Y)
	if i == vision.RightEye {
		r = image.Rect(mid, b.Min.Y, b.Max.X, b.Max.Y)
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r)
	}
	return img
}

// eyeFlow runs optical flow over the eye-pair texture and swizzles the
// flow field for display. Vectors come back in eye-pair pixels and are
// mapped into the frame through the crop regions.
func (g *graph) eyeFlow(eyeTex gpu.Texture, regions [2]vision.Rect) ([]vision.FlowVector, error) {
	if g.flow == nil || eyeTex == 0 {
		return nil, nil
	}
	flowTex, err := g.flow.Process(eyeTex, gpu.Aux{})
	if err != nil {
		return nil, err
	}
	rb, err := g.flow.Read()
	if err != nil {
		return nil, err
	}
	if _, err := g.swizzle.Process(flowTex, gpu.Aux{}); err != nil {
		return nil, err
	}
	return pairToFrame(rb.Flow, regions, g.cfg.EyeSize), nil
}

// pairToFrame maps vectors from the side-by-side eye-pair image to frame
// coordinates. The left half holds the left eye.
func pairToFrame(flow []vision.FlowVector, regions [2]vision.Rect, pair image.Point) []vision.FlowVector {
	half := float64(pair.X / 2)
	if half <= 0 || pair.Y <= 0 {
		return nil
	}
	out := make([]vision.FlowVector, 0, len(flow))
	for _, v := range flow {
		eye := vision.LeftEye
		local := v.Origin
		if local.X >= half {
			eye = vision.RightEye
			local.X -= half
		}
		r := regions[eye]
		sx, sy := r.Width()/half, r.Height()/float64(pair.Y)
		out = append(out, vision.FlowVector{
			Origin: vision.Point{X: r.X1 + local.X*sx, Y: r.Y1 + local.Y*sy},
			Delta:  vision.Point{X: v.Delta.X * sx, Y: v.Delta.Y * sy},
		})
	}
	return out
}

// paint draws overlay on the display texture and returns the output.
func (g *graph) paint(display gpu.Texture, overlay *gpu.Overlay, brightness float64) (gpu.Texture, error) {
	return g.painter.Process(display, gpu.Aux{Overlay: overlay, Brightness: brightness})
}

func (g *graph) closeStages() error {
	var errs []error
	for i := len(g.stages) - 1; i >= 0; i-- {
		if err := g.stages[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.stages = nil
	g.transform, g.acf, g.fifo, g.blob, g.eyes, g.flow, g.swizzle, g.painter = nil, nil, nil, nil, nil, nil, nil, nil
	g.polar = [2]gpu.Stage{}
	return errors.Join(errs...)
}

// close releases every stage in reverse build order.
func (g *graph) close() error {
	return g.closeStages()
}
