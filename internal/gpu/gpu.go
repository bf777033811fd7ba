// Package gpu defines the filter graph contract between the face finder and
// a rendering backend. Stages are created from tagged specs and share one
// uniform interface so the graph can be built and torn down generically.
package gpu

import (
	"errors"
	"fmt"
	"image"

	"github.com/ayusman/facefinder/internal/vision"
)

// Texture is an opaque handle to a backend texture. Zero means no texture.
type Texture uint32

// Context is an opaque handle to the native rendering context the backend
// must share.
type Context uintptr

// ErrUnknownTexture is returned when a stage is fed a handle the backend
// does not own.
var ErrUnknownTexture = errors.New("unknown texture")

// StageKind identifies a filter in the graph.
type StageKind int

// Stage kinds, in graph construction order.
const (
	StageACF StageKind = iota
	StageFIFO
	StageBlob
	StageEyeEnhancer
	StagePolar
	StageFlow
	StageSwizzle
	StageTransform
	StagePainter
)

var stageNames = map[StageKind]string{
	StageACF:         "acf",
	StageFIFO:        "fifo",
	StageBlob:        "blob",
	StageEyeEnhancer: "eye-enhancer",
	StagePolar:       "polar",
	StageFlow:        "flow",
	StageSwizzle:     "swizzle",
	StageTransform:   "transform",
	StagePainter:     "painter",
}

func (k StageKind) String() string {
	if s, ok := stageNames[k]; ok {
		return s
	}
	return fmt.Sprintf("stage(%d)", int(k))
}

// StageSpec is the tagged construction record for a stage. Only the fields
// relevant to Kind are read.
type StageSpec struct {
	Kind StageKind
	// Size is the input size the stage is built for.
	Size image.Point
	// OutSize is the output size for stages that resample.
	OutSize image.Point
	// Shrink is the ACF cell size.
	Shrink int
	// Depth is the FIFO history length.
	Depth int
	// Rotation is the transform rotation in degrees (0, 90, 180, 270).
	Rotation int
	// Eye selects the half of the eye-pair texture a polar stage unwraps.
	Eye int
	// Threshold is the blob stage change threshold in percent of pixels.
	Threshold float64
}

// Aux carries per-frame side inputs to a stage.
type Aux struct {
	// Scales is the pyramid scale ladder for the ACF stage.
	Scales []float64
	// Regions are the eye boxes for the eye enhancer.
	Regions []vision.Rect
	// Overlay is drawn by the painter.
	Overlay *Overlay
	// Brightness multiplies painter output intensity.
	Brightness float64
}

// Readback is CPU-visible data read from a stage after Process.
type Readback struct {
	Pyramid *vision.Pyramid
	Regions []vision.Rect
	Image   image.Image
	Flow    []vision.FlowVector
}

// Stage is a single filter in the graph.
type Stage interface {
	Kind() StageKind
	// Process runs the stage on in and returns the stage output texture.
	Process(in Texture, aux Aux) (Texture, error)
	// Read returns CPU-visible results of the last Process call.
	Read() (Readback, error)
	Close() error
}

// Backend creates stages inside a bound rendering context.
type Backend interface {
	Bind(ctx Context) error
	NewStage(spec StageSpec) (Stage, error)
}
