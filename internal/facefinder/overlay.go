package facefinder

import (
	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// buildOverlay converts a scene into painter primitives.
func buildOverlay(scene *Scene, flow []vision.FlowVector) *gpu.Overlay {
	o := &gpu.Overlay{Vectors: flow}
	if scene == nil {
		return o
	}

	for i := range scene.Faces {
		f := &scene.Faces[i]
		style := gpu.BoxFace
		if f.BlobDerived {
			style = gpu.BoxBlob
		}
		o.Boxes = append(o.Boxes, gpu.Box{Rect: f.Region, Style: style})

		if f.Shape != nil {
			o.Points = append(o.Points, f.Shape.Points...)
			for eye := 0; eye < 2; eye++ {
				o.Boxes = append(o.Boxes, gpu.Box{Rect: f.Shape.EyeRegion(eye), Style: gpu.BoxEye})
			}
		}
		if f.Eyes != nil {
			for _, e := range f.Eyes {
				if e.Found {
					o.Circles = append(o.Circles, gpu.Circle{Center: e.Center, Radius: e.IrisRadius})
				}
			}
		}
	}

	for _, g := range scene.Gaze {
		o.Circles = append(o.Circles, gpu.Circle{Center: g.Point, Radius: g.Radius})
	}
	return o
}
