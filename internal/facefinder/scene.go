package facefinder

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// Frame is one camera frame. Texture is consumed by the GPU graph; Image is
// the CPU pixel buffer used by the CPU pyramid path and regression when no
// rotation is configured.
type Frame struct {
	Texture   gpu.Texture
	Image     image.Image
	Timestamp time.Time
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	if f.Image == nil {
		return image.Point{}
	}
	return f.Image.Bounds().Size()
}

// Face is one tracked face in a scene.
type Face struct {
	Region      vision.Rect         `json:"region" msgpack:"region"`
	Score       float64             `json:"score" msgpack:"score"`
	Distance    float64             `json:"distance" msgpack:"distance"`
	BlobDerived bool                `json:"blob_derived" msgpack:"blob_derived"`
	Shape       *vision.Shape       `json:"shape,omitempty" msgpack:"shape,omitempty"`
	Eyes        *[2]vision.EyeModel `json:"eyes,omitempty" msgpack:"eyes,omitempty"`
	// Image is a face crop attached when a monitor requested a capture.
	Image image.Image `json:"-" msgpack:"-"`
}

// Position returns the face center in camera space.
func (f *Face) Position() vision.Point3 {
	c := f.Region.Center()
	return vision.Point3{X: c.X, Y: c.Y, Z: f.Distance}
}

// Motion is the face and eye motion estimated for a scene.
type Motion struct {
	Face  vision.Point3       `json:"face" msgpack:"face"`
	Eyes  vision.Point        `json:"eyes" msgpack:"eyes"`
	Field []vision.FlowVector `json:"field,omitempty" msgpack:"field,omitempty"`
}

// Scene is the result of one detection cycle. Scenes are immutable once
// published.
type Scene struct {
	ID        uuid.UUID             `json:"id" msgpack:"id"`
	Timestamp time.Time             `json:"timestamp" msgpack:"timestamp"`
	Faces     []Face                `json:"faces" msgpack:"faces"`
	Motion    *Motion               `json:"motion,omitempty" msgpack:"motion,omitempty"`
	Gaze      []vision.FeaturePoint `json:"gaze,omitempty" msgpack:"gaze,omitempty"`
	// Regressed is set when landmark regression ran for this scene.
	Regressed bool `json:"regressed" msgpack:"regressed"`
	// Failed is set when the cycle failed and the scene was emptied.
	Failed bool `json:"failed,omitempty" msgpack:"failed,omitempty"`
}

// Empty reports whether the scene has no faces.
func (s *Scene) Empty() bool { return s == nil || len(s.Faces) == 0 }

// BlobDerived reports whether any face came from the blob fallback.
func (s *Scene) BlobDerived() bool {
	for i := range s.Faces {
		if s.Faces[i].BlobDerived {
			return true
		}
	}
	return false
}

// Largest returns the face with the largest region, or nil.
func (s *Scene) Largest() *Face {
	var best *Face
	for i := range s.Faces {
		if best == nil || s.Faces[i].Region.Area() > best.Region.Area() {
			best = &s.Faces[i]
		}
	}
	return best
}

func emptyScene(ts time.Time, failed bool) *Scene {
	return &Scene{ID: uuid.New(), Timestamp: ts, Failed: failed}
}
