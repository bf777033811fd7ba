package facefinder

import (
	"fmt"
	"image"
	"sync"

	"github.com/ayusman/facefinder/internal/vision"
)

// adapter turns model outputs into scene faces: detection with NMS and
// admission, the blob fallback, landmark regression, iris localization and
// motion estimation. Motion and gaze state carry over between cycles.
type adapter struct {
	models Models

	mu        sync.Mutex
	prevFace  *vision.Point3
	gazeAlpha float64
	gazeMax   int
	gazeValue *vision.Point
	gazeTrail []vision.FeaturePoint
}

func newAdapter(models Models, gazeAlpha float64, gazeMax int) *adapter {
	return &adapter{models: models, gazeAlpha: gazeAlpha, gazeMax: gazeMax}
}

// detect runs the object detector, suppresses overlapping candidates either
// across all levels or within each level, and drops inadmissible ones.
func (a *adapter) detect(p *vision.Pyramid, params Params, adm admission) ([]vision.Detection, error) {
	dets, err := a.models.Detector.Detect(p)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	if params.NMSGlobal {
		dets = vision.NMS(dets, params.NMSThreshold)
	} else {
		dets = vision.NMSPerLevel(dets, params.NMSThreshold)
	}
	return adm.filter(dets), nil
}

// wantsBlobs reports whether the blob fallback applies: nothing was found,
// or some blob spans a large part of the frame.
func wantsBlobs(primary []vision.Detection, blobs []vision.Rect, frameWidth int, params Params) bool {
	if len(blobs) == 0 {
		return false
	}
	if len(primary) == 0 {
		return true
	}
	for _, b := range blobs {
		if b.Width() >= params.LargeBlobFraction*float64(frameWidth) {
			return true
		}
	}
	return false
}

// mergeBlobs adds admissible blob candidates to primary according to the
// overlap policy. Primary detections are never removed.
func mergeBlobs(primary []vision.Detection, blobs []vision.Rect, params Params, adm admission) []vision.Detection {
	out := make([]vision.Detection, len(primary), len(primary)+len(blobs))
	copy(out, primary)

	for _, b := range blobs {
		cand := vision.Detection{Rect: b, Level: -1, Blob: true}
		if !adm.IsAdmissible(cand) {
			continue
		}

		overlap := -1
		for i := range primary {
			if primary[i].Rect.IoU(b) >= params.BlobOverlapIoU {
				overlap = i
				break
			}
		}

		switch {
		case overlap < 0, params.BlobPolicy == BlobKeepBoth:
			out = append(out, cand)
		case params.BlobPolicy == BlobUnion:
			out[overlap].Rect = out[overlap].Rect.Union(b)
		}
	}
	return out
}

// faces converts candidates into faces with distance estimates.
func (a *adapter) faces(dets []vision.Detection) []Face {
	faces := make([]Face, len(dets))
	for i, d := range dets {
		faces[i] = Face{
			Region:      d.Rect,
			Score:       d.Score,
			Distance:    a.models.Sensor.DistanceFromWidth(d.Rect.Width()),
			BlobDerived: d.Blob,
		}
	}
	return faces
}

// regress fits landmarks for every face. A failed fit leaves that face
// without a shape; the error of the last failure is returned.
func (a *adapter) regress(img image.Image, faces []Face) error {
	var lastErr error
	for i := range faces {
		shape, err := a.models.Regressor.Regress(img, faces[i].Region)
		if err != nil {
			lastErr = fmt.Errorf("regress face %d: %w", i, err)
			continue
		}
		faces[i].Shape = shape
	}
	return lastErr
}

// locateEyes runs iris localization on the eye read-backs and maps the
// results into frame coordinates. Read-backs are matched to a face by
// overlap with its eye regions.
func (a *adapter) locateEyes(face *Face, eyes []EyeInput) error {
	if face.Shape == nil || len(eyes) == 0 {
		return nil
	}

	var models [2]vision.EyeModel
	found := false
	for _, in := range eyes {
		if in.Index < 0 || in.Index > 1 || in.Crop == nil {
			continue
		}
		if face.Shape.EyeRegion(in.Index).Intersect(in.Region).Empty() {
			continue
		}

		m, err := a.models.Eyes.Locate(in)
		if err != nil {
			return fmt.Errorf("locate eye %d: %w", in.Index, err)
		}
		models[in.Index] = cropToFrame(m, in)
		found = found || m.Found
	}

	if found {
		face.Eyes = &models
	}
	return nil
}

// cropToFrame maps an eye model from crop pixels to frame pixels.
func cropToFrame(m vision.EyeModel, in EyeInput) vision.EyeModel {
	size := in.Crop.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return m
	}
	sx := in.Region.Width() / float64(size.X)
	sy := in.Region.Height() / float64(size.Y)

	m.Center = vision.Point{
		X: in.Region.X1 + m.Center.X*sx,
		Y: in.Region.Y1 + m.Center.Y*sy,
	}
	m.IrisRadius *= sx
	m.PupilRadius *= sx
	return m
}

// motion estimates face motion from the previous cycle's face position and
// eye motion as the mean of the eye flow field.
func (a *adapter) motion(face *Face, flow []vision.FlowVector) *Motion {
	a.mu.Lock()
	defer a.mu.Unlock()

	if face == nil {
		a.prevFace = nil
		if len(flow) == 0 {
			return nil
		}
	}

	m := &Motion{Field: flow}
	if face != nil {
		pos := face.Position()
		if a.prevFace != nil {
			m.Face = vision.Point3{
				X: pos.X - a.prevFace.X,
				Y: pos.Y - a.prevFace.Y,
				Z: pos.Z - a.prevFace.Z,
			}
		}
		a.prevFace = &pos
	}

	if len(flow) > 0 {
		var sum vision.Point
		for _, v := range flow {
			sum = sum.Add(v.Delta)
		}
		m.Eyes = sum.Scale(1 / float64(len(flow)))
	}
	return m
}

// resetMotion forgets the previous face position so a later motion
// estimate does not span cycles that ran without flow.
func (a *adapter) resetMotion() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prevFace = nil
}

// gaze folds the midpoint of the located irises into the smoothed gaze
// trail and returns a copy of the trail.
func (a *adapter) gaze(face *Face) []vision.FeaturePoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	if face == nil || face.Eyes == nil {
		return a.trail()
	}

	var sum vision.Point
	var radius float64
	n := 0
	for _, e := range face.Eyes {
		if !e.Found {
			continue
		}
		sum = sum.Add(e.Center)
		radius += e.IrisRadius
		n++
	}
	if n == 0 {
		return a.trail()
	}

	mid := sum.Scale(1 / float64(n))
	if a.gazeValue == nil {
		a.gazeValue = &mid
	} else {
		smoothed := a.gazeValue.Scale(1 - a.gazeAlpha).Add(mid.Scale(a.gazeAlpha))
		a.gazeValue = &smoothed
	}

	a.gazeTrail = append(a.gazeTrail, vision.FeaturePoint{Point: *a.gazeValue, Radius: radius / float64(n)})
	if len(a.gazeTrail) > a.gazeMax {
		copy(a.gazeTrail, a.gazeTrail[1:])
		a.gazeTrail = a.gazeTrail[:a.gazeMax]
	}
	return a.trail()
}

func (a *adapter) trail() []vision.FeaturePoint {
	if len(a.gazeTrail) == 0 {
		return nil
	}
	out := make([]vision.FeaturePoint, len(a.gazeTrail))
	copy(out, a.gazeTrail)
	return out
}
