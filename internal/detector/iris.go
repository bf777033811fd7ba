package detector

import (
	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// minEdge is the smallest mean intensity step, in gray levels, accepted as
// a pupil or iris boundary.
const minEdge = 10

// radialProfile averages a linear-polar eye image over all angles. Rows are
// angles and columns are radii, so the result is the mean intensity at each
// radius step from the crop center outwards.
func radialProfile(pixels []uint8, w, h int) []float64 {
	if w == 0 || h == 0 {
		return nil
	}
	profile := make([]float64, w)
	for y := 0; y < h; y++ {
		row := pixels[y*w : (y+1)*w]
		for x, v := range row {
			profile[x] += float64(v)
		}
	}
	for x := range profile {
		profile[x] /= float64(h)
	}
	return profile
}

// strongestRise returns the column in [from, to) where the profile rises
// most, or -1 when no rise reaches minEdge.
func strongestRise(profile []float64, from, to int) int {
	best, bestStep := -1, float64(minEdge)
	for x := max(from, 1); x < min(to, len(profile)); x++ {
		if step := profile[x] - profile[x-1]; step >= bestStep {
			best, bestStep = x, step
		}
	}
	return best
}

// refineFromPolar replaces the radii of m with the dark to bright
// transitions of the eye's polar image: the strongest rise outside the
// inner eighth is the iris boundary, the strongest inside that the pupil
// boundary. The polar image spans radii up to half the smaller crop side.
// Models without a polar image, or without a clear iris edge, are returned
// unchanged.
func refineFromPolar(m vision.EyeModel, eye facefinder.EyeInput) vision.EyeModel {
	if !m.Found || eye.Polar == nil || eye.Crop == nil {
		return m
	}
	pixels, w, h := grayPixels(eye.Polar)
	profile := radialProfile(pixels, w, h)
	if len(profile) < 4 {
		return m
	}

	cs := eye.Crop.Bounds().Size()
	step := float64(min(cs.X, cs.Y)) / 2 / float64(len(profile))

	iris := strongestRise(profile, len(profile)/8, len(profile))
	if iris < 0 {
		return m
	}
	m.IrisRadius = float64(iris) * step
	if pupil := strongestRise(profile, 1, iris); pupil > 0 {
		m.PupilRadius = float64(pupil) * step
	} else {
		m.PupilRadius = m.IrisRadius * pupilFromIris
	}
	return m
}
