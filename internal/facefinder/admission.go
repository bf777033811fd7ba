package facefinder

import "github.com/ayusman/facefinder/internal/vision"

// admission rejects candidates whose estimated distance falls outside the
// configured range. Bounds are inclusive.
type admission struct {
	sensor   SensorModel
	min, max float64
}

func newAdmission(sensor SensorModel, p Params) admission {
	return admission{sensor: sensor, min: p.MinDistance, max: p.MaxDistance}
}

func (a admission) distance(d vision.Detection) float64 {
	return a.sensor.DistanceFromWidth(d.Rect.Width())
}

// IsAdmissible reports whether the candidate lies within [min, max] meters.
func (a admission) IsAdmissible(d vision.Detection) bool {
	z := a.distance(d)
	return z >= a.min && z <= a.max
}

// filter keeps admissible candidates in order.
func (a admission) filter(dets []vision.Detection) []vision.Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if a.IsAdmissible(d) {
			out = append(out, d)
		}
	}
	return out
}
