package vision

// Detection is a candidate face box produced by an object detector, in
// upright frame coordinates.
type Detection struct {
	Rect  Rect    `json:"rect" msgpack:"rect"`
	Score float64 `json:"score" msgpack:"score"`
	// Level is the pyramid level the detection was found on, or -1 for
	// candidates that did not come from the pyramid.
	Level int `json:"level" msgpack:"level"`
	// Blob marks candidates derived from the blob fallback.
	Blob bool `json:"blob,omitempty" msgpack:"blob,omitempty"`
}

// Eye indices into Shape.Eyes and face eye models.
const (
	LeftEye  = 0
	RightEye = 1
)

// Shape is a set of facial landmarks returned by a shape regressor.
type Shape struct {
	Points []Point `json:"points" msgpack:"points"`
	// Eyes holds the outer and inner corner of each eye.
	Eyes [2][2]Point `json:"eyes" msgpack:"eyes"`
}

// EyeCenter returns the midpoint between the corners of eye i.
func (s *Shape) EyeCenter(i int) Point {
	return s.Eyes[i][0].Add(s.Eyes[i][1]).Scale(0.5)
}

// EyeWidth returns the corner to corner distance of eye i.
func (s *Shape) EyeWidth(i int) float64 {
	return s.Eyes[i][0].Sub(s.Eyes[i][1]).Norm()
}

// EyeRegion returns a box around eye i with a 2:1 aspect ratio, padded
// around the corner to corner span.
func (s *Shape) EyeRegion(i int) Rect {
	w := s.EyeWidth(i) * 1.5
	return RectFromCenter(s.EyeCenter(i), w, w/2)
}

// EyeModel is the result of iris localization for a single eye.
type EyeModel struct {
	Center      Point   `json:"center" msgpack:"center"`
	IrisRadius  float64 `json:"iris_radius" msgpack:"iris_radius"`
	PupilRadius float64 `json:"pupil_radius" msgpack:"pupil_radius"`
	Confidence  float64 `json:"confidence" msgpack:"confidence"`
	Found       bool    `json:"found" msgpack:"found"`
}
