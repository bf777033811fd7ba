package soft

import (
	"github.com/ayusman/facefinder/internal/capture"
	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// blobStage finds moving regions by differencing consecutive frames. The
// stage threshold is the changed share of pixels, in percent, above which
// regions are reported. Its output is the input passed through.
type blobStage struct {
	stageBase
	motion  *capture.MotionDetector
	regions []vision.Rect
}

func newBlobStage(base stageBase) *blobStage {
	return &blobStage{
		stageBase: base,
		motion:    capture.NewMotionDetector(base.spec.Threshold),
	}
}

func (s *blobStage) Process(in gpu.Texture, _ gpu.Aux) (gpu.Texture, error) {
	m, err := s.backend.mat(in)
	if err != nil {
		return 0, err
	}

	res := s.motion.Detect(&m)
	s.regions = s.regions[:0]
	for _, r := range res.Regions {
		s.regions = append(s.regions, vision.RectFromImage(r))
	}
	return in, nil
}

func (s *blobStage) Read() (gpu.Readback, error) {
	out := make([]vision.Rect, len(s.regions))
	copy(out, s.regions)
	return gpu.Readback{Regions: out}, nil
}

func (s *blobStage) Close() error {
	s.motion.Close()
	return s.stageBase.Close()
}
