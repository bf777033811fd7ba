package sensor

import (
	"image"
	"math"
	"testing"
)

func TestFromFOV(t *testing.T) {
	p, err := FromFOV(image.Pt(640, 480), 90)
	if err != nil {
		t.Fatalf("FromFOV() error = %v", err)
	}
	if math.Abs(p.FocalLength()-320) > 1e-9 {
		t.Errorf("FocalLength() = %v, want 320", p.FocalLength())
	}

	tests := []struct {
		name string
		size image.Point
		fov  float64
	}{
		{"zero size", image.Point{}, 60},
		{"zero fov", image.Pt(640, 480), 0},
		{"straight angle", image.Pt(640, 480), 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromFOV(tt.size, tt.fov); err == nil {
				t.Error("FromFOV() expected error")
			}
		})
	}
}

func TestDistanceFromWidth(t *testing.T) {
	p := &Pinhole{Size: image.Pt(640, 480), Fx: 600}

	if d := p.DistanceFromWidth(90); math.Abs(d-1) > 1e-9 {
		t.Errorf("DistanceFromWidth(90) = %v, want 1", d)
	}
	if w := p.WidthAtDistance(2); math.Abs(w-45) > 1e-9 {
		t.Errorf("WidthAtDistance(2) = %v, want 45", w)
	}
	if d := p.DistanceFromWidth(0); !math.IsInf(d, 1) {
		t.Errorf("DistanceFromWidth(0) = %v, want +Inf", d)
	}

	p.FaceWidth = 0.3
	if d := p.DistanceFromWidth(90); math.Abs(d-2) > 1e-9 {
		t.Errorf("custom face width distance = %v, want 2", d)
	}
}

func TestScaled(t *testing.T) {
	p := &Pinhole{Size: image.Pt(640, 480), Fx: 600}
	half := p.Scaled(image.Pt(320, 240))

	if half.Fx != 300 {
		t.Errorf("scaled Fx = %v, want 300", half.Fx)
	}
	if p.Fx != 600 {
		t.Error("Scaled() modified the receiver")
	}
	// Distance is invariant under resizing when widths scale with the frame.
	if math.Abs(p.DistanceFromWidth(90)-half.DistanceFromWidth(45)) > 1e-9 {
		t.Error("distance changed under scaling")
	}
}
