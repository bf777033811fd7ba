package facefinder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BlobPolicy decides what happens to a blob candidate that overlaps a
// primary detection.
type BlobPolicy int

const (
	// BlobSuppress drops the blob candidate.
	BlobSuppress BlobPolicy = iota
	// BlobKeepBoth keeps both candidates.
	BlobKeepBoth
	// BlobUnion grows the primary detection to cover the blob.
	BlobUnion
)

var blobPolicyNames = []string{"suppress", "keep-both", "union"}

func (p BlobPolicy) String() string {
	if int(p) >= 0 && int(p) < len(blobPolicyNames) {
		return blobPolicyNames[p]
	}
	return fmt.Sprintf("BlobPolicy(%d)", int(p))
}

// ParseBlobPolicy parses the String form of a policy.
func ParseBlobPolicy(s string) (BlobPolicy, error) {
	for i, name := range blobPolicyNames {
		if name == s {
			return BlobPolicy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown blob policy %q", ErrConfig, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p BlobPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *BlobPolicy) UnmarshalText(b []byte) error {
	v, err := ParseBlobPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Params are the runtime tunables. A cycle reads one snapshot and never
// observes a partial update.
type Params struct {
	Interval    time.Duration `json:"interval" yaml:"interval"`
	MinDistance float64       `json:"min_distance" yaml:"min_distance"`
	MaxDistance float64       `json:"max_distance" yaml:"max_distance"`
	Brightness  float64       `json:"brightness" yaml:"brightness"`

	DoCPUACF      bool `json:"do_cpu_acf" yaml:"do_cpu_acf"`
	DoLandmarks   bool `json:"do_landmarks" yaml:"do_landmarks"`
	DoFlow        bool `json:"do_flow" yaml:"do_flow"`
	DoIris        bool `json:"do_iris" yaml:"do_iris"`
	DoBlobs       bool `json:"do_blobs" yaml:"do_blobs"`
	DoAnnotations bool `json:"do_annotations" yaml:"do_annotations"`

	NMSGlobal         bool       `json:"nms_global" yaml:"nms_global"`
	NMSThreshold      float64    `json:"nms_threshold" yaml:"nms_threshold"`
	BlobPolicy        BlobPolicy `json:"blob_policy" yaml:"blob_policy"`
	BlobOverlapIoU    float64    `json:"blob_overlap_iou" yaml:"blob_overlap_iou"`
	LargeBlobFraction float64    `json:"large_blob_fraction" yaml:"large_blob_fraction"`
}

// DefaultParams returns the default tunables.
func DefaultParams() Params {
	return Params{
		Interval:          100 * time.Millisecond,
		MinDistance:       0,
		MaxDistance:       1,
		Brightness:        1,
		DoLandmarks:       true,
		DoFlow:            true,
		DoAnnotations:     true,
		NMSGlobal:         true,
		NMSThreshold:      0.3,
		BlobPolicy:        BlobSuppress,
		BlobOverlapIoU:    0.5,
		LargeBlobFraction: 0.4,
	}
}

// Validate checks the tunables for consistency.
func (p Params) Validate() error {
	switch {
	case p.Interval <= 0:
		return fmt.Errorf("%w: interval %v must be positive", ErrConfig, p.Interval)
	case p.MinDistance < 0:
		return fmt.Errorf("%w: negative min distance %v", ErrConfig, p.MinDistance)
	case p.MaxDistance <= 0:
		return fmt.Errorf("%w: max distance must be positive, got %v", ErrConfig, p.MaxDistance)
	case p.MinDistance > p.MaxDistance:
		return fmt.Errorf("%w: min distance %v exceeds max distance %v", ErrConfig, p.MinDistance, p.MaxDistance)
	case p.Brightness < 0:
		return fmt.Errorf("%w: negative brightness %v", ErrConfig, p.Brightness)
	case p.NMSThreshold <= 0 || p.NMSThreshold > 1:
		return fmt.Errorf("%w: nms threshold %v out of (0,1]", ErrConfig, p.NMSThreshold)
	case p.BlobOverlapIoU < 0 || p.BlobOverlapIoU > 1:
		return fmt.Errorf("%w: blob overlap iou %v out of [0,1]", ErrConfig, p.BlobOverlapIoU)
	case p.LargeBlobFraction <= 0 || p.LargeBlobFraction > 1:
		return fmt.Errorf("%w: large blob fraction %v out of (0,1]", ErrConfig, p.LargeBlobFraction)
	}
	return nil
}

// tunables publishes immutable Params snapshots. Writers serialize on mu
// and swap the pointer; readers only load.
type tunables struct {
	mu  sync.Mutex
	cur atomic.Pointer[Params]
}

func newTunables(p Params) *tunables {
	t := &tunables{}
	t.cur.Store(&p)
	return t
}

func (t *tunables) Load() Params {
	return *t.cur.Load()
}

// Update applies fn to a copy of the current snapshot and publishes it if
// the result passes Validate and every check.
func (t *tunables) Update(fn func(p *Params), checks ...func(Params) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := *t.cur.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	for _, check := range checks {
		if err := check(next); err != nil {
			return err
		}
	}
	t.cur.Store(&next)
	return nil
}
