// Package soft is a CPU implementation of the gpu filter graph backed by
// OpenCV. Textures are Mats held in a registry; every stage owns one output
// texture that it rewrites on each Process call.
package soft

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/gpu"
)

// Backend owns the texture registry and creates stages.
type Backend struct {
	logger *slog.Logger

	mu    sync.Mutex
	mats  map[gpu.Texture]gocv.Mat
	next  gpu.Texture
	ctx   gpu.Context
	bound bool
}

// New returns an empty backend.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger: logger,
		mats:   make(map[gpu.Texture]gocv.Mat),
	}
}

// Bind records ctx. The software backend has no native context to share,
// so any value is accepted.
func (b *Backend) Bind(ctx gpu.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = ctx
	b.bound = true
	return nil
}

// NewTexture reserves an empty texture handle.
func (b *Backend) NewTexture() gpu.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	return b.next
}

// Put stores a copy of m under t, releasing the previous contents.
func (b *Backend) Put(t gpu.Texture, m gocv.Mat) {
	b.store(t, m.Clone())
}

// Upload converts img into a new texture.
func (b *Backend) Upload(img image.Image) (gpu.Texture, error) {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}
	t := b.NewTexture()
	b.store(t, m)
	return t, nil
}

// Download copies texture t into an image.
func (b *Backend) Download(t gpu.Texture) (image.Image, error) {
	m, err := b.mat(t)
	if err != nil {
		return nil, err
	}
	return m.ToImage()
}

// Encode returns texture t as a JPEG.
func (b *Backend) Encode(t gpu.Texture) ([]byte, error) {
	m, err := b.mat(t)
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncode(".jpg", m)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Release frees texture t.
func (b *Backend) Release(t gpu.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.mats[t]; ok {
		m.Close()
		delete(b.mats, t)
	}
}

// Textures returns the number of live textures.
func (b *Backend) Textures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mats)
}

// Close releases every texture.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, m := range b.mats {
		m.Close()
		delete(b.mats, t)
	}
	return nil
}

// store takes ownership of m.
func (b *Backend) store(t gpu.Texture, m gocv.Mat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.mats[t]; ok {
		old.Close()
	}
	b.mats[t] = m
}

// mat returns the Mat behind t. The Mat stays owned by the registry.
func (b *Backend) mat(t gpu.Texture) (gocv.Mat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mats[t]
	if !ok || m.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: %d", gpu.ErrUnknownTexture, t)
	}
	return m, nil
}

// NewStage builds the stage described by spec.
func (b *Backend) NewStage(spec gpu.StageSpec) (gpu.Stage, error) {
	b.mu.Lock()
	bound := b.bound
	b.mu.Unlock()
	if !bound {
		return nil, fmt.Errorf("backend not bound to a context")
	}
	if spec.Size.X <= 0 || spec.Size.Y <= 0 {
		return nil, fmt.Errorf("%s: invalid size %v", spec.Kind, spec.Size)
	}

	base := stageBase{backend: b, spec: spec, out: b.NewTexture()}
	switch spec.Kind {
	case gpu.StageACF:
		if spec.Shrink <= 0 {
			return nil, fmt.Errorf("acf: invalid shrink %d", spec.Shrink)
		}
		return &acfStage{stageBase: base}, nil
	case gpu.StageFIFO:
		if spec.Depth <= 0 {
			return nil, fmt.Errorf("fifo: invalid depth %d", spec.Depth)
		}
		return &fifoStage{stageBase: base}, nil
	case gpu.StageBlob:
		return newBlobStage(base), nil
	case gpu.StageEyeEnhancer:
		if spec.OutSize.X <= 0 || spec.OutSize.Y <= 0 || spec.OutSize.X%2 != 0 {
			return nil, fmt.Errorf("eye enhancer: invalid output size %v", spec.OutSize)
		}
		return &eyeStage{stageBase: base}, nil
	case gpu.StagePolar:
		if spec.Eye < 0 || spec.Eye > 1 {
			return nil, fmt.Errorf("polar: invalid eye %d", spec.Eye)
		}
		return &polarStage{stageBase: base}, nil
	case gpu.StageFlow:
		return newFlowStage(base), nil
	case gpu.StageSwizzle:
		return &swizzleStage{stageBase: base}, nil
	case gpu.StageTransform:
		switch spec.Rotation {
		case 0, 90, 180, 270:
		default:
			return nil, fmt.Errorf("transform: invalid rotation %d", spec.Rotation)
		}
		return &transformStage{stageBase: base}, nil
	case gpu.StagePainter:
		return &painterStage{stageBase: base}, nil
	}
	b.Release(base.out)
	return nil, fmt.Errorf("unsupported stage %s", spec.Kind)
}

// stageBase carries what every stage shares.
type stageBase struct {
	backend *Backend
	spec    gpu.StageSpec
	out     gpu.Texture
}

func (s *stageBase) Kind() gpu.StageKind { return s.spec.Kind }

func (s *stageBase) Read() (gpu.Readback, error) { return gpu.Readback{}, nil }

func (s *stageBase) Close() error {
	s.backend.Release(s.out)
	return nil
}

// emit stores m as the stage output and returns the output handle.
func (s *stageBase) emit(m gocv.Mat) gpu.Texture {
	s.backend.store(s.out, m)
	return s.out
}
