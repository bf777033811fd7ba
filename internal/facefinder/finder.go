// Package facefinder schedules face detection, landmark regression and eye
// tracking over a live frame stream. The render goroutine calls Process for
// every frame; detection cycles run on a worker pool at a lower cadence and
// their scenes are painted onto later frames.
package facefinder

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("face finder closed")

// FaceFinder is the frame scheduling orchestrator.
type FaceFinder struct {
	logger   *slog.Logger
	models   Models
	settings Settings

	params   *tunables
	gate     gate
	stash    *stash
	dispatch *dispatcher
	ownPool  *WorkerPool
	builder  *pyramidBuilder
	adapter  *adapter
	graph    *graph
	monitors *monitors
	timer    *TimerInfo

	initialized atomic.Bool
	closed      atomic.Bool

	imageMu     sync.RWMutex
	imageLogger func(image.Image)

	// Render goroutine state.
	waiting   *Scene
	eyeInputs []EyeInput
	eyeFlow   []vision.FlowVector
}

// New validates models and settings, binds the backend to glContext and
// returns a finder that must be initialized before use.
func New(models Models, settings Settings, glContext gpu.Context) (*FaceFinder, error) {
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := validateModels(models, settings.Params); err != nil {
		return nil, err
	}
	if err := settings.Backend.Bind(glContext); err != nil {
		return nil, fmt.Errorf("%w: bind gpu context: %v", ErrConfig, err)
	}

	f := &FaceFinder{
		logger:   settings.Logger,
		models:   models,
		settings: settings,
		params:   newTunables(settings.Params),
		stash:    newStash(settings.StashDepth),
		builder: &pyramidBuilder{
			channels:        models.Channels,
			sensor:          models.Sensor,
			window:          models.Detector.WindowSize(),
			faceWidthMeters: settings.FaceWidthMeters,
			perOctave:       settings.ScalesPerOctave,
		},
		adapter:  newAdapter(models, settings.GazeSmoothing, settings.GazeHistory),
		monitors: newMonitors(),
		timer:    newTimerInfo(settings.PhaseSinks),
		graph: newGraph(settings.Backend, graphConfig{
			Orientation:   settings.Orientation,
			FrameDelay:    settings.FrameDelay,
			Shrink:        settings.ACFShrink,
			EyeSize:       settings.EyeSize,
			BlobThreshold: settings.BlobThreshold,
			Blobs:         settings.Params.DoBlobs,
			Iris:          settings.Params.DoIris,
			Flow:          settings.Params.DoFlow,
		}),
		imageLogger: settings.ImageLogger,
	}

	pool := settings.Pool
	if pool == nil {
		f.ownPool = NewWorkerPool(settings.Workers)
		pool = f.ownPool
	}
	f.dispatch = &dispatcher{pool: pool}

	return f, nil
}

// Initialize prepares the finder for Process. Calling it again is a no-op.
func (f *FaceFinder) Initialize() error {
	if f.initialized.Load() {
		return nil
	}

	p := f.params.Load()
	f.logger.Info("face finder initialized",
		"orientation", f.settings.Orientation,
		"frame_delay", f.settings.FrameDelay,
		"interval", p.Interval,
		"distance", fmt.Sprintf("[%.2f, %.2f]", p.MinDistance, p.MaxDistance),
		"landmarks", p.DoLandmarks,
		"iris", p.DoIris,
		"flow", p.DoFlow,
		"blobs", p.DoBlobs,
		"cpu_acf", p.DoCPUACF,
	)
	f.initialized.Store(true)
	return nil
}

// Process handles one frame on the render goroutine and returns the
// painted output texture. It never waits for detection.
func (f *FaceFinder) Process(frame Frame) (gpu.Texture, error) {
	if f.closed.Load() {
		return 0, ErrClosed
	}
	if !f.initialized.Load() {
		return 0, ErrNotInitialized
	}

	size := frame.Size()
	if size.X <= 0 || size.Y <= 0 {
		return 0, fmt.Errorf("frame has no size")
	}
	if err := f.graph.initialize(size); err != nil {
		return 0, err
	}
	if size != f.graph.size {
		return 0, fmt.Errorf("frame size %v differs from graph size %v", size, f.graph.size)
	}

	params := f.params.Load()
	start := time.Now()

	up, err := f.graph.orient(frame.Texture)
	if err != nil {
		return 0, fmt.Errorf("orient frame: %w", err)
	}

	due := f.NeedsDetection(frame.Timestamp)

	blobStart := time.Now()
	blobs, err := f.graph.blobs(up, due && params.DoBlobs)
	if err != nil {
		f.logger.Warn("blob extraction failed", "error", err)
	} else if due && params.DoBlobs {
		f.timer.Since(PhaseBlob, blobStart)
	}

	if due {
		f.dispatchCycle(frame, up, params, blobs)
	}

	display, err := f.graph.history(up)
	if err != nil {
		return 0, fmt.Errorf("frame history: %w", err)
	}

	scene := f.stash.next(f.settings.FrameDelay)
	f.trackEyes(up, scene, params)

	var overlay *gpu.Overlay
	if params.DoAnnotations {
		overlay = buildOverlay(scene, f.eyeFlow)
	}
	out, err := f.graph.paint(display, overlay, params.Brightness)
	if err != nil {
		return 0, fmt.Errorf("paint: %w", err)
	}
	f.timer.Since(PhaseRenderScene, start)

	if scene == nil {
		// Nothing completed yet; monitors see one empty scene until then.
		if f.waiting == nil {
			f.waiting = emptyScene(frame.Timestamp, false)
		}
		scene = f.waiting
	}
	f.monitors.notify(scene, frame.Timestamp, false)
	return out, nil
}

// NeedsDetection reports whether a frame at now would start a new cycle.
func (f *FaceFinder) NeedsDetection(now time.Time) bool {
	return f.gate.needsDetection(now, f.params.Load().Interval, f.dispatch.busy())
}

// cycleInput is everything a detection cycle needs, captured on the render
// goroutine so the worker never touches the graph.
type cycleInput struct {
	ts      time.Time
	params  Params
	plan    pyramidPlan
	useGPU  bool
	pyramid *vision.Pyramid
	image   image.Image
	blobs   []vision.Rect
	eyes    []EyeInput
	flow    []vision.FlowVector
}

func (f *FaceFinder) dispatchCycle(frame Frame, up gpu.Texture, params Params, blobs []vision.Rect) {
	in := cycleInput{
		ts:     frame.Timestamp,
		params: params,
		plan:   f.builder.plan(f.graph.up, params.MaxDistance),
		useGPU: !params.DoCPUACF,
		image:  frame.Image,
		blobs:  blobs,
		eyes:   f.eyeInputs,
		flow:   f.eyeFlow,
	}

	if in.useGPU && len(in.plan.Scales) > 0 {
		start := time.Now()
		pyr, err := f.graph.pyramid(up, in.plan.Scales)
		if err != nil {
			f.logger.Warn("gpu pyramid read-back failed", "error", err)
		}
		in.pyramid = pyr
		f.timer.Since(PhaseACF, start)
	}

	if f.settings.Orientation != 0 {
		img, err := f.graph.uprightImage()
		if err != nil {
			f.logger.Warn("upright read-back failed", "error", err)
		}
		in.image = img
	}

	_, err := f.dispatch.dispatch(in.ts, func() (*Scene, error) {
		return f.runCycle(in)
	}, f.complete)
	if err != nil {
		f.logger.Debug("detection cycle skipped", "error", err)
		return
	}
	f.gate.markDispatched(in.ts)
}

// runCycle executes on a worker.
func (f *FaceFinder) runCycle(in cycleInput) (*Scene, error) {
	if logImage := f.getImageLogger(); logImage != nil && in.image != nil {
		logImage(in.image)
	}

	start := time.Now()
	pyr, err := f.builder.build(in.image, in.plan, in.pyramid, in.useGPU)
	if err != nil {
		return nil, fmt.Errorf("build pyramid: %w", err)
	}
	if !in.useGPU {
		f.timer.Since(PhaseACF, start)
	}

	params := in.params
	adm := newAdmission(f.models.Sensor, params)
	dets, err := f.adapter.detect(pyr, params, adm)
	if err != nil {
		return nil, err
	}
	if params.DoBlobs && wantsBlobs(dets, in.blobs, in.plan.Up.X, params) {
		dets = mergeBlobs(dets, in.blobs, params, adm)
	}
	f.timer.Since(PhaseDetection, start)

	scene := &Scene{
		ID:        uuid.New(),
		Timestamp: in.ts,
		Faces:     f.adapter.faces(dets),
	}

	if params.DoLandmarks && len(scene.Faces) > 0 && in.image != nil {
		rs := time.Now()
		if err := f.adapter.regress(in.image, scene.Faces); err != nil {
			f.logger.Warn("landmark regression failed", "error", err)
		}
		scene.Regressed = true
		f.timer.Since(PhaseRegression, rs)

		if params.DoIris && f.models.Eyes != nil {
			es := time.Now()
			if err := f.adapter.locateEyes(scene.Largest(), in.eyes); err != nil {
				f.logger.Warn("iris localization failed", "error", err)
			}
			f.timer.Since(PhaseEyeRegression, es)
		}
	}

	largest := scene.Largest()
	if params.DoFlow {
		scene.Motion = f.adapter.motion(largest, in.flow)
	} else {
		f.adapter.resetMotion()
	}
	if params.DoIris {
		scene.Gaze = f.adapter.gaze(largest)
	}

	if scene.Regressed && largest != nil && f.monitors.wantsCapture(largest.Position(), in.ts) {
		largest.Image = cropImage(in.image, largest.Region)
	}

	f.logger.Debug("detection cycle complete",
		"faces", len(scene.Faces),
		"regressed", scene.Regressed,
		"timing", f.timer.String(),
	)
	return scene, nil
}

// complete runs on the worker once a cycle has a final scene.
func (f *FaceFinder) complete(scene *Scene, err error) {
	if err != nil {
		f.logger.Warn("detection cycle failed", "error", err)
	}
	if !f.stash.push(scene) {
		f.logger.Debug("stale scene dropped", "timestamp", scene.Timestamp)
	}
	if scene.Regressed {
		f.monitors.notify(scene, scene.Timestamp, true)
	}
}

// trackEyes refreshes the eye read-back used by the next cycle from the
// shape of the scene being displayed.
func (f *FaceFinder) trackEyes(up gpu.Texture, scene *Scene, params Params) {
	if !params.DoIris && !params.DoFlow {
		f.eyeInputs, f.eyeFlow = nil, nil
		return
	}

	var face *Face
	if scene != nil {
		face = scene.Largest()
	}
	if face == nil || face.Shape == nil {
		f.eyeInputs, f.eyeFlow = nil, nil
		return
	}

	regions := [2]vision.Rect{face.Shape.EyeRegion(vision.LeftEye), face.Shape.EyeRegion(vision.RightEye)}
	inputs, eyeTex, err := f.graph.eyeCrops(up, regions, params.DoIris)
	if err != nil {
		f.logger.Warn("eye read-back failed", "error", err)
		return
	}
	f.eyeInputs = inputs

	if params.DoFlow {
		flow, err := f.graph.eyeFlow(eyeTex, regions)
		if err != nil {
			f.logger.Warn("eye flow failed", "error", err)
			return
		}
		f.eyeFlow = flow
	} else {
		f.eyeFlow = nil
	}
}

func cropImage(img image.Image, r vision.Rect) image.Image {
	if img == nil {
		return nil
	}
	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil
	}
	return sub.SubImage(r.Image(img.Bounds()))
}

// AddMonitor registers m and returns its handle.
func (f *FaceFinder) AddMonitor(m Monitor) MonitorID {
	return f.monitors.add(m)
}

// RemoveMonitor unregisters a monitor. It reports whether id was
// registered.
func (f *FaceFinder) RemoveMonitor(id MonitorID) bool {
	return f.monitors.remove(id)
}

// Params returns the current tunables snapshot.
func (f *FaceFinder) Params() Params {
	return f.params.Load()
}

// UpdateParams applies fn to a copy of the tunables and publishes the
// result if it is valid for the configured models.
func (f *FaceFinder) UpdateParams(fn func(p *Params)) error {
	return f.params.Update(fn, f.checkParams)
}

func (f *FaceFinder) checkParams(p Params) error {
	if err := validateModels(f.models, p); err != nil {
		return err
	}
	cfg := f.graph.cfg
	if (p.DoBlobs && !cfg.Blobs) || (p.DoIris && !cfg.Iris) || (p.DoFlow && !cfg.Flow) {
		f.logger.Warn("feature enabled without its filter stage; it stays inactive",
			"blobs", p.DoBlobs && !cfg.Blobs,
			"iris", p.DoIris && !cfg.Iris,
			"flow", p.DoFlow && !cfg.Flow,
		)
	}
	return nil
}

// SetInterval sets the minimum time between detection cycles.
func (f *FaceFinder) SetInterval(d time.Duration) error {
	return f.UpdateParams(func(p *Params) { p.Interval = d })
}

// SetDistance sets the admissible face distance range in meters.
func (f *FaceFinder) SetDistance(min, max float64) error {
	return f.UpdateParams(func(p *Params) { p.MinDistance, p.MaxDistance = min, max })
}

// SetBrightness sets the painter intensity multiplier.
func (f *FaceFinder) SetBrightness(b float64) error {
	return f.UpdateParams(func(p *Params) { p.Brightness = b })
}

// SetDoCPUACF selects the CPU pyramid path.
func (f *FaceFinder) SetDoCPUACF(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoCPUACF = on })
}

// SetDoLandmarks toggles landmark regression.
func (f *FaceFinder) SetDoLandmarks(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoLandmarks = on })
}

// SetDoIris toggles iris localization.
func (f *FaceFinder) SetDoIris(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoIris = on })
}

// SetDoFlow toggles eye flow.
func (f *FaceFinder) SetDoFlow(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoFlow = on })
}

// SetDoBlobs toggles the blob fallback.
func (f *FaceFinder) SetDoBlobs(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoBlobs = on })
}

// SetDoAnnotations toggles painter overlays.
func (f *FaceFinder) SetDoAnnotations(on bool) error {
	return f.UpdateParams(func(p *Params) { p.DoAnnotations = on })
}

// SetImageLogger installs a sink for the upright frame of each cycle.
func (f *FaceFinder) SetImageLogger(fn func(image.Image)) {
	f.imageMu.Lock()
	defer f.imageMu.Unlock()
	f.imageLogger = fn
}

func (f *FaceFinder) getImageLogger() func(image.Image) {
	f.imageMu.RLock()
	defer f.imageMu.RUnlock()
	return f.imageLogger
}

// Timer returns the phase timings.
func (f *FaceFinder) Timer() *TimerInfo {
	return f.timer
}

// Pending returns the in-flight cycle, or nil.
func (f *FaceFinder) Pending() *Handle {
	return f.dispatch.current()
}

// Close waits for queued cycles on an owned pool and releases the filter
// graph. It must be called from the render goroutine.
func (f *FaceFinder) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if f.ownPool != nil {
		f.ownPool.Close()
	}
	return f.graph.close()
}
