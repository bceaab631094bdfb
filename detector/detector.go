// Package detector implements the mcvella:vision:grounding-dino vision service: zero-shot object
// detection driven by a free text query.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/spf13/cast"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	viz "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	"go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"

	"github.com/mcvella/grounding-dino/common"
	"github.com/mcvella/grounding-dino/inference"
)

// Model is the model triplet of the service.
var Model = resource.NewModel("mcvella", "vision", "grounding-dino")

// QueryKey is the extra key that overrides the configured default query.
const QueryKey = "query"

var (
	// ErrUnsupported is returned by the capabilities the service does not offer.
	ErrUnsupported = errors.New("unsupported capability")

	errNoCamera = errors.New("no camera name provided and no default camera found")
	errClosed   = errors.New("grounding-dino service is closed")
)

var registerOnce sync.Once

// Register adds the service model to the resource registry. Later calls do nothing.
func Register() {
	registerOnce.Do(func() {
		resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
			Constructor: newGroundingDINO,
		})
	})
}

// newEngine loads the configured model and opens an inference engine for it.
var newEngine = func(ctx context.Context, s settings, logger logging.Logger) (inference.Engine, error) {
	return inference.Load(ctx, inference.LoadArgs{
		Source:   s.source,
		Backend:  s.backend,
		Detector: s.detector,
	}, logger)
}

// snapshot is one immutable configuration. Requests hold a reference for their whole duration;
// the engine closes when the last reference is released.
type snapshot struct {
	settings settings
	deps     resource.Dependencies
	engine   inference.Engine
	logger   logging.Logger
	refs     atomic.Int64
}

func newSnapshot(s settings, deps resource.Dependencies, engine inference.Engine, logger logging.Logger) *snapshot {
	snap := &snapshot{settings: s, deps: deps, engine: engine, logger: logger}
	snap.refs.Store(1)
	return snap
}

func (s *snapshot) acquire() {
	s.refs.Add(1)
}

func (s *snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Warnw("failed to close engine", "error", err)
	}
}

type groundingDINO struct {
	resource.Named

	logger logging.Logger

	mu      sync.RWMutex
	current *snapshot
	closed  bool
}

func newGroundingDINO(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (vision.Service, error) {
	g := &groundingDINO{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
	}
	if err := g.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}
	return g, nil
}

// Reconfigure builds an engine for the new config and swaps it in. In-flight requests finish on
// the engine they started with. On failure the previous configuration keeps serving.
func (g *groundingDINO) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return err
	}
	s, err := cfg.resolved()
	if err != nil {
		return err
	}

	engine, err := newEngine(ctx, s, g.logger)
	if err != nil {
		return err
	}
	next := newSnapshot(s, deps, engine, g.logger)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		next.release()
		return errClosed
	}
	prev := g.current
	g.current = next
	g.mu.Unlock()

	if prev != nil {
		prev.release()
	}
	g.logger.Infow("configured", "model_id", s.source.ModelID, "default_query", s.defaultQuery)
	return nil
}

// acquire returns the current snapshot with a reference held; the caller must release it.
func (g *groundingDINO) acquire() (*snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.current == nil {
		return nil, errClosed
	}
	g.current.acquire()
	return g.current, nil
}

func (g *groundingDINO) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]objectdetection.Detection, error) {
	ctx, span := trace.StartSpan(ctx, "grounding-dino::DetectionsFromCamera")
	defer span.End()

	snap, err := g.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.release()

	img, err := getCamImage(ctx, snap, cameraName)
	if err != nil {
		return nil, err
	}
	return g.detect(ctx, snap, img, extra)
}

func (g *groundingDINO) Detections(
	ctx context.Context,
	img image.Image,
	extra map[string]interface{},
) ([]objectdetection.Detection, error) {
	ctx, span := trace.StartSpan(ctx, "grounding-dino::Detections")
	defer span.End()

	snap, err := g.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.release()

	return g.detect(ctx, snap, img, extra)
}

func (g *groundingDINO) detect(
	ctx context.Context,
	snap *snapshot,
	img image.Image,
	extra map[string]interface{},
) ([]objectdetection.Detection, error) {
	if img == nil {
		return nil, errors.New("no image to detect on")
	}
	query, err := queryFrom(extra, snap.settings.defaultQuery)
	if err != nil {
		return nil, err
	}
	g.logger.CDebugw(ctx, "detecting", "query", query)

	results, err := snap.engine.Predict(ctx, img, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Len() == 0 {
		return []objectdetection.Detection{}, nil
	}
	return common.ToDetections(img.Bounds(), results[0]), nil
}

// queryFrom returns extra's query when present and non-nil, otherwise the default.
func queryFrom(extra map[string]interface{}, defaultQuery string) (string, error) {
	v, ok := extra[QueryKey]
	if !ok || v == nil {
		return defaultQuery, nil
	}
	query, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("extra %q must be a string: %w", QueryKey, err)
	}
	return query, nil
}

func (g *groundingDINO) Classifications(
	ctx context.Context,
	img image.Image,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	return nil, fmt.Errorf("classifications: %w", ErrUnsupported)
}

func (g *groundingDINO) ClassificationsFromCamera(
	ctx context.Context,
	cameraName string,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	return nil, fmt.Errorf("classifications from camera: %w", ErrUnsupported)
}

func (g *groundingDINO) GetObjectPointClouds(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]*viz.Object, error) {
	return nil, fmt.Errorf("object point clouds: %w", ErrUnsupported)
}

func (g *groundingDINO) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &vision.Properties{
		ClassificationSupported: false,
		DetectionSupported:      true,
		ObjectPCDsSupported:     false,
	}, nil
}

// CaptureAllFromCamera fetches one image whenever the image or detections are requested and runs
// detection on it. Classification and point cloud flags have no effect.
func (g *groundingDINO) CaptureAllFromCamera(
	ctx context.Context,
	cameraName string,
	opts viscapture.CaptureOptions,
	extra map[string]interface{},
) (viscapture.VisCapture, error) {
	ctx, span := trace.StartSpan(ctx, "grounding-dino::CaptureAllFromCamera")
	defer span.End()

	if !opts.ReturnImage && !opts.ReturnDetections {
		return viscapture.VisCapture{}, nil
	}

	snap, err := g.acquire()
	if err != nil {
		return viscapture.VisCapture{}, err
	}
	defer snap.release()

	img, err := getCamImage(ctx, snap, cameraName)
	if err != nil {
		return viscapture.VisCapture{}, err
	}

	var capt viscapture.VisCapture
	if opts.ReturnImage {
		capt.Image = img
	}
	if opts.ReturnDetections {
		if capt.Detections, err = g.detect(ctx, snap, img, extra); err != nil {
			return viscapture.VisCapture{}, err
		}
	}
	return capt, nil
}

func (g *groundingDINO) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, resource.ErrDoUnimplemented
}

// Close releases the current engine once in-flight requests finish.
func (g *groundingDINO) Close(ctx context.Context) error {
	g.mu.Lock()
	prev := g.current
	g.current = nil
	g.closed = true
	g.mu.Unlock()

	if prev != nil {
		prev.release()
	}
	return nil
}
