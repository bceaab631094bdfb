// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"
	"errors"
	"image"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
	"github.com/mcvella/grounding-dino/profiler"
)

// Engine defines the interface for grounded detection engines.
type Engine interface {
	// Predict returns one result set per image; a single image yields a single set.
	Predict(ctx context.Context, img image.Image, query string) ([]postprocess.Detections, error)
	Close() error
}

// EngineBuilder assembles an engine with a fluent API. The first failing step is remembered and
// later steps are skipped.
type EngineBuilder struct {
	logger       logging.Logger
	candidates   []providers.ExecutionProvider
	optimization *providers.OptimizationConfig
	profiling    profiler.Options
	model        model.Model
	runner       detectors.Runner
	detector     *detectors.Detector
	profiler     *profiler.Profiler
	err          error
}

// NewEngineBuilder creates a new engine builder.
//
// Arguments:
//   - logger: The logger for sessions and profiling reports.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder(logger logging.Logger) *EngineBuilder {
	return &EngineBuilder{logger: logger}
}

// WithProvider sets the execution providers to try for the backend.
//
// Arguments:
//   - backend: The requested backend; auto picks the best available.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(backend providers.ProviderBackend) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.candidates = providers.PlatformCandidates(backend)
	return b
}

// WithOptimization overrides the session settings.
func (b *EngineBuilder) WithOptimization(config providers.OptimizationConfig) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := config.Validate(); err != nil {
		b.err = err
		return b
	}
	b.optimization = &config
	return b
}

// WithProfiling overrides the profiler options.
func (b *EngineBuilder) WithProfiling(opts profiler.Options) *EngineBuilder {
	b.profiling = opts
	return b
}

// WithRunner runs the model graph on runner instead of an ONNX Runtime session. It must come
// before WithModel.
func (b *EngineBuilder) WithRunner(runner detectors.Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.runner = runner
	return b
}

// WithModel loads the model and, unless a runner was given, opens a session for its graph.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(args model.NewModelArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	m, err := models.NewModel(args)
	if err != nil {
		b.err = err
		return b
	}
	b.model = m

	if b.runner != nil {
		return b
	}
	if len(b.candidates) == 0 {
		b.err = errors.New("provider not configured")
		return b
	}

	opts := m.Options()
	session, err := providers.NewSession(b.candidates, providers.NewSessionArgs{
		ModelPath:    opts.Path,
		Inputs:       opts.Inputs,
		Outputs:      opts.Outputs,
		Optimization: b.optimization,
	}, b.logger)
	if err != nil {
		b.err = err
		return b
	}
	b.runner = session
	return b
}

// WithDetector sets the detector for the engine.
//
// Arguments:
//   - cfg: The detector configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithDetector(cfg detectors.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if b.model == nil || b.runner == nil {
		b.err = errors.New("model not configured")
		return b
	}

	prof := profiler.New(b.logger.Desugar(), b.profiling)
	detector, err := detectors.NewDetector(b.model, b.runner, cfg, prof)
	if err != nil {
		b.err = err
		return b
	}
	b.detector = detector
	b.profiler = prof
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine. On failure any session opened along the way is closed.
//
// Returns:
//   - Engine: The engine, reporting profiles until closed.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if !b.HasError() && b.detector == nil {
		b.err = errors.New("detector not configured")
	}
	if b.HasError() {
		if b.runner != nil {
			return nil, multierr.Append(b.err, b.runner.Close())
		}
		return nil, b.err
	}

	b.profiler.Start()
	return &engine{
		detector: b.detector,
		profiler: b.profiler,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	detector *detectors.Detector
	profiler *profiler.Profiler
}

// Predict predicts the detections of query in img.
func (e *engine) Predict(ctx context.Context, img image.Image, query string) ([]postprocess.Detections, error) {
	detections, err := e.detector.Predict(ctx, img, query)
	if err != nil {
		return nil, err
	}
	return []postprocess.Detections{detections}, nil
}

// Close stops profiling and releases the session.
func (e *engine) Close() error {
	e.profiler.Stop()
	e.profiler.Report()
	return e.detector.Close()
}
