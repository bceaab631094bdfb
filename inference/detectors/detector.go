// Package detectors - grounded detection over an inference session.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
	"github.com/mcvella/grounding-dino/profiler"
)

// Profiled operation names.
const (
	OperationPreprocess  = "preprocess"
	OperationInference   = "inference"
	OperationPostprocess = "postprocess"
	MetricDetections     = "detections"
)

// Runner executes a model graph; *providers.Session implements it.
type Runner interface {
	Run(inputs []model.Tensor) (map[string]model.Tensor, error)
	Close() error
}

// Detector runs a model over a session: preprocess, run, postprocess, then optional NMS.
type Detector struct {
	model    model.Model
	runner   Runner
	config   Config
	profiler *profiler.Profiler

	// mu serializes session runs; outputs are allocated per run.
	mu     sync.Mutex
	closed bool
}

// NewDetector creates a detector.
//
// Arguments:
//   - m: The model converting between images, queries and tensors.
//   - runner: The session running the model graph. The detector owns it and closes it.
//   - config: The detector configuration.
//   - prof: Records stage timings. nil disables profiling.
//
// Returns:
//   - *Detector: The detector.
//   - error: An error if an argument is missing or the configuration is invalid.
func NewDetector(m model.Model, runner Runner, config Config, prof *profiler.Profiler) (*Detector, error) {
	if m == nil {
		return nil, errors.New("model not configured")
	}
	if runner == nil {
		return nil, errors.New("session not configured")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Detector{model: m, runner: runner, config: config, profiler: prof}, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Predict detects the phrases of query in img.
//
// The context is checked before each stage. The session run itself cannot be interrupted.
//
// Arguments:
//   - ctx: The request context.
//   - img: The image to search.
//   - query: Period separated phrases, e.g. "a person. a dog.".
//
// Returns:
//   - postprocess.Detections: Boxes in img's pixel frame, in model query order.
//   - error: An error if any stage fails or ctx is done.
func (d *Detector) Predict(ctx context.Context, img image.Image, query string) (postprocess.Detections, error) {
	if err := ctx.Err(); err != nil {
		return postprocess.Detections{}, err
	}

	done := d.track(OperationPreprocess)
	batch, err := d.model.PreProcess(img, query)
	done()
	if err != nil {
		return postprocess.Detections{}, fmt.Errorf("failed to preprocess: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return postprocess.Detections{}, err
	}

	outputs, err := d.run(batch.Inputs)
	if err != nil {
		return postprocess.Detections{}, fmt.Errorf("failed to run inference: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return postprocess.Detections{}, err
	}

	done = d.track(OperationPostprocess)
	detections, err := d.model.PostProcess(outputs, batch, d.config.Thresholds())
	if err == nil && d.config.NMS.Enabled() {
		detections = postprocess.FromResults(postprocess.ApplyNMS(detections.Results(), d.config.NMS))
	}
	done()
	if err != nil {
		return postprocess.Detections{}, fmt.Errorf("failed to postprocess: %w", err)
	}

	if d.profiler != nil {
		d.profiler.RecordMetric(MetricDetections, float64(detections.Len()))
	}
	return detections, nil
}

func (d *Detector) run(inputs []model.Tensor) (map[string]model.Tensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("detector is closed")
	}
	defer d.track(OperationInference)()
	return d.runner.Run(inputs)
}

func (d *Detector) track(operation string) func() {
	if d.profiler == nil {
		return func() {}
	}
	return d.profiler.StartOperation(operation)
}

// Close releases the session. It waits for a running inference to finish.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.runner.Close()
}
