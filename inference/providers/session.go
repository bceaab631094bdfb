// Package providers - Inference sessions.
package providers

import (
	"fmt"
	"os"

	"github.com/mcvella/grounding-dino/models/model"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Session represents a model session from the onnxruntime. Tensors are allocated per run, so the
// graph may take dynamic image and text shapes.
type Session struct {
	session  *ort.DynamicAdvancedSession
	provider ExecutionProvider
	inputs   []string
	outputs  []string
}

// Provider returns the execution provider the session was created with.
func (s *Session) Provider() ExecutionProvider {
	return s.provider
}

// Inputs returns the input names the session binds, in graph order.
func (s *Session) Inputs() []string {
	return s.inputs
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("error destroying ORT session: %w", err)
	}
	return nil
}

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The inputs the model may declare. Names the graph does not declare are dropped.
	Inputs []string
	// The outputs of the model.
	Outputs []string
	// Session settings; the zero value means DefaultOptimizationConfig.
	Optimization *OptimizationConfig
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Library path check and environment setup, once per process.
//  2. Input filtering: exports differ on whether they declare pixel_mask and token_type_ids.
//  3. Session creation with each candidate provider in turn. A provider the linked runtime cannot
//     enable is logged and skipped.
//
// Arguments:
//   - candidates: The providers to try, in order.
//   - args: The arguments for the session.
//   - logger: Receives the chosen device and any fallback.
//
// Returns:
//   - *Session: The runnable session.
//   - error: An error if no candidate could create a session.
func NewSession(candidates []ExecutionProvider, args NewSessionArgs, logger logging.Logger) (*Session, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no execution providers to create a session with")
	}
	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, fmt.Errorf("ONNX model not found at %s: %w", args.ModelPath, err)
	}
	if err := InitializeEnvironment(); err != nil {
		return nil, err
	}

	inputs, err := declaredInputs(args.ModelPath, args.Inputs)
	if err != nil {
		return nil, err
	}

	config := DefaultOptimizationConfig()
	if args.Optimization != nil {
		config = *args.Optimization
	}

	var errs error
	for i, provider := range candidates {
		session, err := newSession(provider, config, args.ModelPath, inputs, args.Outputs)
		if err == nil {
			logger.Infow("created ONNX session", "model", args.ModelPath, "device", provider.Backend())
			return &Session{session: session, provider: provider, inputs: inputs, outputs: args.Outputs}, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", provider.Backend(), err))
		if i+1 < len(candidates) {
			logger.Warnw("execution provider unavailable, falling back",
				"device", provider.Backend(), "next", candidates[i+1].Backend(), "error", err)
		}
	}
	return nil, fmt.Errorf("error creating ORT session: %w", errs)
}

func newSession(
	provider ExecutionProvider,
	config OptimizationConfig,
	path string,
	inputs, outputs []string,
) (*ort.DynamicAdvancedSession, error) {
	options, err := OptimizedSessionOptions(config, provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	return ort.NewDynamicAdvancedSession(path, inputs, outputs, options)
}

// declaredInputs keeps the wanted input names that the graph declares, in the wanted order.
func declaredInputs(path string, wanted []string) ([]string, error) {
	declared, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("error reading inputs of %s: %w", path, err)
	}
	names := make(map[string]bool, len(declared))
	for _, info := range declared {
		names[info.Name] = true
	}
	return FilterInputs(wanted, names)
}

// FilterInputs keeps the wanted names present in declared. It fails when a declared input is
// not wanted, since nothing could feed it.
func FilterInputs(wanted []string, declared map[string]bool) ([]string, error) {
	inputs := make([]string, 0, len(wanted))
	known := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		known[name] = true
		if declared[name] {
			inputs = append(inputs, name)
		}
	}
	for name := range declared {
		if !known[name] {
			return nil, fmt.Errorf("model declares unsupported input %q", name)
		}
	}
	return inputs, nil
}

// Run executes the graph. Inputs are matched by name; extra inputs are ignored. Outputs are
// copied out of native memory before returning.
//
// Arguments:
//   - inputs: The input tensors.
//
// Returns:
//   - map[string]model.Tensor: The outputs keyed by name.
//   - error: An error if a tensor could not be created or the run failed.
func (s *Session) Run(inputs []model.Tensor) (outputs map[string]model.Tensor, err error) {
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	byName := make(map[string]model.Tensor, len(inputs))
	for _, t := range inputs {
		byName[t.Name] = t
	}

	values := make([]ort.Value, 0, len(s.inputs))
	results := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range append(values, results...) {
			if v != nil {
				err = multierr.Append(err, v.Destroy())
			}
		}
	}()

	for _, name := range s.inputs {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		v, err := toValue(t)
		if err != nil {
			return nil, fmt.Errorf("error creating input %q: %w", name, err)
		}
		values = append(values, v)
	}

	if err := s.session.Run(values, results); err != nil {
		return nil, fmt.Errorf("error running ORT session: %w", err)
	}

	outputs = make(map[string]model.Tensor, len(s.outputs))
	for i, name := range s.outputs {
		t, err := fromValue(name, results[i])
		if err != nil {
			return nil, err
		}
		outputs[name] = t
	}
	return outputs, nil
}

func toValue(t model.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	if t.Int64 != nil {
		return ort.NewTensor(shape, t.Int64)
	}
	return ort.NewTensor(shape, t.Float32)
}

func fromValue(name string, v ort.Value) (model.Tensor, error) {
	switch tensor := v.(type) {
	case *ort.Tensor[float32]:
		return model.Tensor{
			Name:    name,
			Shape:   append([]int64(nil), tensor.GetShape()...),
			Float32: append([]float32(nil), tensor.GetData()...),
		}, nil
	case *ort.Tensor[int64]:
		return model.Tensor{
			Name:  name,
			Shape: append([]int64(nil), tensor.GetShape()...),
			Int64: append([]int64(nil), tensor.GetData()...),
		}, nil
	default:
		return model.Tensor{}, fmt.Errorf("output %q has unsupported type %T", name, v)
	}
}
