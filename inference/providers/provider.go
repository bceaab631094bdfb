// Package providers - Provider interface for execution providers.
package providers

import (
	"fmt"
	"runtime"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

// AutoProviderBackend picks the best available accelerator and falls back to the CPU.
const AutoProviderBackend ProviderBackend = "auto"

// Backends lists every backend a configuration may name.
var Backends = []ProviderBackend{
	AutoProviderBackend,
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
	// Apply registers the provider on session options. It fails when the linked ONNX Runtime
	// build does not include the provider.
	Apply(options *ort.SessionOptions) error
}

// NewProvider creates a new provider based on the required backend.
//
// Arguments:
//   - options: The options for the provider.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the provider creation fails.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case CPUOptions:
		return NewCPUProvider(opts), nil
	case CoreMLOptions:
		return NewCoreMLProvider(opts), nil
	case OpenVINOOptions:
		return NewOpenVINOProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider options type: %T", opts)
	}
}

// ParseBackend maps a configured device name to a backend; empty means auto.
func ParseBackend(device string) (ProviderBackend, error) {
	backend := ProviderBackend(strings.ToLower(strings.TrimSpace(device)))
	if backend == "" {
		return AutoProviderBackend, nil
	}
	for _, known := range Backends {
		if backend == known {
			return backend, nil
		}
	}
	return "", fmt.Errorf("unknown device %q, expected one of %v", device, Backends)
}

// Candidates returns the providers to try, in order, for a backend. The CPU provider always comes
// last so a session can be created when no accelerator is usable.
//
// Arguments:
//   - backend: The requested backend.
//   - goos: The operating system; CoreML is only tried on darwin for auto.
//
// Returns:
//   - []ExecutionProvider: The providers in preference order.
func Candidates(backend ProviderBackend, goos string) []ExecutionProvider {
	cpu := NewCPUProvider(CPUOptions{})
	switch backend {
	case CPUProviderBackend:
		return []ExecutionProvider{cpu}
	case CUDAProviderBackend:
		return []ExecutionProvider{NewCUDAProvider(DefaultCUDAOptions()), cpu}
	case CoreMLProviderBackend:
		return []ExecutionProvider{NewCoreMLProvider(CoreMLOptions{}), cpu}
	case OpenVINOProviderBackend:
		return []ExecutionProvider{NewOpenVINOProvider(DefaultOpenVINOOptions()), cpu}
	default:
		candidates := []ExecutionProvider{NewCUDAProvider(DefaultCUDAOptions())}
		if goos == "darwin" {
			candidates = append(candidates, NewCoreMLProvider(CoreMLOptions{}))
		}
		return append(candidates, cpu)
	}
}

// PlatformCandidates is Candidates for the running platform.
func PlatformCandidates(backend ProviderBackend) []ExecutionProvider {
	return Candidates(backend, runtime.GOOS)
}
