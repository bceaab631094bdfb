// Package providers - ONNX Runtime shared library and environment setup.
package providers

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Environment variables naming the ONNX Runtime shared library, checked in order.
const (
	EnvSharedLibraryPath      = "ORT_SHARED_LIBRARY_PATH"
	EnvONNXRuntimeLibraryPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"
)

var (
	environmentOnce sync.Once
	environmentErr  error
)

// GetSharedLibPath returns the path to the ONNX Runtime shared library.
//
// The environment wins over the platform default. A default is a bare library name, resolved by
// the dynamic loader search path.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	for _, key := range []string{EnvSharedLibraryPath, EnvONNXRuntimeLibraryPath} {
		if path := os.Getenv(key); path != "" {
			return path
		}
	}
	return DefaultSharedLibName(runtime.GOOS)
}

// DefaultSharedLibName returns the ONNX Runtime library name for an operating system.
func DefaultSharedLibName(goos string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// InitializeEnvironment loads the ONNX Runtime library and prepares its environment. It runs once
// per process; later calls return the first result.
func InitializeEnvironment() error {
	environmentOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		libPath := GetSharedLibPath()
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			environmentErr = fmt.Errorf("error initializing ORT environment with %s: %w", libPath, err)
		}
	})
	return environmentErr
}
