package providers

import (
	"os"
	"path/filepath"
	"runtime"
)

// SharedLibEnv overrides the onnxruntime shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the onnxruntime shared library.
//
// Arguments:
//   - override: An explicit path from configuration. Takes precedence when set.
//
// Returns:
//   - string: The path to the shared library. It is not checked for existence.
func GetSharedLibPath(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv(SharedLibEnv); env != "" {
		return env
	}
	dir := "third_party"
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(dir, "onnxruntime.dll")
	case "darwin":
		return filepath.Join(dir, "libonnxruntime.dylib")
	default:
		if runtime.GOARCH == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.so")
		}
		return filepath.Join(dir, "onnxruntime.so")
	}
}
