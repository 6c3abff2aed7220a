// Package inference - ONNX Runtime environment and model sessions.
package inference

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-insights/inference/providers"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initialises the process-wide ONNX Runtime environment.
//
// Only the first call does any work; later calls return the first call's
// result, whatever library path they pass.
//
// Arguments:
//   - libPath: Path to the onnxruntime shared library.
//
// Returns:
//   - error: If the library is missing or the environment fails to start.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if _, err := os.Stat(libPath); err != nil {
			runtimeErr = fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("error initializing ORT environment: %w", err)
		}
	})
	return runtimeErr
}

// TensorSpec names a model input or output and its fixed shape.
type TensorSpec struct {
	Name  string
	Shape []int64
}

// SessionSpec describes a model with preallocated float32 tensors.
type SessionSpec struct {
	ModelPath string
	Inputs    []TensorSpec
	Outputs   []TensorSpec
	Provider  providers.Config
}

// Session represents a model session from the onnxruntime with its bound
// input and output tensors.
type Session struct {
	Session *ort.AdvancedSession
	Inputs  []*ort.Tensor[float32]
	Outputs []*ort.Tensor[float32]
}

// NewSession creates an ORT session with preallocated tensors.
//
// InitRuntime must have succeeded first.
//
// Arguments:
//   - spec: Model path, tensor names/shapes and provider settings.
//
// Returns:
//   - *Session: The session. Close it to release native memory.
//   - error: If any tensor or the session itself cannot be created.
func NewSession(spec SessionSpec) (*Session, error) {
	s := &Session{}

	inputs := make([]ort.ArbitraryTensor, 0, len(spec.Inputs))
	inNames := make([]string, 0, len(spec.Inputs))
	for _, in := range spec.Inputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(in.Shape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("error creating input tensor %q: %w", in.Name, err)
		}
		s.Inputs = append(s.Inputs, t)
		inputs = append(inputs, t)
		inNames = append(inNames, in.Name)
	}

	outputs := make([]ort.ArbitraryTensor, 0, len(spec.Outputs))
	outNames := make([]string, 0, len(spec.Outputs))
	for _, out := range spec.Outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(out.Shape...))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("error creating output tensor %q: %w", out.Name, err)
		}
		s.Outputs = append(s.Outputs, t)
		outputs = append(outputs, t)
		outNames = append(outNames, out.Name)
	}

	options, err := providers.SessionOptions(spec.Provider)
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(spec.ModelPath, inNames, outNames, inputs, outputs, options)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error creating ORT session for %s: %w", spec.ModelPath, err)
	}
	s.Session = session
	return s, nil
}

// Run executes the model over the bound tensors.
func (s *Session) Run() error {
	if s.Session == nil {
		return fmt.Errorf("session is closed")
	}
	return s.Session.Run()
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	for _, t := range s.Inputs {
		t.Destroy()
	}
	s.Inputs = nil
	for _, t := range s.Outputs {
		t.Destroy()
	}
	s.Outputs = nil
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}
