package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/lesion-api/internal/logger"
)

// Engine runs a single forward pass of a loaded classifier.
type Engine interface {
	Metadata() Metadata
	Run(input []float32) ([]float32, error)
	Close() error
}

var (
	envMu          sync.Mutex
	envInitialized bool
)

// InitEnvironment initializes the ONNX Runtime shared library once per
// process. libPath may be empty to use the library's default lookup.
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envInitialized {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envInitialized = true
	return nil
}

// ShutdownEnvironment releases the ONNX Runtime environment.
func ShutdownEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if !envInitialized {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		logger.WithError(err).Warn("Failed to destroy ONNX environment")
		return
	}
	envInitialized = false
}

// Server is an Engine backed by an ONNX Runtime session with bound tensors.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewServer(modelPath, metadataPath, libPath string) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model artifact unavailable: %w", err)
	}

	if err := InitEnvironment(libPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *Server) Metadata() Metadata {
	return s.metadata
}

// Run copies input into the bound input tensor and returns a copy of the
// output tensor. Calls are serialized because the tensors are shared.
func (s *Server) Run(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}
	data := s.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(input))
	}
	copy(data, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.session != nil {
		firstErr = s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		if err := s.inputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		if err := s.outputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.outputTensor = nil
	}
	return firstErr
}
