package model

import (
	"sync"

	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/logger"

	"github.com/sirupsen/logrus"
)

// OpenFunc opens a fresh Engine from the bundled artifact.
type OpenFunc func() (Engine, error)

// Loader hands out a model Engine, opening it lazily on first use. With
// caching enabled the engine is kept for later calls; otherwise every
// Acquire opens a new engine and the release func closes it. A failed open
// is never cached, so the next call tries again.
type Loader struct {
	open  OpenFunc
	cache bool

	mu     sync.Mutex
	engine Engine
}

func NewLoader(open OpenFunc, cache bool) *Loader {
	return &Loader{open: open, cache: cache}
}

// NewONNXLoader opens engines from an ONNX model and its metadata sidecar.
func NewONNXLoader(modelPath, metadataPath, libPath string, cache bool) *Loader {
	return NewLoader(func() (Engine, error) {
		return NewServer(modelPath, metadataPath, libPath)
	}, cache)
}

// Acquire returns a loaded engine and a func the caller must invoke when
// done with it. Load failures come back as model_load AppErrors.
func (l *Loader) Acquire() (Engine, func(), error) {
	if !l.cache {
		engine, err := l.openEngine()
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { closeEngine(engine) }, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		engine, err := l.openEngine()
		if err != nil {
			return nil, nil, err
		}
		l.engine = engine
	}
	return l.engine, func() {}, nil
}

// Metadata loads the engine if needed and returns its metadata.
func (l *Loader) Metadata() (Metadata, error) {
	engine, release, err := l.Acquire()
	if err != nil {
		return Metadata{}, err
	}
	defer release()
	return engine.Metadata(), nil
}

// Close releases a cached engine, if any.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return nil
	}
	err := l.engine.Close()
	l.engine = nil
	return err
}

func (l *Loader) openEngine() (Engine, error) {
	engine, err := l.open()
	if err != nil {
		logger.WithError(err).Error("Failed to load model")
		return nil, apperrors.NewModelLoadError("failed to load model", err)
	}
	meta := engine.Metadata()
	logger.WithFields(logrus.Fields{
		"classes":     meta.Classes,
		"input_shape": meta.InputShape,
		"cached":      l.cache,
	}).Debug("Model loaded")
	return engine, nil
}

func closeEngine(engine Engine) {
	if err := engine.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close model engine")
	}
}
