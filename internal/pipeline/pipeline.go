package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

// ErrNoImage is returned when Classify is called without an image. It is a
// caller precondition, not a classification failure.
var ErrNoImage = errors.New("no image selected")

// ModelProvider hands out a loaded engine; *model.Loader satisfies it.
type ModelProvider interface {
	Acquire() (model.Engine, func(), error)
}

// Pipeline classifies one image at a time against the bundled model.
type Pipeline struct {
	models ModelProvider
}

func New(models ModelProvider) *Pipeline {
	return &Pipeline{models: models}
}

// Classify runs a single forward pass for img and returns the ranked result.
// Failures are decode, model_load or inference AppErrors and are not retried.
func (p *Pipeline) Classify(ctx context.Context, img image.Image) (*model.Classification, error) {
	if preprocess.IsNil(img) {
		return nil, ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	engine, release, err := p.models.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	meta := engine.Metadata()
	input, err := preprocess.Tensor(img, meta)
	if err != nil {
		return nil, err
	}

	return infer(engine, meta, input)
}

// ClassifyTensor runs the model on an already prepared input tensor.
func (p *Pipeline) ClassifyTensor(ctx context.Context, input []float32) (*model.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	engine, release, err := p.models.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	meta := engine.Metadata()
	if want := meta.InputSize(); len(input) != want {
		return nil, apperrors.NewValidationError(fmt.Sprintf("expected %d values, got %d", want, len(input)), nil)
	}
	return infer(engine, meta, input)
}

// classifyRecovered runs Classify and turns a panic into an internal error so
// a misbehaving image or engine cannot take the process down.
func (p *Pipeline) classifyRecovered(ctx context.Context, img image.Image) (result *model.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = apperrors.NewInternalError(fmt.Sprintf("classification panicked: %v", r), nil)
		}
	}()
	return p.Classify(ctx, img)
}

func infer(engine model.Engine, meta model.Metadata, input []float32) (*model.Classification, error) {
	scores, err := engine.Run(input)
	if err != nil {
		return nil, apperrors.NewInferenceError("model run failed", err)
	}
	result, err := model.Rank(scores, meta)
	if err != nil {
		return nil, apperrors.NewInferenceError("unusable model output", err)
	}
	return result, nil
}

// Start classifies img on its own goroutine. The returned channel yields
// exactly one Completed or Failed event and is then closed.
func (p *Pipeline) Start(ctx context.Context, img image.Image) <-chan Event {
	events := make(chan Event, 1)
	id := uuid.New()

	go func() {
		defer close(events)
		started := time.Now()

		result, err := p.classifyRecovered(ctx, img)
		elapsed := time.Since(started)
		fields := logrus.Fields{
			"classification_id": id.String(),
			"duration_ms":       elapsed.Milliseconds(),
		}

		if err != nil {
			fields["error_type"] = apperrors.TypeOf(err)
			logger.WithError(err).WithFields(fields).Error("Classification failed")
			events <- Failed{ID: id, Err: err, Duration: elapsed}
			return
		}

		fields["label"] = result.Label
		fields["confidence"] = result.Confidence
		logger.WithFields(fields).Info("Classification completed")
		events <- Completed{ID: id, Result: *result, Duration: elapsed}
	}()

	return events
}
