package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// Event is the outcome of one asynchronous classification.
type Event interface {
	ClassificationID() uuid.UUID
}

// Completed carries a successful classification.
type Completed struct {
	ID       uuid.UUID
	Result   model.Classification
	Duration time.Duration
}

func (e Completed) ClassificationID() uuid.UUID { return e.ID }

// Label is the top-ranked class.
func (e Completed) Label() string { return e.Result.Label }

// Failed carries a decode, model_load or inference error.
type Failed struct {
	ID       uuid.UUID
	Err      error
	Duration time.Duration
}

func (e Failed) ClassificationID() uuid.UUID { return e.ID }
