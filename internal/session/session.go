// Package session owns the label a user sees. A single goroutine (Run)
// applies every state change: image selections and classification outcomes
// arrive as messages, and the label is never written from anywhere else.
package session

import (
	"context"
	"errors"
	"image"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/lesion-api/internal/acquisition"
	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/observer"
	"github.com/Brownie44l1/lesion-api/internal/pipeline"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

var (
	ErrNoImage = errors.New("no image selected")
	ErrBusy    = errors.New("classification already in progress")
	ErrClosed  = errors.New("session is not running")
)

// Classifier starts an asynchronous classification; *pipeline.Pipeline
// satisfies it.
type Classifier interface {
	Start(ctx context.Context, img image.Image) <-chan pipeline.Event
}

type outcome struct {
	event      pipeline.Event
	generation uint64
	done       chan State
}

type Session struct {
	id         uuid.UUID
	classifier Classifier
	events     observer.Subject

	cmds     chan func()
	outcomes chan outcome
	stopped  chan struct{}

	// owned by the Run goroutine
	state      State
	image      image.Image
	generation uint64
	runCtx     context.Context
}

func New(classifier Classifier, events observer.Subject) *Session {
	if events == nil {
		events = observer.NewEventPublisher()
	}
	return &Session{
		id:         uuid.New(),
		classifier: classifier,
		events:     events,
		cmds:       make(chan func()),
		outcomes:   make(chan outcome),
		stopped:    make(chan struct{}),
		state:      State{Image: NoImage, Classification: NotClassified},
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run applies commands and classification outcomes until ctx is done. It
// must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.cmds:
			cmd()
		case out := <-s.outcomes:
			s.apply(out)
		}
	}
}

// State returns a snapshot of the current state.
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := s.do(ctx, func() { reply <- s.state.clone() }); err != nil {
		return State{}, err
	}
	return <-reply, nil
}

// Select waits for src to produce at most one image and makes it the
// current image. A dismissed source leaves the state untouched; a source
// that fails to decode records the error and also leaves the image as is.
func (s *Session) Select(ctx context.Context, src acquisition.Source) (State, error) {
	var (
		sel    acquisition.Selection
		picked bool
	)
	select {
	case sel, picked = <-src.Acquire(ctx):
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	reply := make(chan State, 1)
	var selErr error
	err := s.do(ctx, func() {
		switch {
		case !picked:
		case sel.Err != nil || preprocess.IsNil(sel.Image):
			selErr = sel.Err
			if selErr == nil {
				selErr = apperrors.NewDecodeError("source produced no image", nil)
			}
			s.recordError(selErr)
			s.publish(observer.ClassificationEvent{
				EventType:    observer.ImageRejected,
				ErrorType:    string(apperrors.TypeOf(selErr)),
				ErrorMessage: selErr.Error(),
				Metadata:     map[string]interface{}{"image_name": sel.Name},
			})
		default:
			s.image = sel.Image
			s.generation++
			s.state.Image = ImageSelected
			s.state.Classification = NotClassified
			s.state.ImageName = sel.Name
			s.state.LastError = ""
			s.state.LastErrorType = ""
			b := sel.Image.Bounds()
			s.publish(observer.ClassificationEvent{
				EventType: observer.ImageSelected,
				Metadata: map[string]interface{}{
					"image_name": sel.Name,
					"width":      b.Dx(),
					"height":     b.Dy(),
				},
			})
		}
		reply <- s.state.clone()
	})
	if err != nil {
		return State{}, err
	}
	return <-reply, selErr
}

// Predict classifies the current image. The returned channel yields the
// state once the outcome has been applied. Without an image, or while a
// classification is running, nothing changes and an error is returned.
func (s *Session) Predict(ctx context.Context) (<-chan State, error) {
	done := make(chan State, 1)
	var predictErr error
	err := s.do(ctx, func() {
		if s.image == nil {
			predictErr = ErrNoImage
			return
		}
		if s.state.Busy {
			predictErr = ErrBusy
			return
		}
		s.state.Busy = true
		s.publish(observer.ClassificationEvent{EventType: observer.ClassificationStarted})

		events := s.classifier.Start(context.WithoutCancel(s.runCtx), s.image)
		go s.forward(events, s.generation, done)
	})
	if err != nil {
		return nil, err
	}
	if predictErr != nil {
		return nil, predictErr
	}
	return done, nil
}

// PredictAndWait runs Predict and blocks until its outcome is applied.
func (s *Session) PredictAndWait(ctx context.Context) (State, error) {
	done, err := s.Predict(ctx)
	if err != nil {
		return State{}, err
	}
	select {
	case st := <-done:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.stopped:
		return State{}, ErrClosed
	}
}

func (s *Session) forward(events <-chan pipeline.Event, generation uint64, done chan State) {
	ev, ok := <-events
	if !ok {
		ev = pipeline.Failed{Err: apperrors.NewInternalError("classifier closed without a result", nil)}
	}
	select {
	case s.outcomes <- outcome{event: ev, generation: generation, done: done}:
	case <-s.stopped:
	}
}

func (s *Session) apply(out outcome) {
	s.state.Busy = false

	switch ev := out.event.(type) {
	case pipeline.Completed:
		if out.generation != s.generation {
			logger.WithFields(logrus.Fields{
				"session_id":        s.id.String(),
				"classification_id": ev.ID.String(),
				"label":             ev.Label(),
			}).Info("Discarding result for a replaced image")
			break
		}
		s.state.Classification = Classified
		s.state.Label = ev.Result.Label
		s.state.Confidence = ev.Result.Confidence
		s.state.Predictions = ev.Result.Predictions
		s.state.LastError = ""
		s.state.LastErrorType = ""
		s.publish(observer.ClassificationEvent{
			EventType:        observer.ClassificationCompleted,
			ClassificationID: ev.ID,
			Label:            ev.Result.Label,
			Confidence:       ev.Result.Confidence,
			ProcessingTime:   ev.Duration,
		})
	case pipeline.Failed:
		if out.generation != s.generation {
			logger.WithError(ev.Err).WithFields(logrus.Fields{
				"session_id":        s.id.String(),
				"classification_id": ev.ID.String(),
			}).Info("Discarding failure for a replaced image")
			break
		}
		s.recordError(ev.Err)
		s.publish(observer.ClassificationEvent{
			EventType:        observer.ClassificationFailed,
			ClassificationID: ev.ID,
			ProcessingTime:   ev.Duration,
			ErrorType:        string(apperrors.TypeOf(ev.Err)),
			ErrorMessage:     ev.Err.Error(),
		})
	}

	out.done <- s.state.clone()
}

func (s *Session) recordError(err error) {
	s.state.LastError = err.Error()
	s.state.LastErrorType = string(apperrors.TypeOf(err))
}

func (s *Session) publish(event observer.ClassificationEvent) {
	event.SessionID = s.id
	s.events.NotifyObservers(s.runCtx, event)
}

// do runs fn on the Run goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
	<-finished
	return nil
}
