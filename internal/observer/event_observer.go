package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/lesion-api/internal/logger"
)

// ClassificationEvent describes one step of a session's image/label flow.
type ClassificationEvent struct {
	EventType        EventType              `json:"event_type"`
	Timestamp        time.Time              `json:"timestamp"`
	SessionID        uuid.UUID              `json:"session_id"`
	ClassificationID uuid.UUID              `json:"classification_id,omitempty"`
	Label            string                 `json:"label,omitempty"`
	Confidence       float32                `json:"confidence,omitempty"`
	ProcessingTime   time.Duration          `json:"processing_time"`
	ErrorType        string                 `json:"error_type,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

type EventType string

const (
	ImageSelected           EventType = "image_selected"
	ImageRejected           EventType = "image_rejected"
	ClassificationStarted   EventType = "classification_started"
	ClassificationCompleted EventType = "classification_completed"
	ClassificationFailed    EventType = "classification_failed"
)

type Observer interface {
	OnEvent(ctx context.Context, event ClassificationEvent)
	GetObserverName() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ClassificationEvent)
}

// LoggingObserver logs classification events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"session_id":      event.SessionID.String(),
		"processing_time": event.ProcessingTime,
	}
	if event.ClassificationID != uuid.Nil {
		fields["classification_id"] = event.ClassificationID.String()
	}
	if event.Label != "" {
		fields["label"] = event.Label
		fields["confidence"] = event.Confidence
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
		fields["error_type"] = event.ErrorType
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ImageSelected:
		entry.Debug("Image selected")
	case ImageRejected:
		entry.Warn("Image rejected")
	case ClassificationStarted:
		entry.Debug("Classification started")
	case ClassificationCompleted:
		entry.Info("Classification completed")
	case ClassificationFailed:
		entry.Error("Classification failed")
	default:
		entry.Info("Classification event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from classification events
type MetricsObserver struct {
	mu                  sync.RWMutex
	imagesSelected      int64
	imagesRejected      int64
	started             int64
	completed           int64
	failed              int64
	failuresByType      map[string]int64
	labels              map[string]int64
	totalProcessingTime time.Duration
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		failuresByType: make(map[string]int64),
		labels:         make(map[string]int64),
	}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ImageSelected:
		o.imagesSelected++
	case ImageRejected:
		o.imagesRejected++
	case ClassificationStarted:
		o.started++
	case ClassificationCompleted:
		o.completed++
		o.labels[event.Label]++
		o.totalProcessingTime += event.ProcessingTime
	case ClassificationFailed:
		o.failed++
		o.failuresByType[event.ErrorType]++
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// Metrics is a point-in-time copy of the collected counters.
type Metrics struct {
	ImagesSelected          int64            `json:"images_selected"`
	ImagesRejected          int64            `json:"images_rejected"`
	ClassificationsStarted  int64            `json:"classifications_started"`
	ClassificationsComplete int64            `json:"classifications_completed"`
	ClassificationsFailed   int64            `json:"classifications_failed"`
	FailuresByType          map[string]int64 `json:"failures_by_type"`
	Labels                  map[string]int64 `json:"labels"`
	AvgProcessingTimeMs     int64            `json:"avg_processing_time_ms"`
}

func (o *MetricsObserver) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var avg time.Duration
	if o.completed > 0 {
		avg = o.totalProcessingTime / time.Duration(o.completed)
	}

	m := Metrics{
		ImagesSelected:          o.imagesSelected,
		ImagesRejected:          o.imagesRejected,
		ClassificationsStarted:  o.started,
		ClassificationsComplete: o.completed,
		ClassificationsFailed:   o.failed,
		FailuresByType:          make(map[string]int64, len(o.failuresByType)),
		Labels:                  make(map[string]int64, len(o.labels)),
		AvgProcessingTimeMs:     avg.Milliseconds(),
	}
	for k, v := range o.failuresByType {
		m.FailuresByType[k] = v
	}
	for k, v := range o.labels {
		m.Labels[k] = v
	}
	return m
}

// EventPublisher fans events out to observers synchronously, in order.
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

func (p *EventPublisher) NotifyObservers(ctx context.Context, event ClassificationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, obs := range observers {
		notify(ctx, obs, event)
	}
}

func notify(ctx context.Context, obs Observer, event ClassificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"observer": obs.GetObserverName(),
				"panic":    fmt.Sprint(r),
			}).Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
