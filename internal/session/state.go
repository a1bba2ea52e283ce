package session

import "github.com/Brownie44l1/lesion-api/internal/model"

type ImageState string

const (
	NoImage       ImageState = "no_image"
	ImageSelected ImageState = "image_selected"
)

type ClassificationState string

const (
	NotClassified ClassificationState = "not_classified"
	Classified    ClassificationState = "classified"
)

// State is what the screen renders. Label keeps the last successful
// classification until a new one completes, even across image changes.
type State struct {
	Image          ImageState          `json:"image"`
	Classification ClassificationState `json:"classification"`
	ImageName      string              `json:"image_name,omitempty"`
	Label          string              `json:"label,omitempty"`
	Confidence     float32             `json:"confidence,omitempty"`
	Predictions    []model.Prediction  `json:"predictions,omitempty"`
	Busy           bool                `json:"busy"`
	LastError      string              `json:"last_error,omitempty"`
	LastErrorType  string              `json:"last_error_type,omitempty"`
}

// CanPredict reports whether the predict action is enabled.
func (s State) CanPredict() bool {
	return s.Image == ImageSelected && !s.Busy
}

// Placeholder is shown in place of the image preview.
func (s State) Placeholder() string {
	if s.Image == NoImage {
		return "No Image Selected"
	}
	return ""
}

// Caption is the result line under the buttons; empty until a label exists.
func (s State) Caption() string {
	if s.Label == "" {
		return ""
	}
	return "Classification: " + s.Label
}

func (s State) clone() State {
	c := s
	if s.Predictions != nil {
		c.Predictions = append([]model.Prediction(nil), s.Predictions...)
	}
	return c
}
