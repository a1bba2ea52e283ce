package model

const (
	LayoutNCHW = "nchw"
	LayoutNHWC = "nhwc"

	ResizeStretch = "stretch"
	ResizeFill    = "fill"
)

// Metadata describes the bundled classifier: tensor shapes, label set and
// how an image must be prepared before it is fed to the model.
type Metadata struct {
	InputShape   []int64   `json:"input_shape"`
	OutputShape  []int64   `json:"output_shape"`
	Classes      []string  `json:"classes"`
	ImageSize    int       `json:"image_size"`
	InputName    string    `json:"input_name,omitempty"`
	OutputName   string    `json:"output_name,omitempty"`
	Layout       string    `json:"layout,omitempty"`
	ResizeMode   string    `json:"resize_mode,omitempty"`
	Mean         []float32 `json:"mean,omitempty"`
	Std          []float32 `json:"std,omitempty"`
	ApplySoftmax bool      `json:"apply_softmax,omitempty"`
}

type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Classification is the ranked model output, highest confidence first.
// Label and Confidence mirror Predictions[0].
type Classification struct {
	Label       string       `json:"class"`
	Confidence  float32      `json:"confidence"`
	Predictions []Prediction `json:"predictions"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}
