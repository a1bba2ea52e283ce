package model

import (
	"encoding/json"
	"fmt"
	"os"
)

func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = LayoutNCHW
	}
	if m.ResizeMode == "" {
		m.ResizeMode = ResizeStretch
	}
	if m.ImageSize == 0 && len(m.InputShape) == 4 {
		if m.Layout == LayoutNHWC {
			m.ImageSize = int(m.InputShape[1])
		} else {
			m.ImageSize = int(m.InputShape[2])
		}
	}
}

func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must have 4 dimensions, got %v", m.InputShape)
	}
	for _, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("input_shape dimensions must be positive, got %v", m.InputShape)
		}
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("output_shape is empty")
	}
	if len(m.Classes) == 0 {
		return fmt.Errorf("classes is empty")
	}
	if out := ElementCount(m.OutputShape); out < int64(len(m.Classes)) {
		return fmt.Errorf("output_shape %v holds %d values, fewer than %d classes", m.OutputShape, out, len(m.Classes))
	}
	if m.Layout != LayoutNCHW && m.Layout != LayoutNHWC {
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	if m.ResizeMode != ResizeStretch && m.ResizeMode != ResizeFill {
		return fmt.Errorf("unknown resize_mode %q", m.ResizeMode)
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive")
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input_shape batch dimension must be 1, got %d", m.InputShape[0])
	}
	h, w := m.spatial()
	if h != w || int64(m.ImageSize) != h {
		return fmt.Errorf("image_size %d does not match input_shape %v", m.ImageSize, m.InputShape)
	}
	ch := m.Channels()
	if ch != 1 && ch != 3 {
		return fmt.Errorf("unsupported channel count %d", ch)
	}
	if len(m.Mean) != 0 && len(m.Mean) != ch {
		return fmt.Errorf("mean has %d values for %d channels", len(m.Mean), ch)
	}
	if len(m.Std) != 0 && len(m.Std) != ch {
		return fmt.Errorf("std has %d values for %d channels", len(m.Std), ch)
	}
	for _, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("std must not contain zero")
		}
	}
	return nil
}

func (m Metadata) Channels() int {
	if len(m.InputShape) != 4 {
		return 0
	}
	if m.Layout == LayoutNHWC {
		return int(m.InputShape[3])
	}
	return int(m.InputShape[1])
}

func (m Metadata) spatial() (h, w int64) {
	if m.Layout == LayoutNHWC {
		return m.InputShape[1], m.InputShape[2]
	}
	return m.InputShape[2], m.InputShape[3]
}

// InputSize is the number of float32 values the model expects.
func (m Metadata) InputSize() int {
	return int(ElementCount(m.InputShape))
}

func ElementCount(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
