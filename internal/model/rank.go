package model

import (
	"fmt"
	"math"
	"sort"
)

// Rank pairs raw output scores with class labels and orders them by
// confidence, highest first. Ties keep class order.
func Rank(scores []float32, meta Metadata) (*Classification, error) {
	if len(meta.Classes) == 0 {
		return nil, fmt.Errorf("metadata has no classes")
	}
	if len(scores) < len(meta.Classes) {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(scores), len(meta.Classes))
	}
	values := scores[:len(meta.Classes)]
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			return nil, fmt.Errorf("score for class %q is NaN", meta.Classes[i])
		}
	}
	if meta.ApplySoftmax {
		values = softmax(values)
	}

	predictions := make([]Prediction, len(meta.Classes))
	for i, class := range meta.Classes {
		predictions[i] = Prediction{Label: class, Confidence: values[i]}
	}
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})

	return &Classification{
		Label:       predictions[0].Label,
		Confidence:  predictions[0].Confidence,
		Predictions: predictions,
	}, nil
}

func softmax(in []float32) []float32 {
	maxVal := in[0]
	for _, v := range in[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float32, len(in))
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
