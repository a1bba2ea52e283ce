package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lesionMeta() Metadata {
	return Metadata{Classes: []string{"benign", "malignant"}}
}

func TestRank_OrdersByConfidence(t *testing.T) {
	result, err := Rank([]float32{0.2, 0.8}, lesionMeta())
	require.NoError(t, err)

	assert.Equal(t, "malignant", result.Label)
	assert.InDelta(t, 0.8, result.Confidence, 1e-6)
	require.Len(t, result.Predictions, 2)
	assert.Equal(t, "malignant", result.Predictions[0].Label)
	assert.Equal(t, "benign", result.Predictions[1].Label)
}

func TestRank_TiesKeepClassOrder(t *testing.T) {
	result, err := Rank([]float32{0.5, 0.5}, lesionMeta())
	require.NoError(t, err)
	assert.Equal(t, "benign", result.Label)
}

func TestRank_IgnoresExtraScores(t *testing.T) {
	result, err := Rank([]float32{0.9, 0.1, 5.0}, lesionMeta())
	require.NoError(t, err)
	assert.Equal(t, "benign", result.Label)
	assert.Len(t, result.Predictions, 2)
}

func TestRank_Softmax(t *testing.T) {
	meta := lesionMeta()
	meta.ApplySoftmax = true

	result, err := Rank([]float32{2, 0}, meta)
	require.NoError(t, err)

	want := float32(math.Exp(2) / (math.Exp(2) + 1))
	assert.Equal(t, "benign", result.Label)
	assert.InDelta(t, want, result.Confidence, 1e-5)

	var sum float32
	for _, p := range result.Predictions {
		sum += p.Confidence
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestRank_Errors(t *testing.T) {
	_, err := Rank([]float32{0.1}, lesionMeta())
	assert.ErrorContains(t, err, "1 scores for 2 classes")

	_, err = Rank([]float32{float32(math.NaN()), 0.1}, lesionMeta())
	assert.ErrorContains(t, err, "NaN")

	_, err = Rank([]float32{0.1}, Metadata{})
	assert.ErrorContains(t, err, "no classes")
}
